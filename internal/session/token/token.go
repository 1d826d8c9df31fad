// Package token extracts claims from cloud-issued session tokens. The cloud
// signs with keys this service does not hold, so tokens are parsed without
// signature verification; they are only forwarded back to the cloud, never
// trusted as local proof of identity.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is what the device cloud embeds in its session JWTs, when it issues
// JWTs at all.
type Claims struct {
	jwt.RegisteredClaims
}

// Inspect parses raw as a JWT and returns the subject and expiry.
// Opaque (non-JWT) tokens return zero values and ok=false; that is not an
// error, the cloud is free to issue any token format.
func Inspect(raw string) (subject string, expiresAt time.Time, ok bool) {
	parser := jwt.NewParser()
	var claims Claims
	if _, _, err := parser.ParseUnverified(raw, &claims); err != nil {
		return "", time.Time{}, false
	}
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return claims.Subject, expiresAt, true
}
