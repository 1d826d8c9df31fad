// Package domain holds the session model owned by the session manager.
package domain

import (
	"fmt"
	"time"

	"mowerhub/backend/internal/gateway"
)

// State is the session lifecycle state.
type State string

const (
	StateActive  State = "active"
	StateExpired State = "expired"
	StateInvalid State = "invalid"
)

// Session is one authenticated cloud session. Owned exclusively by the
// session manager; callers receive copies and never mutate it.
type Session struct {
	ID              string               `json:"id"`
	Token           gateway.SessionToken `json:"token"`
	Email           string               `json:"email"`
	CreatedAt       time.Time            `json:"created_at"`
	LastValidatedAt time.Time            `json:"last_validated_at"`
	State           State                `json:"state"`
}

// Touch advances LastValidatedAt to now, keeping it monotonically non-decreasing.
func (s *Session) Touch(now time.Time) {
	if now.After(s.LastValidatedAt) {
		s.LastValidatedAt = now
	}
}

// Age is how long the session has existed as of now.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// TokenExpired reports whether the cloud-issued token carries an expiry in the past.
func (s *Session) TokenExpired(now time.Time) bool {
	return !s.Token.ExpiresAt.IsZero() && now.After(s.Token.ExpiresAt)
}

// AuthErrorKind classifies an authentication failure.
type AuthErrorKind string

const (
	AuthInvalidCredentials AuthErrorKind = "invalid_credentials"
	AuthNetworkUnavailable AuthErrorKind = "network_unavailable"
	AuthSessionExpired     AuthErrorKind = "session_expired"
)

// AuthError is a classified authentication failure surfaced to callers.
type AuthError struct {
	Kind  AuthErrorKind
	Cause error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("auth failed (%s): %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("auth failed (%s)", e.Kind)
}

func (e *AuthError) Unwrap() error { return e.Cause }
