// Package gateway defines the opaque device-cloud capability the rest of the
// system depends on, plus the transient/terminal error classification used by
// every retry loop.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	devdomain "mowerhub/backend/internal/device/domain"
)

// Sentinel errors; retry loops treat these as terminal.
var (
	// ErrInvalidCredentials is returned by Authenticate for rejected credentials. Never retried.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDeviceNotFound is returned when the cloud does not know the device. Never retried.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrSessionExpired is returned when the cloud rejects the session token.
	ErrSessionExpired = errors.New("session expired")
)

// Credentials authenticate one user against the device cloud.
// Passed through to the cloud only; never persisted by this module.
type Credentials struct {
	Email    string
	Password string
}

// SessionToken is the opaque handle the cloud issues on login.
// ExpiresAt is zero when the cloud does not report an expiry.
type SessionToken struct {
	Value     string
	UserID    string
	ExpiresAt time.Time
}

// Ack is the cloud's acknowledgement of a command.
type Ack struct {
	CommandID  string
	AcceptedAt time.Time
}

// CloudGateway is the remote capability for authentication, commands, and
// status polling. All calls are fallible remote round trips; implementations
// must wrap network-level failures so IsTransient classifies them.
type CloudGateway interface {
	Authenticate(ctx context.Context, creds Credentials) (SessionToken, error)
	SendCommand(ctx context.Context, token SessionToken, deviceID string, kind devdomain.CommandKind) (Ack, error)
	FetchStatus(ctx context.Context, token SessionToken, deviceID string) (devdomain.DeviceState, error)
	ListDevices(ctx context.Context, token SessionToken) ([]devdomain.DeviceState, error)
}

// transientError wraps a cause that is safe to retry.
type transientError struct {
	cause error
}

func (e *transientError) Error() string { return fmt.Sprintf("transient: %v", e.cause) }
func (e *transientError) Unwrap() error { return e.cause }

// Transient marks err as retryable. Returns nil for nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{cause: err}
}

// IsTransient reports whether err may be retried. Explicitly marked transient
// errors, network errors, and timeouts qualify; sentinel terminal errors never do.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrDeviceNotFound) {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
