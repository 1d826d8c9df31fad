// Package service owns the authenticated cloud session: retrying login,
// health tracking, and the at-most-one-concurrent-authentication guarantee.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mowerhub/backend/internal/backoff"
	"mowerhub/backend/internal/gateway"
	"mowerhub/backend/internal/session/domain"
	"mowerhub/backend/internal/session/repository"
	"mowerhub/backend/internal/session/token"
)

// ErrNotAuthenticated is returned by EnsureSession before any Login has
// supplied credentials. Dispatch maps it to an Unavailable outcome.
var ErrNotAuthenticated = errors.New("no credentials; login first")

// attempt is one in-flight authentication sequence. Concurrent EnsureSession
// callers wait on done and share its outcome instead of logging in again.
// sess is a value copy taken under m.mu; it never aliases m.current, which
// keeps waiters' reads off the struct that Touch mutates.
type attempt struct {
	done chan struct{}
	sess domain.Session
	err  error
}

// Manager owns one authenticated session per user context.
type Manager struct {
	gw        gateway.CloudGateway
	snapshots repository.SnapshotRepository // nil disables persistence
	logger    *zap.Logger
	policy    backoff.Policy
	maxAge    time.Duration

	// test seams
	sleep func(context.Context, time.Duration) error
	now   func() time.Time

	mu          sync.Mutex
	creds       *gateway.Credentials
	current     *domain.Session
	inflight    *attempt
	probeFailed bool
}

// NewManager returns a Manager authenticating through gw with the given retry
// policy and session max age. snapshots may be nil.
func NewManager(gw gateway.CloudGateway, snapshots repository.SnapshotRepository, logger *zap.Logger, policy backoff.Policy, maxAge time.Duration) *Manager {
	return &Manager{
		gw:        gw,
		snapshots: snapshots,
		logger:    logger,
		policy:    policy,
		maxAge:    maxAge,
		sleep:     backoff.Sleep,
		now:       time.Now,
	}
}

// Login stores the credentials for later lazy re-authentication and ensures a
// live session. Credentials stay in memory only; they are never persisted.
func (m *Manager) Login(ctx context.Context, creds gateway.Credentials) (domain.Session, error) {
	m.mu.Lock()
	c := creds
	m.creds = &c
	m.mu.Unlock()
	return m.EnsureSession(ctx)
}

// EnsureSession returns the current healthy session, or authenticates with
// the stored credentials. At most one authentication sequence is in flight at
// a time; concurrent callers share its outcome.
func (m *Manager) EnsureSession(ctx context.Context) (domain.Session, error) {
	m.mu.Lock()
	if m.current != nil && m.healthyLocked() {
		m.current.Touch(m.now())
		s := *m.current
		m.mu.Unlock()
		return s, nil
	}
	if m.inflight != nil {
		att := m.inflight
		m.mu.Unlock()
		select {
		case <-att.done:
		case <-ctx.Done():
			return domain.Session{}, ctx.Err()
		}
		if att.err != nil {
			return domain.Session{}, att.err
		}
		return att.sess, nil
	}
	if m.creds == nil {
		m.mu.Unlock()
		return domain.Session{}, ErrNotAuthenticated
	}
	creds := *m.creds
	att := &attempt{done: make(chan struct{})}
	m.inflight = att
	m.mu.Unlock()

	sess, err := m.authenticate(ctx, creds)

	m.mu.Lock()
	att.err = err
	m.inflight = nil
	var out domain.Session
	if err == nil {
		m.current = sess
		m.probeFailed = false
		out = *sess
		att.sess = out
	}
	m.mu.Unlock()
	close(att.done)

	if err != nil {
		return domain.Session{}, err
	}
	m.persistAsync(out)
	return out, nil
}

// authenticate runs the retrying login sequence: up to MaxAttempts tries,
// doubling the delay between attempts. Terminal failures surface immediately.
func (m *Manager) authenticate(ctx context.Context, creds gateway.Credentials) (*domain.Session, error) {
	var lastErr error
	for att := 1; att <= m.policy.MaxAttempts; att++ {
		tok, err := m.gw.Authenticate(ctx, creds)
		if err == nil {
			now := m.now().UTC()
			if tok.ExpiresAt.IsZero() {
				if subject, exp, ok := token.Inspect(tok.Value); ok {
					tok.ExpiresAt = exp
					if tok.UserID == "" {
						tok.UserID = subject
					}
				}
			}
			m.logger.Info("authenticated",
				zap.String("email", creds.Email),
				zap.Int("attempt", att))
			return &domain.Session{
				ID:              uuid.New().String(),
				Token:           tok,
				Email:           creds.Email,
				CreatedAt:       now,
				LastValidatedAt: now,
				State:           domain.StateActive,
			}, nil
		}
		if errors.Is(err, gateway.ErrInvalidCredentials) {
			m.logger.Warn("authentication rejected", zap.String("email", creds.Email))
			return nil, &domain.AuthError{Kind: domain.AuthInvalidCredentials, Cause: err}
		}
		if !gateway.IsTransient(err) {
			return nil, fmt.Errorf("authenticate: %w", err)
		}
		lastErr = err
		m.logger.Warn("authentication attempt failed",
			zap.Int("attempt", att),
			zap.Int("budget", m.policy.MaxAttempts),
			zap.Error(err))
		if att < m.policy.MaxAttempts {
			if serr := m.sleep(ctx, m.policy.Delay(att+1)); serr != nil {
				return nil, serr
			}
		}
	}
	return nil, &domain.AuthError{Kind: domain.AuthNetworkUnavailable, Cause: lastErr}
}

// healthyLocked reports session health; caller holds m.mu.
func (m *Manager) healthyLocked() bool {
	if m.current == nil || m.current.State != domain.StateActive {
		return false
	}
	if m.probeFailed {
		return false
	}
	now := m.now()
	if m.current.Age(now) > m.maxAge {
		return false
	}
	return !m.current.TokenExpired(now)
}

// IsHealthy reports whether the current session is usable without re-authentication.
func (m *Manager) IsHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthyLocked()
}

// ReportProbeFailure marks the session unhealthy so the next EnsureSession
// re-authenticates lazily. Called when a gateway call fails with a session-level error.
func (m *Manager) ReportProbeFailure() {
	m.mu.Lock()
	m.probeFailed = true
	m.mu.Unlock()
}

// Invalidate destroys the current session. Stored credentials are kept so the
// next EnsureSession can re-authenticate.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	var id string
	if m.current != nil {
		m.current.State = domain.StateInvalid
		id = m.current.ID
		m.current = nil
	}
	m.mu.Unlock()

	if id != "" && m.snapshots != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.snapshots.Delete(ctx, id); err != nil {
			m.logger.Warn("failed to delete session snapshot", zap.Error(err))
		}
	}
}

// Logout drops both the session and the stored credentials.
func (m *Manager) Logout() {
	m.mu.Lock()
	m.creds = nil
	m.mu.Unlock()
	m.Invalidate()
}

// Adopt installs a restored snapshot as the current session if it is still
// usable. Used once at startup; a stale snapshot is ignored.
func (m *Manager) Adopt(s *domain.Session) bool {
	if s == nil || s.State != domain.StateActive {
		return false
	}
	now := m.now()
	if s.TokenExpired(now) || s.Age(now) > m.maxAge {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		return false
	}
	copied := *s
	m.current = &copied
	return true
}

// persistAsync saves the snapshot off the login critical path. Best-effort.
func (m *Manager) persistAsync(s domain.Session) {
	if m.snapshots == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.snapshots.Save(ctx, &s); err != nil {
			m.logger.Warn("failed to persist session snapshot",
				zap.Error(err), zap.String("session_id", s.ID))
		}
	}()
}
