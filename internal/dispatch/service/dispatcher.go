// Package service implements command dispatch: per-device single-flight,
// retry with backoff, and the degraded fallback path when the cloud is
// unreachable.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mowerhub/backend/internal/backoff"
	devdomain "mowerhub/backend/internal/device/domain"
	"mowerhub/backend/internal/device/store"
	"mowerhub/backend/internal/eventbus"
	"mowerhub/backend/internal/gateway"
	sessdomain "mowerhub/backend/internal/session/domain"
)

// SessionSource supplies a live session for gateway calls.
type SessionSource interface {
	EnsureSession(ctx context.Context) (sessdomain.Session, error)
}

// ProbeReporter is implemented by session sources that want to hear about
// session-level failures observed during dispatch.
type ProbeReporter interface {
	ReportProbeFailure()
}

// Publisher fans command results out to realtime observers.
type Publisher interface {
	Publish(e eventbus.Event)
}

// Auditor records command outcomes. Best-effort; a failing auditor never
// fails a dispatch.
type Auditor interface {
	Record(ctx context.Context, outcome devdomain.CommandOutcome)
}

// Dispatcher submits commands through the session with retry, fallback, and
// a per-device single-flight policy.
type Dispatcher struct {
	sessions SessionSource
	gw       gateway.CloudGateway
	states   *store.Store
	bus      Publisher
	audit    Auditor // nil disables auditing
	logger   *zap.Logger
	policy   backoff.Policy
	fallback bool

	// test seams
	sleep func(context.Context, time.Duration) error
	now   func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewDispatcher returns a Dispatcher. audit may be nil.
func NewDispatcher(sessions SessionSource, gw gateway.CloudGateway, states *store.Store, bus Publisher, audit Auditor, logger *zap.Logger, policy backoff.Policy, fallbackEnabled bool) *Dispatcher {
	return &Dispatcher{
		sessions: sessions,
		gw:       gw,
		states:   states,
		bus:      bus,
		audit:    audit,
		logger:   logger,
		policy:   policy,
		fallback: fallbackEnabled,
		sleep:    backoff.Sleep,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
}

// Dispatch submits one command and returns its outcome. Synchronous from the
// caller's perspective; a second command for the same device while one is in
// flight is rejected with AlreadyInProgress.
func (d *Dispatcher) Dispatch(ctx context.Context, req devdomain.CommandRequest) devdomain.CommandOutcome {
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = d.now().UTC()
	}
	if !devdomain.ValidCommand(req.Kind) {
		return d.finish(ctx, req, failure(req, devdomain.DispatchErrInvalidCommand, d.now))
	}

	if !d.acquire(req.DeviceID) {
		// Rejected synchronously; not a retry candidate.
		return failure(req, devdomain.DispatchErrAlreadyInProgress, d.now)
	}
	defer d.release(req.DeviceID)

	sess, err := d.sessions.EnsureSession(ctx)
	if err != nil {
		d.logger.Warn("dispatch without session",
			zap.String("device_id", req.DeviceID), zap.Error(err))
		return d.finish(ctx, req, failure(req, devdomain.DispatchErrUnavailable, d.now))
	}

	outcome := d.send(ctx, sess, req)
	return d.finish(ctx, req, outcome)
}

// send runs the retrying gateway call and builds the outcome.
func (d *Dispatcher) send(ctx context.Context, sess sessdomain.Session, req devdomain.CommandRequest) devdomain.CommandOutcome {
	for att := 1; att <= d.policy.MaxAttempts; att++ {
		_, err := d.gw.SendCommand(ctx, sess.Token, req.DeviceID, req.Kind)
		if err == nil {
			d.applyOptimistic(req, false)
			return devdomain.CommandOutcome{
				RequestID:   req.RequestID,
				DeviceID:    req.DeviceID,
				Kind:        req.Kind,
				Success:     true,
				CompletedAt: d.now().UTC(),
			}
		}
		if errors.Is(err, gateway.ErrDeviceNotFound) {
			return failure(req, devdomain.DispatchErrDeviceNotFound, d.now)
		}
		if errors.Is(err, gateway.ErrSessionExpired) {
			if reporter, ok := d.sessions.(ProbeReporter); ok {
				reporter.ReportProbeFailure()
			}
			return failure(req, devdomain.DispatchErrUnavailable, d.now)
		}
		if !gateway.IsTransient(err) {
			d.logger.Error("dispatch failed",
				zap.String("device_id", req.DeviceID),
				zap.String("kind", string(req.Kind)),
				zap.Error(err))
			return failure(req, devdomain.DispatchErrGatewayUnreachable, d.now)
		}
		d.logger.Warn("dispatch attempt failed",
			zap.String("device_id", req.DeviceID),
			zap.Int("attempt", att),
			zap.Int("budget", d.policy.MaxAttempts),
			zap.Error(err))
		if att < d.policy.MaxAttempts {
			if serr := d.sleep(ctx, d.policy.Delay(att+1)); serr != nil {
				return failure(req, devdomain.DispatchErrGatewayUnreachable, d.now)
			}
		}
	}

	if d.fallback {
		// Degraded outcome: optimistic local transition substituted for the
		// gateway's answer, marked so callers can tell.
		d.logger.Warn("gateway unreachable, substituting degraded outcome",
			zap.String("device_id", req.DeviceID),
			zap.String("kind", string(req.Kind)))
		d.applyOptimistic(req, true)
		return devdomain.CommandOutcome{
			RequestID:   req.RequestID,
			DeviceID:    req.DeviceID,
			Kind:        req.Kind,
			Success:     true,
			Degraded:    true,
			CompletedAt: d.now().UTC(),
		}
	}
	return failure(req, devdomain.DispatchErrGatewayUnreachable, d.now)
}

// applyOptimistic moves the cached device state to the status the command
// implies; later polling reconciles with ground truth.
func (d *Dispatcher) applyOptimistic(req devdomain.CommandRequest, degraded bool) {
	now := d.now().UTC()
	state, ok := d.states.Get(req.DeviceID)
	if !ok {
		state = devdomain.DeviceState{DeviceID: req.DeviceID, Battery: 0}
	}
	state.OperationalStatus = req.Kind.OptimisticStatus()
	if !degraded {
		state.Online = true
	}
	state.UpdatedAt = now
	d.states.Update(state)
}

// finish publishes the command_result event for delivered outcomes and
// records the outcome in the audit log. Failures publish nothing.
func (d *Dispatcher) finish(ctx context.Context, req devdomain.CommandRequest, outcome devdomain.CommandOutcome) devdomain.CommandOutcome {
	if outcome.Success && d.bus != nil {
		d.bus.Publish(eventbus.Event{
			Type:      eventbus.EventCommandResult,
			DeviceID:  req.DeviceID,
			Data:      outcome,
			Timestamp: outcome.CompletedAt,
		})
	}
	if d.audit != nil {
		d.audit.Record(ctx, outcome)
	}
	return outcome
}

func (d *Dispatcher) acquire(deviceID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[deviceID]; busy {
		return false
	}
	d.inflight[deviceID] = struct{}{}
	return true
}

func (d *Dispatcher) release(deviceID string) {
	d.mu.Lock()
	delete(d.inflight, deviceID)
	d.mu.Unlock()
}

func failure(req devdomain.CommandRequest, kind devdomain.DispatchErrorKind, now func() time.Time) devdomain.CommandOutcome {
	return devdomain.CommandOutcome{
		RequestID:   req.RequestID,
		DeviceID:    req.DeviceID,
		Kind:        req.Kind,
		Success:     false,
		ErrorKind:   kind,
		CompletedAt: now().UTC(),
	}
}
