// Package poller periodically refreshes device state from the cloud so the
// local cache and realtime observers track ground truth.
package poller

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	devdomain "mowerhub/backend/internal/device/domain"
	"mowerhub/backend/internal/device/store"
	"mowerhub/backend/internal/gateway"
	sessdomain "mowerhub/backend/internal/session/domain"
)

// offlineAfter is how many consecutive poll failures a device tolerates
// before it is marked offline.
const offlineAfter = 3

// SessionSource supplies a live session for gateway calls.
type SessionSource interface {
	EnsureSession(ctx context.Context) (sessdomain.Session, error)
}

// ProbeReporter is implemented by session sources that track probe failures.
type ProbeReporter interface {
	ReportProbeFailure()
}

// Poller drives the periodic refresh loop.
type Poller struct {
	sessions SessionSource
	gw       gateway.CloudGateway
	states   *store.Store
	logger   *zap.Logger
	interval time.Duration

	now func() time.Time

	// consecutive poll failures per device id
	failures map[string]int
}

func New(sessions SessionSource, gw gateway.CloudGateway, states *store.Store, logger *zap.Logger, interval time.Duration) *Poller {
	return &Poller{
		sessions: sessions,
		gw:       gw,
		states:   states,
		logger:   logger,
		interval: interval,
		now:      time.Now,
		failures: make(map[string]int),
	}
}

// Run polls immediately, then on every tick until ctx ends.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("status poller started", zap.Duration("interval", p.interval))
	if err := p.PollOnce(ctx); err != nil {
		p.logger.Warn("initial poll failed", zap.Error(err))
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("status poller stopped")
			return
		case <-ticker.C:
			if err := p.PollOnce(ctx); err != nil {
				p.logger.Warn("poll failed", zap.Error(err))
			}
		}
	}
}

// PollOnce refreshes every device once. A roster failure counts against all
// known devices; a per-device fetch failure counts against that device only.
func (p *Poller) PollOnce(ctx context.Context) error {
	sess, err := p.sessions.EnsureSession(ctx)
	if err != nil {
		p.recordSweepFailure()
		return err
	}

	devices, err := p.gw.ListDevices(ctx, sess.Token)
	if err != nil {
		p.reportIfExpired(err)
		p.recordSweepFailure()
		return err
	}

	for _, d := range devices {
		state, ferr := p.gw.FetchStatus(ctx, sess.Token, d.DeviceID)
		if ferr != nil {
			p.reportIfExpired(ferr)
			p.recordFailure(d.DeviceID)
			continue
		}
		if state.UpdatedAt.IsZero() {
			state.UpdatedAt = p.now().UTC()
		}
		p.states.Update(state)
		delete(p.failures, d.DeviceID)
	}
	return nil
}

func (p *Poller) reportIfExpired(err error) {
	if !errors.Is(err, gateway.ErrSessionExpired) {
		return
	}
	if reporter, ok := p.sessions.(ProbeReporter); ok {
		reporter.ReportProbeFailure()
	}
}

// recordSweepFailure charges every known device with one failure.
func (p *Poller) recordSweepFailure() {
	for _, state := range p.states.All() {
		p.recordFailure(state.DeviceID)
	}
}

func (p *Poller) recordFailure(deviceID string) {
	p.failures[deviceID]++
	if p.failures[deviceID] < offlineAfter {
		return
	}
	state, ok := p.states.Get(deviceID)
	if !ok || !state.Online {
		return
	}
	p.logger.Warn("marking device offline",
		zap.String("device_id", deviceID),
		zap.Int("consecutive_failures", p.failures[deviceID]))
	state.Online = false
	state.OperationalStatus = devdomain.StatusOffline
	state.UpdatedAt = p.now().UTC()
	p.states.Update(state)
}
