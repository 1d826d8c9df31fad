// Package backoff implements the exponential retry schedule shared by
// authentication, command dispatch, and realtime reconnection.
package backoff

import (
	"context"
	"time"
)

// defaultCapFactor bounds the schedule at base * 2^5 when no MaxDelay is set.
const defaultCapFactor = 32

// Policy describes one exponential backoff schedule: the delay before retry
// attempt n is BaseDelay * 2^(n-1), capped at MaxDelay.
type Policy struct {
	// MaxAttempts is the total attempt budget, including the first try.
	MaxAttempts int
	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration
	// MaxDelay caps the schedule; zero means BaseDelay * 32.
	MaxDelay time.Duration
}

// Delay returns the wait before the given attempt (1-based; attempt 1 has no
// wait). Attempts past the budget still return the capped delay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	max := p.MaxDelay
	if max <= 0 {
		max = p.BaseDelay * defaultCapFactor
	}
	d := p.BaseDelay
	for i := 2; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Sleep blocks for d or until ctx is done, returning ctx.Err() in that case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
