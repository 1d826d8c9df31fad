package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mowerhub/backend/internal/backoff"
	"mowerhub/backend/internal/eventbus"
)

// ClientState is the reconnect state machine's position.
type ClientState string

const (
	StateConnecting   ClientState = "connecting"
	StateConnected    ClientState = "connected"
	StateDisconnected ClientState = "disconnected"
	StateReconnecting ClientState = "reconnecting"
	// StateFailed is terminal until Reset is called.
	StateFailed ClientState = "failed"
	// StateClosed is terminal; the caller stopped the client.
	StateClosed ClientState = "closed"
)

// ClientConn is the transport a Dialer hands back.
type ClientConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens one transport connection.
type Dialer func(ctx context.Context) (ClientConn, error)

// DialURL returns a Dialer for a websocket endpoint.
func DialURL(url string) Dialer {
	return func(ctx context.Context) (ClientConn, error) {
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return ws, nil
	}
}

// Reconnector keeps one observer connection alive. Transport errors move it
// through Disconnected and Reconnecting with exponential delays; after the
// attempt budget it parks in Failed until Reset.
type Reconnector struct {
	dial   Dialer
	policy backoff.Policy
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error

	events chan eventbus.Event

	mu       sync.Mutex
	state    ClientState
	attempts int
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	running  bool
}

// NewReconnector returns a stopped Reconnector. policy.MaxAttempts bounds
// consecutive failed connection attempts; policy.BaseDelay seeds the
// reconnect schedule.
func NewReconnector(dial Dialer, policy backoff.Policy, logger *zap.Logger) *Reconnector {
	return &Reconnector{
		dial:   dial,
		policy: policy,
		logger: logger,
		sleep:  backoff.Sleep,
		events: make(chan eventbus.Event, eventbus.DefaultBufferSize),
		state:  StateClosed,
	}
}

// Events yields decoded push events. Frames with unknown types are skipped.
func (r *Reconnector) Events() <-chan eventbus.Event { return r.events }

// State reports the current machine state.
func (r *Reconnector) State() ClientState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start begins connecting. No-op if already running.
func (r *Reconnector) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.attempts = 0
	r.done = make(chan struct{})
	r.running = true
	go r.run(r.ctx, r.done)
}

// Stop tears the connection down and parks the machine in Closed.
func (r *Reconnector) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Reset leaves Failed and starts connecting again. No-op in any other state.
func (r *Reconnector) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateFailed || r.running {
		return
	}
	r.attempts = 0
	r.done = make(chan struct{})
	r.running = true
	go r.run(r.ctx, r.done)
}

func (r *Reconnector) setState(s ClientState) {
	r.mu.Lock()
	r.state = s
	if s == StateConnected {
		r.attempts = 0
	}
	r.mu.Unlock()
}

func (r *Reconnector) run(ctx context.Context, done chan struct{}) {
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		close(done)
	}()
	for {
		r.setState(StateConnecting)
		conn, err := r.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				r.setState(StateClosed)
				return
			}
			r.logger.Warn("connect failed", zap.Error(err))
			if !r.scheduleRetry(ctx) {
				return
			}
			continue
		}

		r.setState(StateConnected)
		r.readLoop(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			r.setState(StateClosed)
			return
		}
		r.setState(StateDisconnected)
		if !r.scheduleRetry(ctx) {
			return
		}
	}
}

// scheduleRetry burns one reconnect attempt and waits out its delay. Returns
// false when the machine has reached a terminal state.
func (r *Reconnector) scheduleRetry(ctx context.Context) bool {
	r.mu.Lock()
	r.attempts++
	n := r.attempts
	r.mu.Unlock()
	if n > r.policy.MaxAttempts {
		r.logger.Error("reconnect budget exhausted",
			zap.Int("attempts", r.policy.MaxAttempts))
		r.setState(StateFailed)
		return false
	}
	r.setState(StateReconnecting)
	delay := r.policy.Delay(n + 1)
	r.logger.Info("reconnecting",
		zap.Int("attempt", n),
		zap.Duration("delay", delay))
	if err := r.sleep(ctx, delay); err != nil {
		r.setState(StateClosed)
		return false
	}
	return true
}

// readLoop decodes inbound frames until the transport errors or ctx ends.
func (r *Reconnector) readLoop(ctx context.Context, conn ClientConn) {
	closed := make(chan struct{})
	defer close(closed)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-closed:
		}
	}()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var e eventbus.Event
		if uerr := json.Unmarshal(raw, &e); uerr != nil {
			continue
		}
		if eventbus.ParseEventType(string(e.Type)) == eventbus.EventNone {
			continue
		}
		select {
		case r.events <- e:
		case <-ctx.Done():
			return
		default:
			// Observer not draining; newer events matter more than a
			// stalled reader.
		}
	}
}
