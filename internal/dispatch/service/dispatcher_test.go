package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"mowerhub/backend/internal/backoff"
	devdomain "mowerhub/backend/internal/device/domain"
	"mowerhub/backend/internal/device/store"
	"mowerhub/backend/internal/eventbus"
	"mowerhub/backend/internal/gateway"
	sessdomain "mowerhub/backend/internal/session/domain"
)

type fakeSessions struct {
	err          error
	probeFailed  bool
	ensuredCalls int
}

func (s *fakeSessions) EnsureSession(ctx context.Context) (sessdomain.Session, error) {
	s.ensuredCalls++
	if s.err != nil {
		return sessdomain.Session{}, s.err
	}
	return sessdomain.Session{ID: "sess-1", State: sessdomain.StateActive}, nil
}

func (s *fakeSessions) ReportProbeFailure() { s.probeFailed = true }

type fakeCommandGateway struct {
	mu          sync.Mutex
	sendErrs    []error // consumed in order; nil entry means success
	sendCalls   int
	block       chan struct{}
	blockDevice string
}

func (g *fakeCommandGateway) Authenticate(ctx context.Context, creds gateway.Credentials) (gateway.SessionToken, error) {
	return gateway.SessionToken{Value: "tok"}, nil
}

func (g *fakeCommandGateway) SendCommand(ctx context.Context, token gateway.SessionToken, deviceID string, kind devdomain.CommandKind) (gateway.Ack, error) {
	g.mu.Lock()
	g.sendCalls++
	var err error
	if len(g.sendErrs) > 0 {
		err = g.sendErrs[0]
		g.sendErrs = g.sendErrs[1:]
	}
	block := g.block
	if block != nil && g.blockDevice != "" && g.blockDevice != deviceID {
		block = nil
	}
	g.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return gateway.Ack{}, err
	}
	return gateway.Ack{CommandID: "cmd-1"}, nil
}

func (g *fakeCommandGateway) FetchStatus(ctx context.Context, token gateway.SessionToken, deviceID string) (devdomain.DeviceState, error) {
	return devdomain.DeviceState{}, nil
}

func (g *fakeCommandGateway) ListDevices(ctx context.Context, token gateway.SessionToken) ([]devdomain.DeviceState, error) {
	return nil, nil
}

func (g *fakeCommandGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sendCalls
}

type recordingBus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (b *recordingBus) Publish(e eventbus.Event) {
	b.mu.Lock()
	b.events = append(b.events, e)
	b.mu.Unlock()
}

func (b *recordingBus) byType(t eventbus.EventType) []eventbus.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []eventbus.Event
	for _, e := range b.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type recordingAuditor struct {
	mu       sync.Mutex
	outcomes []devdomain.CommandOutcome
}

func (a *recordingAuditor) Record(ctx context.Context, outcome devdomain.CommandOutcome) {
	a.mu.Lock()
	a.outcomes = append(a.outcomes, outcome)
	a.mu.Unlock()
}

type fixture struct {
	dispatcher *Dispatcher
	sessions   *fakeSessions
	gw         *fakeCommandGateway
	states     *store.Store
	bus        *recordingBus
	audit      *recordingAuditor
	slept      *[]time.Duration
}

func newFixture(gw *fakeCommandGateway, fallbackEnabled bool) *fixture {
	sessions := &fakeSessions{}
	bus := &recordingBus{}
	audit := &recordingAuditor{}
	states := store.New(zap.NewNop(), bus)
	d := NewDispatcher(sessions, gw, states, bus, audit, zap.NewNop(),
		backoff.Policy{MaxAttempts: 3, BaseDelay: time.Second}, fallbackEnabled)

	var slept []time.Duration
	var mu sync.Mutex
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		mu.Lock()
		slept = append(slept, dur)
		mu.Unlock()
		return nil
	}
	return &fixture{dispatcher: d, sessions: sessions, gw: gw, states: states, bus: bus, audit: audit, slept: &slept}
}

func startReq() devdomain.CommandRequest {
	return devdomain.CommandRequest{DeviceID: "mower-1", Kind: devdomain.CommandStart}
}

func TestDispatchSuccess(t *testing.T) {
	f := newFixture(&fakeCommandGateway{}, true)

	outcome := f.dispatcher.Dispatch(context.Background(), startReq())
	if !outcome.Success || outcome.Degraded {
		t.Fatalf("outcome = %+v, want clean success", outcome)
	}
	if outcome.RequestID == "" {
		t.Error("outcome should carry a request ID")
	}

	state, ok := f.states.Get("mower-1")
	if !ok || state.OperationalStatus != devdomain.StatusMowing {
		t.Errorf("state = %+v, want optimistic transition to mowing", state)
	}
	if got := len(f.bus.byType(eventbus.EventDeviceStatus)); got != 1 {
		t.Errorf("device_status events = %d, want exactly 1", got)
	}
	if got := len(f.bus.byType(eventbus.EventCommandResult)); got != 1 {
		t.Errorf("command_result events = %d, want exactly 1", got)
	}
	if len(f.audit.outcomes) != 1 || !f.audit.outcomes[0].Success {
		t.Errorf("audit = %+v, want one successful record", f.audit.outcomes)
	}
}

func TestDispatchRetriesTransientThenSucceeds(t *testing.T) {
	gw := &fakeCommandGateway{sendErrs: []error{
		gateway.Transient(errors.New("timeout")),
		gateway.Transient(errors.New("timeout")),
		nil,
	}}
	f := newFixture(gw, false)

	outcome := f.dispatcher.Dispatch(context.Background(), startReq())
	if !outcome.Success {
		t.Fatalf("outcome = %+v, want success after retries", outcome)
	}
	if gw.calls() != 3 {
		t.Errorf("gateway called %d times, want 3", gw.calls())
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*f.slept) != 2 || (*f.slept)[0] != want[0] || (*f.slept)[1] != want[1] {
		t.Errorf("backoff schedule = %v, want %v", *f.slept, want)
	}
}

func TestDispatchExhaustedNoFallback(t *testing.T) {
	gw := &fakeCommandGateway{sendErrs: []error{
		gateway.Transient(errors.New("down")),
		gateway.Transient(errors.New("down")),
		gateway.Transient(errors.New("down")),
	}}
	f := newFixture(gw, false)

	outcome := f.dispatcher.Dispatch(context.Background(), startReq())
	if outcome.Success || outcome.ErrorKind != devdomain.DispatchErrGatewayUnreachable {
		t.Fatalf("outcome = %+v, want GatewayUnreachable failure", outcome)
	}
	if _, ok := f.states.Get("mower-1"); ok {
		t.Error("failed dispatch must not mutate device state")
	}
	if len(f.bus.events) != 0 {
		t.Errorf("published %d events, want none on failure", len(f.bus.events))
	}
}

func TestDispatchExhaustedWithFallback(t *testing.T) {
	gw := &fakeCommandGateway{sendErrs: []error{
		gateway.Transient(errors.New("down")),
		gateway.Transient(errors.New("down")),
		gateway.Transient(errors.New("down")),
	}}
	f := newFixture(gw, true)

	outcome := f.dispatcher.Dispatch(context.Background(), startReq())
	if !outcome.Success || !outcome.Degraded {
		t.Fatalf("outcome = %+v, want degraded success", outcome)
	}
	state, ok := f.states.Get("mower-1")
	if !ok || state.OperationalStatus != devdomain.StatusMowing {
		t.Errorf("state = %+v, want optimistic transition", state)
	}
	if got := len(f.bus.byType(eventbus.EventCommandResult)); got != 1 {
		t.Errorf("command_result events = %d, want 1", got)
	}
}

func TestDispatchWithoutSession(t *testing.T) {
	gw := &fakeCommandGateway{}
	f := newFixture(gw, true)
	f.sessions.err = errors.New("auth down")

	outcome := f.dispatcher.Dispatch(context.Background(), startReq())
	if outcome.Success || outcome.ErrorKind != devdomain.DispatchErrUnavailable {
		t.Fatalf("outcome = %+v, want Unavailable", outcome)
	}
	if gw.calls() != 0 {
		t.Error("gateway must not be contacted without a session")
	}
}

func TestDispatchDeviceNotFoundNotRetried(t *testing.T) {
	gw := &fakeCommandGateway{sendErrs: []error{gateway.ErrDeviceNotFound}}
	f := newFixture(gw, true)

	outcome := f.dispatcher.Dispatch(context.Background(), startReq())
	if outcome.Success || outcome.ErrorKind != devdomain.DispatchErrDeviceNotFound {
		t.Fatalf("outcome = %+v, want DeviceNotFound", outcome)
	}
	if gw.calls() != 1 {
		t.Errorf("gateway called %d times, want 1 (terminal)", gw.calls())
	}
}

func TestDispatchSessionExpiredReportsProbe(t *testing.T) {
	gw := &fakeCommandGateway{sendErrs: []error{gateway.ErrSessionExpired}}
	f := newFixture(gw, true)

	outcome := f.dispatcher.Dispatch(context.Background(), startReq())
	if outcome.Success || outcome.ErrorKind != devdomain.DispatchErrUnavailable {
		t.Fatalf("outcome = %+v, want Unavailable", outcome)
	}
	if !f.sessions.probeFailed {
		t.Error("expired session should be reported to the session manager")
	}
}

func TestDispatchInvalidCommand(t *testing.T) {
	f := newFixture(&fakeCommandGateway{}, true)
	outcome := f.dispatcher.Dispatch(context.Background(), devdomain.CommandRequest{
		DeviceID: "mower-1",
		Kind:     devdomain.CommandKind("self_destruct"),
	})
	if outcome.Success || outcome.ErrorKind != devdomain.DispatchErrInvalidCommand {
		t.Fatalf("outcome = %+v, want InvalidCommand", outcome)
	}
}

func TestDispatchSingleFlightPerDevice(t *testing.T) {
	gw := &fakeCommandGateway{block: make(chan struct{}), blockDevice: "mower-1"}
	f := newFixture(gw, false)

	var wg sync.WaitGroup
	first := make(chan devdomain.CommandOutcome, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		first <- f.dispatcher.Dispatch(context.Background(), startReq())
	}()

	// Wait until the first dispatch holds the device slot.
	for {
		f.dispatcher.mu.Lock()
		_, busy := f.dispatcher.inflight["mower-1"]
		f.dispatcher.mu.Unlock()
		if busy {
			break
		}
		time.Sleep(time.Millisecond)
	}

	const rivals = 4
	rivalOut := make(chan devdomain.CommandOutcome, rivals)
	for i := 0; i < rivals; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rivalOut <- f.dispatcher.Dispatch(context.Background(), startReq())
		}()
	}

	// Rivals are rejected synchronously while the winner holds the slot.
	for i := 0; i < rivals; i++ {
		select {
		case r := <-rivalOut:
			if r.Success || r.ErrorKind != devdomain.DispatchErrAlreadyInProgress {
				t.Errorf("rival outcome = %+v, want AlreadyInProgress", r)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("rival dispatch did not return while winner in flight")
		}
	}

	// A command for a different device is not blocked.
	otherDone := make(chan devdomain.CommandOutcome, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		otherDone <- f.dispatcher.Dispatch(context.Background(), devdomain.CommandRequest{
			DeviceID: "mower-2", Kind: devdomain.CommandPause,
		})
	}()
	select {
	case o := <-otherDone:
		if !o.Success {
			t.Errorf("other-device outcome = %+v", o)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch for another device blocked by single-flight")
	}

	close(gw.block)
	wg.Wait()

	o := <-first
	if !o.Success {
		t.Errorf("winner outcome = %+v, want success", o)
	}
	if gw.calls() != 2 { // winner + other device
		t.Errorf("gateway called %d times, want 2", gw.calls())
	}
}
