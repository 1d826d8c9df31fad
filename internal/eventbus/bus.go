// Package eventbus is the in-process publish/subscribe hub between the device
// state store and the realtime push channels. Fan-out is at-least-once per
// live subscriber; a slow subscriber loses its own oldest events (replaced by
// a Dropped marker) and never blocks publication to others.
package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultBufferSize is the per-subscriber buffer used by Subscribe.
const DefaultBufferSize = 64

// Subscription is one subscriber's registration. Events() yields events in
// publish order for this subscriber; the sequence is infinite until
// Unsubscribe, after which the channel is closed.
type Subscription struct {
	ID           string
	DeviceFilter string // empty matches every device
	CreatedAt    time.Time

	mu      sync.Mutex
	buf     []Event
	dropped int
	max     int
	closed  bool
	wake    chan struct{}
	quit    chan struct{}
	out     chan Event
}

// Events returns the subscriber's delivery channel.
func (s *Subscription) Events() <-chan Event { return s.out }

// enqueue appends e, discarding the oldest buffered event on overflow.
func (s *Subscription) enqueue(e Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.buf) >= s.max {
		s.buf = s.buf[1:]
		s.dropped++
	}
	s.buf = append(s.buf, e)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump moves events from the private buffer to the delivery channel. A gap
// marker is emitted before the surviving events so subscribers can detect the
// loss. Runs until the subscription is closed.
func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		var e Event
		var ok bool
		switch {
		case s.closed:
			s.mu.Unlock()
			return
		case s.dropped > 0:
			e = Event{Type: EventDropped, Dropped: s.dropped, Timestamp: time.Now().UTC()}
			s.dropped = 0
			ok = true
		case len(s.buf) > 0:
			e = s.buf[0]
			s.buf = s.buf[1:]
			ok = true
		}
		s.mu.Unlock()

		if !ok {
			select {
			case <-s.wake:
			case <-s.quit:
				return
			}
			continue
		}
		select {
		case s.out <- e:
		case <-s.quit:
			return
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.quit)
}

// Bus fans device change events out to every live subscriber.
type Bus struct {
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[string]*Subscription
}

// New returns an empty bus.
func New(logger *zap.Logger) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[string]*Subscription),
	}
}

// Subscribe registers a subscriber with the default buffer size.
// deviceFilter limits delivery to one device ID; empty receives everything.
func (b *Bus) Subscribe(deviceFilter string) *Subscription {
	return b.SubscribeBuffered(deviceFilter, DefaultBufferSize)
}

// SubscribeBuffered registers a subscriber with an explicit buffer bound.
func (b *Bus) SubscribeBuffered(deviceFilter string, bufferSize int) *Subscription {
	if bufferSize < 1 {
		bufferSize = 1
	}
	sub := &Subscription{
		ID:           uuid.New().String(),
		DeviceFilter: deviceFilter,
		CreatedAt:    time.Now().UTC(),
		max:          bufferSize,
		wake:         make(chan struct{}, 1),
		quit:         make(chan struct{}),
		out:          make(chan Event),
	}
	go sub.pump()

	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()

	b.logger.Debug("subscriber registered",
		zap.String("subscriber_id", sub.ID),
		zap.String("device_filter", deviceFilter))
	return sub
}

// Unsubscribe releases the subscription; its Events channel is closed.
// Safe to call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	delete(b.subs, sub.ID)
	b.mu.Unlock()
	sub.close()
	b.logger.Debug("subscriber released", zap.String("subscriber_id", sub.ID))
}

// Publish delivers e to every subscriber registered now. Never blocks on a
// slow subscriber and never fails because of a downstream disconnect.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.DeviceFilter == "" || e.DeviceID == "" || sub.DeviceFilter == e.DeviceID {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		sub.enqueue(e)
	}
}

// SubscriberCount reports the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
