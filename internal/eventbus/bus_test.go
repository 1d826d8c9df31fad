package eventbus

import (
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
)

func recvOne(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case e, ok := <-sub.Events():
		if !ok {
			t.Fatal("events channel closed unexpectedly")
		}
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestPublishFanOut(t *testing.T) {
	bus := New(zap.NewNop())
	const k = 3
	subs := make([]*Subscription, k)
	for i := range subs {
		subs[i] = bus.Subscribe("")
		defer bus.Unsubscribe(subs[i])
	}

	bus.Publish(Event{Type: EventDeviceStatus, DeviceID: "mower-1"})
	bus.Publish(Event{Type: EventCommandResult, DeviceID: "mower-1"})

	for i, sub := range subs {
		first := recvOne(t, sub)
		second := recvOne(t, sub)
		if first.Type != EventDeviceStatus || second.Type != EventCommandResult {
			t.Errorf("subscriber %d got (%s, %s), want publish order preserved", i, first.Type, second.Type)
		}
	}
}

func TestDeviceFilter(t *testing.T) {
	bus := New(zap.NewNop())
	filtered := bus.Subscribe("mower-2")
	defer bus.Unsubscribe(filtered)

	bus.Publish(Event{Type: EventDeviceStatus, DeviceID: "mower-1"})
	bus.Publish(Event{Type: EventDeviceStatus, DeviceID: "mower-2"})

	e := recvOne(t, filtered)
	if e.DeviceID != "mower-2" {
		t.Errorf("filtered subscriber got device %q, want mower-2", e.DeviceID)
	}
}

func TestOverflowDropsOldestWithMarker(t *testing.T) {
	bus := New(zap.NewNop())
	sub := bus.SubscribeBuffered("", 2)
	defer bus.Unsubscribe(sub)

	// Nothing reads yet; pump moves one event into the unbuffered out channel
	// and the remaining capacity is 2. Publish enough to overflow regardless
	// of pump timing.
	for i := 0; i < 10; i++ {
		bus.Publish(Event{Type: EventDeviceStatus, DeviceID: fmt.Sprintf("m-%d", i)})
	}

	sawDropped := false
	total := 0
	deadline := time.After(2 * time.Second)
	for total < 10 {
		select {
		case e := <-sub.Events():
			total++
			if e.Type == EventDropped {
				if e.Dropped < 1 {
					t.Errorf("dropped marker with count %d", e.Dropped)
				}
				sawDropped = true
				total += e.Dropped - 1 // marker stands in for the lost events
			}
		case <-deadline:
			t.Fatalf("received %d of 10 events before timeout", total)
		}
	}
	if !sawDropped {
		t.Error("expected a dropped marker after overflow")
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := New(zap.NewNop())
	slow := bus.SubscribeBuffered("", 1)
	fast := bus.Subscribe("")
	defer bus.Unsubscribe(slow)
	defer bus.Unsubscribe(fast)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			bus.Publish(Event{Type: EventDeviceStatus, DeviceID: "mower-1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// The fast subscriber still drains everything it can.
	if e := recvOne(t, fast); e.Type != EventDeviceStatus && e.Type != EventDropped {
		t.Errorf("fast subscriber got %q", e.Type)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(zap.NewNop())
	sub := bus.Subscribe("")
	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub) // idempotent

	select {
	case _, ok := <-sub.Events():
		if ok {
			// A buffered event may still arrive; the channel must close after.
			if _, ok2 := <-sub.Events(); ok2 {
				t.Error("events channel still open after Unsubscribe")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after Unsubscribe")
	}

	if bus.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount = %d after Unsubscribe", bus.SubscriberCount())
	}
}

func TestParseEventType(t *testing.T) {
	if ParseEventType("device_status") != EventDeviceStatus {
		t.Error("device_status should parse")
	}
	if ParseEventType("gibberish") != EventNone {
		t.Error("unknown tags must map to the no-op variant")
	}
}
