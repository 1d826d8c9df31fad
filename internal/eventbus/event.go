package eventbus

import (
	"encoding/json"
	"time"
)

// EventType tags one realtime event. The set is closed; consumers map unknown
// tags to EventNone instead of failing.
type EventType string

const (
	// EventNone is the no-op variant unknown tags decode to.
	EventNone EventType = ""
	// EventDeviceStatus carries one device state snapshot.
	EventDeviceStatus EventType = "device_status"
	// EventDeviceList carries the full device list.
	EventDeviceList EventType = "device_list"
	// EventCommandResult carries one command outcome.
	EventCommandResult EventType = "command_result"
	// EventDropped marks a gap: the subscriber's buffer overflowed and
	// Dropped events were discarded before this one.
	EventDropped EventType = "dropped"
)

// ParseEventType maps a wire tag to an EventType, defaulting unknown tags to EventNone.
func ParseEventType(s string) EventType {
	switch EventType(s) {
	case EventDeviceStatus, EventDeviceList, EventCommandResult, EventDropped:
		return EventType(s)
	default:
		return EventNone
	}
}

// Event is one device change notification fanned out to subscribers.
type Event struct {
	Type      EventType `json:"type"`
	DeviceID  string    `json:"device_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Dropped   int       `json:"dropped,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Encode serializes the event as one JSON object for the push channel.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}
