package realtime

import (
	"encoding/json"

	"mowerhub/backend/internal/eventbus"
)

// Inbound message types accepted from observers. Anything else is answered
// with an error envelope.
const (
	msgPing            = "ping"
	msgGetDevices      = "get_devices"
	msgGetDeviceStatus = "get_device_status"
	msgSendCommand     = "send_command"
)

// clientMessage is one inbound frame from an observer.
type clientMessage struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id,omitempty"`
	Command  string `json:"command,omitempty"`
}

// envelope is one outbound frame. Event frames reuse the bus encoding; the
// connection chatter (connected, pong, error) goes through here too.
type envelope struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id,omitempty"`
	Data     any    `json:"data,omitempty"`
	Dropped  int    `json:"dropped,omitempty"`
	Message  string `json:"message,omitempty"`
}

func (e envelope) encode() []byte {
	b, err := json.Marshal(e)
	if err != nil {
		return []byte(`{"type":"error","message":"encoding failed"}`)
	}
	return b
}

func eventEnvelope(e eventbus.Event) envelope {
	return envelope{
		Type:     string(e.Type),
		DeviceID: e.DeviceID,
		Data:     e.Data,
		Dropped:  e.Dropped,
	}
}

func errorEnvelope(msg string) envelope {
	return envelope{Type: "error", Message: msg}
}
