// Package domain holds the device-side data model: mower state, commands, and outcomes.
package domain

import "time"

// OperationalStatus is the mower's reported activity.
type OperationalStatus string

const (
	StatusIdle      OperationalStatus = "idle"
	StatusMowing    OperationalStatus = "mowing"
	StatusReturning OperationalStatus = "returning"
	StatusCharging  OperationalStatus = "charging"
	StatusPaused    OperationalStatus = "paused"
	StatusError     OperationalStatus = "error"
	StatusOffline   OperationalStatus = "offline"
)

// ParseStatus maps a cloud-reported status string to an OperationalStatus.
// Unknown values map to StatusError rather than failing deserialization.
func ParseStatus(s string) OperationalStatus {
	switch OperationalStatus(s) {
	case StatusIdle, StatusMowing, StatusReturning, StatusCharging, StatusPaused, StatusError, StatusOffline:
		return OperationalStatus(s)
	default:
		return StatusError
	}
}

// DeviceState is the last-known state of one mower. Values are immutable
// snapshots: the store hands out copies, never shared mutable access.
type DeviceState struct {
	DeviceID          string            `json:"device_id"`
	Name              string            `json:"name,omitempty"`
	Model             string            `json:"model,omitempty"`
	Battery           int               `json:"battery"`
	PositionStatus    string            `json:"position_status,omitempty"`
	OperationalStatus OperationalStatus `json:"operational_status"`
	Online            bool              `json:"online"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// ClampBattery bounds Battery to 0–100.
func (s *DeviceState) ClampBattery() {
	if s.Battery < 0 {
		s.Battery = 0
	}
	if s.Battery > 100 {
		s.Battery = 100
	}
}

// CommandKind identifies a control command.
type CommandKind string

const (
	CommandStart        CommandKind = "start"
	CommandStop         CommandKind = "stop"
	CommandPause        CommandKind = "pause"
	CommandReturnToDock CommandKind = "return_to_dock"
)

// ValidCommand reports whether k is a recognized command kind.
func ValidCommand(k CommandKind) bool {
	switch k {
	case CommandStart, CommandStop, CommandPause, CommandReturnToDock:
		return true
	}
	return false
}

// OptimisticStatus returns the status a device is expected to enter after the
// command is acknowledged. Polling later reconciles with ground truth.
func (k CommandKind) OptimisticStatus() OperationalStatus {
	switch k {
	case CommandStart:
		return StatusMowing
	case CommandStop:
		return StatusIdle
	case CommandPause:
		return StatusPaused
	case CommandReturnToDock:
		return StatusReturning
	default:
		return StatusError
	}
}

// CommandRequest is one user-issued command. Transient; not persisted beyond
// the dispatch call that carries it.
type CommandRequest struct {
	RequestID   string
	DeviceID    string
	Kind        CommandKind
	RequestedAt time.Time
}

// DispatchErrorKind classifies a failed dispatch.
type DispatchErrorKind string

const (
	// DispatchErrNone marks a successful outcome.
	DispatchErrNone DispatchErrorKind = ""
	// DispatchErrUnavailable means no session could be obtained; the gateway was never contacted.
	DispatchErrUnavailable DispatchErrorKind = "unavailable"
	// DispatchErrGatewayUnreachable means the retry budget was exhausted on transient failures.
	DispatchErrGatewayUnreachable DispatchErrorKind = "gateway_unreachable"
	// DispatchErrAlreadyInProgress means another command for the same device was in flight.
	DispatchErrAlreadyInProgress DispatchErrorKind = "already_in_progress"
	// DispatchErrDeviceNotFound means the cloud does not know the device.
	DispatchErrDeviceNotFound DispatchErrorKind = "device_not_found"
	// DispatchErrInvalidCommand means the command kind is not recognized.
	DispatchErrInvalidCommand DispatchErrorKind = "invalid_command"
)

// CommandOutcome is the result of one CommandRequest. Produced once, never mutated.
type CommandOutcome struct {
	RequestID   string            `json:"request_id"`
	DeviceID    string            `json:"device_id"`
	Kind        CommandKind       `json:"kind"`
	Success     bool              `json:"success"`
	ErrorKind   DispatchErrorKind `json:"error_kind,omitempty"`
	Degraded    bool              `json:"degraded,omitempty"`
	CompletedAt time.Time         `json:"completed_at"`
}
