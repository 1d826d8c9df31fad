package domain

import "time"

// Record is one persisted command outcome.
type Record struct {
	ID          string
	RequestID   string
	DeviceID    string
	Kind        string
	Success     bool
	ErrorKind   string
	Degraded    bool
	CompletedAt time.Time
	CreatedAt   time.Time
}
