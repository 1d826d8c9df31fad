// Package telemetry mirrors device change events to Kafka for downstream
// consumers.
package telemetry

import (
	"context"

	"mowerhub/backend/internal/eventbus"
)

// EventEmitter emits device events to an external sink. Best-effort; callers
// log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event eventbus.Event) error
}
