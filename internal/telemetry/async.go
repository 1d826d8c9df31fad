package telemetry

import (
	"context"
	"log"
	"time"

	"mowerhub/backend/internal/eventbus"
)

// emitTimeout is the max time allowed for a single async emit. Used by EmitAsync and by ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after the HTTP server drains before
// closing the Kafka writer, so in-flight async emits have time to complete.
// Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// EmitAsync runs Emit in a goroutine with a short timeout so the caller is not blocked.
// Fire-and-forget, best-effort; errors are logged.
//
// emitter may be nil and no-op events are skipped; EmitAsync returns
// immediately without starting a goroutine in either case.
// The goroutine uses context.Background() with emitTimeout so caller
// cancellation does not abort an in-flight emit.
func EmitAsync(emitter EventEmitter, ctx context.Context, event eventbus.Event) {
	if emitter == nil || event.Type == eventbus.EventNone {
		return
	}
	go func() {
		emitCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, event); err != nil {
			log.Printf("telemetry: async emit failed: %v", err)
		}
	}()
}
