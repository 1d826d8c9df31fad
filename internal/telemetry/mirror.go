package telemetry

import (
	"context"

	"go.uber.org/zap"

	"mowerhub/backend/internal/eventbus"
)

// Mirror subscribes to the event bus and forwards every event to the
// emitter. A lost event never stalls the bus; the subscription's bounded
// buffer drops and the gap marker is mirrored like any other event.
type Mirror struct {
	bus     *eventbus.Bus
	emitter EventEmitter
	logger  *zap.Logger
}

func NewMirror(bus *eventbus.Bus, emitter EventEmitter, logger *zap.Logger) *Mirror {
	return &Mirror{bus: bus, emitter: emitter, logger: logger}
}

// Run forwards events until ctx ends or the bus closes the subscription.
func (m *Mirror) Run(ctx context.Context) {
	sub := m.bus.Subscribe("")
	defer m.bus.Unsubscribe(sub)
	m.logger.Info("event mirror started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("event mirror stopped")
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			EmitAsync(m.emitter, ctx, e)
		}
	}
}
