// Package store is the process-wide cache of last-known device state. It is
// the single source of truth handed to observers; entries are replaced
// atomically per device and readers always receive copies.
package store

import (
	"sync"

	"go.uber.org/zap"

	"mowerhub/backend/internal/device/domain"
	"mowerhub/backend/internal/eventbus"
)

// Publisher receives a change event for every update that alters observable state.
type Publisher interface {
	Publish(e eventbus.Event)
}

// Store maps device ID to its last-known state.
type Store struct {
	logger    *zap.Logger
	publisher Publisher

	mu     sync.RWMutex
	states map[string]domain.DeviceState
}

// New returns an empty store publishing change events to publisher.
// publisher may be nil; then updates are cached without fan-out.
func New(logger *zap.Logger, publisher Publisher) *Store {
	return &Store{
		logger:    logger,
		publisher: publisher,
		states:    make(map[string]domain.DeviceState),
	}
}

// Update replaces the entry for state.DeviceID unless the stored entry is
// newer (last-write-wins by UpdatedAt, guarding against out-of-order poll and
// command responses). Exactly one event is published when battery,
// operational status, or online flag actually changed; identical payloads and
// stale timestamps publish nothing. Returns true when the entry was replaced.
func (s *Store) Update(state domain.DeviceState) bool {
	if state.DeviceID == "" {
		return false
	}
	state.ClampBattery()

	s.mu.Lock()
	prev, existed := s.states[state.DeviceID]
	if existed && state.UpdatedAt.Before(prev.UpdatedAt) {
		s.mu.Unlock()
		s.logger.Debug("stale update ignored",
			zap.String("device_id", state.DeviceID),
			zap.Time("incoming", state.UpdatedAt),
			zap.Time("stored", prev.UpdatedAt))
		return false
	}
	s.states[state.DeviceID] = state

	changed := !existed ||
		prev.Battery != state.Battery ||
		prev.OperationalStatus != state.OperationalStatus ||
		prev.Online != state.Online
	// Published before the lock is released so event order matches the order
	// updates land in the map. Publish never blocks.
	if changed && s.publisher != nil {
		s.publisher.Publish(eventbus.Event{
			Type:      eventbus.EventDeviceStatus,
			DeviceID:  state.DeviceID,
			Data:      state,
			Timestamp: state.UpdatedAt,
		})
	}
	s.mu.Unlock()
	return true
}

// Get returns a snapshot of the device's state, if known.
func (s *Store) Get(deviceID string) (domain.DeviceState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[deviceID]
	return state, ok
}

// All returns a snapshot of every known device state. Order is unspecified.
func (s *Store) All() []domain.DeviceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.DeviceState, 0, len(s.states))
	for _, state := range s.states {
		out = append(out, state)
	}
	return out
}
