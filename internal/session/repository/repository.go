// Package repository persists session snapshots to a key-value store so a
// restarted server can resume without forcing a fresh login.
package repository

import (
	"context"
	"errors"

	"mowerhub/backend/internal/session/domain"
)

// ErrNotFound is returned when no snapshot exists for the session ID.
var ErrNotFound = errors.New("session snapshot not found")

// SnapshotRepository stores session snapshots keyed by session ID.
// All operations are best-effort from the manager's perspective: a failing
// store degrades to memory-only operation, it never fails a login.
type SnapshotRepository interface {
	Save(ctx context.Context, s *domain.Session) error
	Load(ctx context.Context, id string) (*domain.Session, error)
	Delete(ctx context.Context, id string) error
}
