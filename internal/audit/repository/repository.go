package repository

import (
	"context"

	"mowerhub/backend/internal/audit/domain"
)

// Repository defines persistence for command audit records.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Record, error)
	ListByDevice(ctx context.Context, deviceID string, limit, offset int32) ([]*domain.Record, error)
	Create(ctx context.Context, r *domain.Record) error
}
