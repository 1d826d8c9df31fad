package repository

import (
	"context"
	"database/sql"
	"errors"

	"mowerhub/backend/internal/audit/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a command audit repository backed by db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the audit record for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, request_id, device_id, kind, success, error_kind, degraded, completed_at, created_at
		FROM command_audit WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// ListByDevice returns audit records for the given device, newest first,
// paginated by limit and offset.
func (r *PostgresRepository) ListByDevice(ctx context.Context, deviceID string, limit, offset int32) ([]*domain.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, request_id, device_id, kind, success, error_kind, degraded, completed_at, created_at
		FROM command_audit WHERE device_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, deviceID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Create persists the audit record. The record must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, rec *domain.Record) error {
	errKind := sql.NullString{String: rec.ErrorKind, Valid: rec.ErrorKind != ""}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO command_audit (id, request_id, device_id, kind, success, error_kind, degraded, completed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.RequestID, rec.DeviceID, rec.Kind, rec.Success, errKind, rec.Degraded, rec.CompletedAt, rec.CreatedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.Record, error) {
	var rec domain.Record
	var errKind sql.NullString
	if err := row.Scan(&rec.ID, &rec.RequestID, &rec.DeviceID, &rec.Kind,
		&rec.Success, &errKind, &rec.Degraded, &rec.CompletedAt, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if errKind.Valid {
		rec.ErrorKind = errKind.String
	}
	return &rec, nil
}
