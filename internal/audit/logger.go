// Package audit persists command outcomes for later inspection.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"mowerhub/backend/internal/audit/domain"
	auditrepo "mowerhub/backend/internal/audit/repository"
	devdomain "mowerhub/backend/internal/device/domain"
)

// Logger records command outcomes through the audit repository.
// Record is best-effort: failures are logged and do not affect the caller.
type Logger struct {
	repo auditrepo.Repository
}

// NewLogger returns a Logger that persists to repo. repo may be nil; then
// Record is a no-op.
func NewLogger(repo auditrepo.Repository) *Logger {
	return &Logger{repo: repo}
}

// Record writes one audit row for the outcome. Best-effort: errors are
// logged and not returned.
func (l *Logger) Record(ctx context.Context, outcome devdomain.CommandOutcome) {
	if l == nil || l.repo == nil {
		return
	}
	rec := &domain.Record{
		ID:          uuid.New().String(),
		RequestID:   outcome.RequestID,
		DeviceID:    outcome.DeviceID,
		Kind:        string(outcome.Kind),
		Success:     outcome.Success,
		ErrorKind:   string(outcome.ErrorKind),
		Degraded:    outcome.Degraded,
		CompletedAt: outcome.CompletedAt,
		CreatedAt:   time.Now().UTC(),
	}
	if err := l.repo.Create(ctx, rec); err != nil {
		log.Printf("audit: failed to record command %s for %s: %v", rec.Kind, rec.DeviceID, err)
	}
}
