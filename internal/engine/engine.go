package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"teamledger/internal/config"
	"teamledger/internal/domain"
	"teamledger/internal/engine/auth"
	"teamledger/internal/events"
	"teamledger/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

// ValidationError rejects malformed input before any row is touched.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

func validationf(format string, args ...any) ValidationError {
	return ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports a stale version token on a task mutation. The change
// was not applied; CurrentVersion tells the caller what to re-read against.
type ConflictError struct {
	TaskID          int64
	ExpectedVersion int64
	CurrentVersion  int64
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("task %d version conflict: submitted %d, current %d", e.TaskID, e.ExpectedVersion, e.CurrentVersion)
}

// ProvenanceError rejects a completion attempt for a task with no work-log
// evidence behind it.
type ProvenanceError struct {
	TaskID int64
}

func (e ProvenanceError) Error() string {
	return fmt.Sprintf("task %d cannot be completed without at least one work log", e.TaskID)
}

func (e Engine) begin(ctx context.Context) (*sql.Tx, error) {
	return e.DB.BeginTx(ctx, nil)
}

// LatestEvents exposes the tail of the system log to admins.
func (e Engine) LatestEvents(ctx context.Context, id auth.Identity, limit int) ([]domain.Event, error) {
	if err := auth.RequireAdmin(id, "read the system log"); err != nil {
		return nil, err
	}
	return e.Repo.LatestEvents(ctx, limit)
}
