package engine

import (
	"context"
	"fmt"

	"teamledger/internal/domain"
	"teamledger/internal/engine/auth"
	"teamledger/internal/events"
	"teamledger/internal/repo"
)

// WorkLogCreateOptions are parameters for logging work against a task.
type WorkLogCreateOptions struct {
	TaskID        int64
	Content       string
	Blockers      string
	DecisionsMade string
	HoursSpent    float64
}

// CreateWorkLog appends an immutable provenance record. A non-empty
// decisions_made field also appends a Decision entry in the same transaction,
// so insights surfaced while working are never lost.
func (e Engine) CreateWorkLog(ctx context.Context, id auth.Identity, opts WorkLogCreateOptions) (domain.WorkLog, error) {
	if err := auth.RequireActive(id, "log work"); err != nil {
		return domain.WorkLog{}, err
	}
	if opts.Content == "" {
		return domain.WorkLog{}, validationf("content is required")
	}
	if opts.HoursSpent <= 0 {
		return domain.WorkLog{}, validationf("hours_spent must be greater than zero")
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return domain.WorkLog{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, opts.TaskID)
	if err != nil {
		return domain.WorkLog{}, err
	}
	if t.Status == domain.StatusDone {
		return domain.WorkLog{}, validationf("task %d is done and accepts no more logs", opts.TaskID)
	}

	now := e.nowRFC3339()
	w := domain.WorkLog{
		TaskID:        opts.TaskID,
		UserID:        id.UserID,
		Content:       opts.Content,
		Blockers:      opts.Blockers,
		DecisionsMade: opts.DecisionsMade,
		HoursSpent:    opts.HoursSpent,
		CreatedAt:     now,
	}
	w.ID, err = e.Repo.InsertWorkLog(ctx, tx, w)
	if err != nil {
		return domain.WorkLog{}, fmt.Errorf("insert work log: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeWorkLogged,
		fmt.Sprintf("%.1fh logged on task %d", w.HoursSpent, w.TaskID),
		&id.UserID, &t.ProjectID, events.Payload{"task_id": w.TaskID, "work_log_id": w.ID}); err != nil {
		return domain.WorkLog{}, err
	}

	if opts.DecisionsMade != "" {
		d := domain.Decision{
			ProjectID:   &t.ProjectID,
			TaskID:      &t.ID,
			AuthorID:    id.UserID,
			Title:       fmt.Sprintf("Insight from task: %s", t.Title),
			Explanation: opts.DecisionsMade,
			Reasoning:   fmt.Sprintf("Recorded while logging work on task %d", t.ID),
			ImpactLevel: domain.PriorityMedium,
			CreatedAt:   now,
		}
		d.ID, err = e.Repo.InsertDecision(ctx, tx, d)
		if err != nil {
			return domain.WorkLog{}, fmt.Errorf("insert derived decision: %w", err)
		}
		if err := e.Events.Append(ctx, tx, events.TypeDecisionCreated,
			fmt.Sprintf("decision %q recorded", d.Title), &id.UserID, &t.ProjectID,
			events.Payload{"decision_id": d.ID, "work_log_id": w.ID}); err != nil {
			return domain.WorkLog{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.WorkLog{}, err
	}
	return w, nil
}

func (e Engine) GetWorkLog(ctx context.Context, logID int64) (domain.WorkLog, error) {
	return e.Repo.GetWorkLog(ctx, logID)
}

func (e Engine) ListWorkLogs(ctx context.Context, f repo.WorkLogFilter) ([]domain.WorkLog, error) {
	return e.Repo.ListWorkLogs(ctx, f)
}
