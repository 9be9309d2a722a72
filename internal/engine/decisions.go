package engine

import (
	"context"
	"fmt"

	"teamledger/internal/domain"
	"teamledger/internal/engine/auth"
	"teamledger/internal/events"
	"teamledger/internal/repo"
)

// DecisionCreateOptions are parameters for recording a decision. A nil
// ProjectID makes the decision organization-wide.
type DecisionCreateOptions struct {
	ProjectID   *int64
	TaskID      *int64
	Title       string
	Explanation string
	Reasoning   string
	ImpactLevel string
}

func (e Engine) CreateDecision(ctx context.Context, id auth.Identity, opts DecisionCreateOptions) (domain.Decision, error) {
	if err := auth.RequireActive(id, "record decisions"); err != nil {
		return domain.Decision{}, err
	}
	if opts.Title == "" || opts.Explanation == "" || opts.Reasoning == "" {
		return domain.Decision{}, validationf("title, explanation and reasoning are required")
	}
	if opts.ImpactLevel == "" {
		opts.ImpactLevel = domain.PriorityMedium
	}
	if !validPriority(opts.ImpactLevel) {
		return domain.Decision{}, validationf("impact_level must be one of Low, Medium, High")
	}
	if opts.ProjectID != nil {
		if _, err := e.Repo.GetProject(ctx, *opts.ProjectID); err != nil {
			return domain.Decision{}, err
		}
	}
	if opts.TaskID != nil {
		t, err := e.Repo.GetTask(ctx, *opts.TaskID)
		if err != nil {
			return domain.Decision{}, err
		}
		if opts.ProjectID != nil && t.ProjectID != *opts.ProjectID {
			return domain.Decision{}, validationf("task %d not in project %d", *opts.TaskID, *opts.ProjectID)
		}
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Decision{}, err
	}
	defer tx.Rollback()

	d := domain.Decision{
		ProjectID:   opts.ProjectID,
		TaskID:      opts.TaskID,
		AuthorID:    id.UserID,
		Title:       opts.Title,
		Explanation: opts.Explanation,
		Reasoning:   opts.Reasoning,
		ImpactLevel: opts.ImpactLevel,
		CreatedAt:   e.nowRFC3339(),
	}
	d.ID, err = e.Repo.InsertDecision(ctx, tx, d)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("insert decision: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeDecisionCreated,
		fmt.Sprintf("decision %q recorded", d.Title), &id.UserID, d.ProjectID,
		events.Payload{"decision_id": d.ID}); err != nil {
		return domain.Decision{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Decision{}, err
	}
	return d, nil
}

func (e Engine) GetDecision(ctx context.Context, decisionID int64) (domain.Decision, error) {
	return e.Repo.GetDecision(ctx, decisionID)
}

func (e Engine) ListDecisions(ctx context.Context, f repo.DecisionFilter) ([]domain.Decision, error) {
	return e.Repo.ListDecisions(ctx, f)
}
