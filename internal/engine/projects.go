package engine

import (
	"context"
	"fmt"
	"time"

	"teamledger/internal/domain"
	"teamledger/internal/engine/auth"
	"teamledger/internal/events"
)

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	Name        string
	Description string
	StartDate   string
	TargetDate  *string
}

func (e Engine) CreateProject(ctx context.Context, id auth.Identity, opts ProjectCreateOptions) (domain.Project, error) {
	if err := auth.RequireAdmin(id, "create projects"); err != nil {
		return domain.Project{}, err
	}
	if opts.Name == "" {
		return domain.Project{}, validationf("name is required")
	}
	now := e.nowRFC3339()
	start := opts.StartDate
	if start == "" {
		start = now
	} else if _, err := time.Parse(time.RFC3339, start); err != nil {
		return domain.Project{}, validationf("start_date must be RFC3339")
	}
	if opts.TargetDate != nil {
		if _, err := time.Parse(time.RFC3339, *opts.TargetDate); err != nil {
			return domain.Project{}, validationf("target_date must be RFC3339")
		}
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p := domain.Project{
		Name:        opts.Name,
		Description: opts.Description,
		Status:      domain.ProjectActive,
		StartDate:   start,
		TargetDate:  opts.TargetDate,
		CreatedAt:   now,
	}
	p.ID, err = e.Repo.InsertProject(ctx, tx, p)
	if err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeProjectCreated,
		fmt.Sprintf("project %q created", p.Name), &id.UserID, &p.ID,
		events.Payload{"name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) GetProject(ctx context.Context, projectID int64) (domain.Project, error) {
	return e.Repo.GetProject(ctx, projectID)
}

func (e Engine) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx)
}

func (e Engine) AddMember(ctx context.Context, id auth.Identity, projectID, userID int64, roleInProject string) (domain.ProjectMember, error) {
	if err := auth.RequireAdmin(id, "manage project members"); err != nil {
		return domain.ProjectMember{}, err
	}
	if roleInProject == "" {
		roleInProject = "Contributor"
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.ProjectMember{}, err
	}
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return domain.ProjectMember{}, err
	}
	if u.Status != domain.UserActive {
		return domain.ProjectMember{}, validationf("user %d is not active", userID)
	}
	if _, err := e.Repo.GetMember(ctx, projectID, userID); err == nil {
		return domain.ProjectMember{}, validationf("user %d already a member of project %d", userID, projectID)
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return domain.ProjectMember{}, err
	}
	defer tx.Rollback()

	m := domain.ProjectMember{
		ProjectID: projectID,
		UserID:    userID,
		Role:      roleInProject,
		JoinedAt:  e.nowRFC3339(),
	}
	if err := e.Repo.InsertMember(ctx, tx, m); err != nil {
		return domain.ProjectMember{}, fmt.Errorf("insert member: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.ProjectMember{}, err
	}
	return m, nil
}

func (e Engine) ListMembers(ctx context.Context, projectID int64) ([]domain.ProjectMember, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListMembers(ctx, projectID)
}

// MilestoneCreateOptions are parameters for creating a milestone.
type MilestoneCreateOptions struct {
	Title       string
	Description string
	TargetDate  *string
}

func (e Engine) CreateMilestone(ctx context.Context, id auth.Identity, projectID int64, opts MilestoneCreateOptions) (domain.Milestone, error) {
	if err := auth.RequireAdmin(id, "manage milestones"); err != nil {
		return domain.Milestone{}, err
	}
	if opts.Title == "" {
		return domain.Milestone{}, validationf("title is required")
	}
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Milestone{}, err
	}
	if p.Status == domain.ProjectCompleted {
		return domain.Milestone{}, validationf("project %d is completed", projectID)
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Milestone{}, err
	}
	defer tx.Rollback()

	m := domain.Milestone{
		ProjectID:   projectID,
		Title:       opts.Title,
		Description: opts.Description,
		TargetDate:  opts.TargetDate,
		Status:      domain.ProjectActive,
	}
	m.ID, err = e.Repo.InsertMilestone(ctx, tx, m)
	if err != nil {
		return domain.Milestone{}, fmt.Errorf("insert milestone: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Milestone{}, err
	}
	return m, nil
}

func (e Engine) ListMilestones(ctx context.Context, projectID int64) ([]domain.Milestone, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListMilestones(ctx, projectID)
}
