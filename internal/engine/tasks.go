package engine

import (
	"context"
	"fmt"

	"teamledger/internal/domain"
	"teamledger/internal/engine/auth"
	"teamledger/internal/events"
	"teamledger/internal/repo"
)

func validPriority(p string) bool {
	switch p {
	case domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh:
		return true
	}
	return false
}

func validOpenStatus(s string) bool {
	switch s {
	case domain.StatusTodo, domain.StatusInProgress, domain.StatusReview:
		return true
	}
	return false
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ProjectID   int64
	MilestoneID *int64
	AssigneeID  *int64
	Title       string
	Description string
	Priority    string
}

func (e Engine) CreateTask(ctx context.Context, id auth.Identity, opts TaskCreateOptions) (domain.Task, error) {
	if err := auth.RequireActive(id, "create tasks"); err != nil {
		return domain.Task{}, err
	}
	if opts.Title == "" {
		return domain.Task{}, validationf("title is required")
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !validPriority(opts.Priority) {
		return domain.Task{}, validationf("priority must be one of Low, Medium, High")
	}
	p, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	if p.Status == domain.ProjectCompleted {
		return domain.Task{}, validationf("project %d is completed", opts.ProjectID)
	}
	// Members may only create tasks for themselves; assigning others is an
	// admin action.
	if !id.IsAdmin() {
		if opts.AssigneeID == nil {
			opts.AssigneeID = &id.UserID
		} else if *opts.AssigneeID != id.UserID {
			return domain.Task{}, auth.ForbiddenError{Action: "assign tasks to other users"}
		}
	}
	if opts.AssigneeID != nil {
		u, err := e.Repo.GetUser(ctx, *opts.AssigneeID)
		if err != nil {
			return domain.Task{}, err
		}
		if u.Status != domain.UserActive {
			return domain.Task{}, validationf("assignee %d is not active", *opts.AssigneeID)
		}
	}
	if opts.MilestoneID != nil {
		found := false
		milestones, err := e.Repo.ListMilestones(ctx, opts.ProjectID)
		if err != nil {
			return domain.Task{}, err
		}
		for _, m := range milestones {
			if m.ID == *opts.MilestoneID {
				found = true
				break
			}
		}
		if !found {
			return domain.Task{}, validationf("milestone %d not in project %d", *opts.MilestoneID, opts.ProjectID)
		}
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	now := e.nowRFC3339()
	t := domain.Task{
		ProjectID:   opts.ProjectID,
		MilestoneID: opts.MilestoneID,
		AssigneeID:  opts.AssigneeID,
		Title:       opts.Title,
		Description: opts.Description,
		Priority:    opts.Priority,
		Status:      domain.StatusTodo,
		Version:     0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	t.ID, err = e.Repo.InsertTask(ctx, tx, t)
	if err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskCreated,
		fmt.Sprintf("task %q created", t.Title), &id.UserID, &t.ProjectID,
		events.Payload{"task_id": t.ID}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TaskPatch carries the fields an update may change. Nil means leave as is.
// Status may move among the open states only; DONE has its own operation.
type TaskPatch struct {
	Title         *string
	Description   *string
	Priority      *string
	Status        *string
	AssigneeID    *int64
	ClearAssignee bool
	MilestoneID   *int64
}

// UpdateTask applies the patch with a compare-and-swap on the submitted
// version. A stale version leaves the row untouched and reports the current
// version in the returned ConflictError.
func (e Engine) UpdateTask(ctx context.Context, id auth.Identity, taskID, version int64, patch TaskPatch) (domain.Task, error) {
	if err := auth.RequireActive(id, "update tasks"); err != nil {
		return domain.Task{}, err
	}
	if patch.Status != nil {
		if *patch.Status == domain.StatusDone {
			return domain.Task{}, validationf("status DONE is set by the complete operation")
		}
		if !validOpenStatus(*patch.Status) {
			return domain.Task{}, validationf("status must be one of TODO, IN_PROGRESS, REVIEW")
		}
	}
	if patch.Priority != nil && !validPriority(*patch.Priority) {
		return domain.Task{}, validationf("priority must be one of Low, Medium, High")
	}
	if patch.Title != nil && *patch.Title == "" {
		return domain.Task{}, validationf("title must not be empty")
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.requireTaskWrite(id, t, "update this task"); err != nil {
		return domain.Task{}, err
	}
	if t.Status == domain.StatusDone {
		return domain.Task{}, validationf("task %d is done and can no longer change", taskID)
	}
	reassigned := false
	statusChanged := false
	prevStatus := t.Status
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}
	if patch.Status != nil && *patch.Status != t.Status {
		t.Status = *patch.Status
		statusChanged = true
	}
	if patch.ClearAssignee {
		if err := auth.RequireAdmin(id, "reassign tasks"); err != nil {
			return domain.Task{}, err
		}
		t.AssigneeID = nil
		reassigned = true
	} else if patch.AssigneeID != nil {
		if err := auth.RequireAdmin(id, "reassign tasks"); err != nil {
			return domain.Task{}, err
		}
		u, err := e.Repo.GetUser(ctx, *patch.AssigneeID)
		if err != nil {
			return domain.Task{}, err
		}
		if u.Status != domain.UserActive {
			return domain.Task{}, validationf("assignee %d is not active", *patch.AssigneeID)
		}
		t.AssigneeID = patch.AssigneeID
		reassigned = true
	}
	if patch.MilestoneID != nil {
		t.MilestoneID = patch.MilestoneID
	}
	t.UpdatedAt = e.nowRFC3339()

	ok, err := e.Repo.UpdateTaskVersioned(ctx, tx, t, version)
	if err != nil {
		return domain.Task{}, fmt.Errorf("update task: %w", err)
	}
	if !ok {
		return domain.Task{}, ConflictError{TaskID: taskID, ExpectedVersion: version, CurrentVersion: t.Version}
	}
	t.Version = version + 1

	evtType := events.TypeTaskUpdated
	desc := fmt.Sprintf("task %d updated", t.ID)
	if statusChanged {
		evtType = events.TypeStatusChange
		desc = fmt.Sprintf("task %d moved %s to %s", t.ID, prevStatus, t.Status)
	} else if reassigned {
		evtType = events.TypeTaskReassigned
		desc = fmt.Sprintf("task %d reassigned", t.ID)
	}
	if err := e.Events.Append(ctx, tx, evtType, desc, &id.UserID, &t.ProjectID,
		events.Payload{"task_id": t.ID, "version": t.Version}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// CompleteTask is the only path to DONE. It requires at least one work log on
// the task, applies the same compare-and-swap as UpdateTask, and writes
// nothing on any failure.
func (e Engine) CompleteTask(ctx context.Context, id auth.Identity, taskID, version int64) (domain.Task, error) {
	if err := auth.RequireActive(id, "complete tasks"); err != nil {
		return domain.Task{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.requireTaskWrite(id, t, "complete this task"); err != nil {
		return domain.Task{}, err
	}
	if t.Status == domain.StatusDone {
		return domain.Task{}, validationf("task %d is already done", taskID)
	}
	logs, err := e.Repo.CountTaskLogs(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if logs == 0 {
		return domain.Task{}, ProvenanceError{TaskID: taskID}
	}

	prevStatus := t.Status
	t.Status = domain.StatusDone
	t.UpdatedAt = e.nowRFC3339()
	ok, err := e.Repo.UpdateTaskVersioned(ctx, tx, t, version)
	if err != nil {
		return domain.Task{}, fmt.Errorf("complete task: %w", err)
	}
	if !ok {
		return domain.Task{}, ConflictError{TaskID: taskID, ExpectedVersion: version, CurrentVersion: t.Version}
	}
	t.Version = version + 1

	if err := e.Events.Append(ctx, tx, events.TypeStatusChange,
		fmt.Sprintf("task %d moved %s to %s", t.ID, prevStatus, domain.StatusDone),
		&id.UserID, &t.ProjectID, events.Payload{"task_id": t.ID, "version": t.Version}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, taskID int64) (domain.Task, error) {
	return e.Repo.GetTask(ctx, taskID)
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilter) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, f)
}

// requireTaskWrite enforces the member write boundary: members touch only
// tasks assigned to them, admins touch anything.
func (e Engine) requireTaskWrite(id auth.Identity, t domain.Task, action string) error {
	if id.IsAdmin() {
		return nil
	}
	if t.AssigneeID != nil && *t.AssigneeID == id.UserID {
		return nil
	}
	return auth.ForbiddenError{Action: action}
}
