package repo

import (
	"context"
	"database/sql"

	"teamledger/internal/domain"
)

const taskColumns = `id,project_id,milestone_id,assignee_id,title,description,priority,status,version,created_at,updated_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var milestoneID, assigneeID sql.NullInt64
	var desc sql.NullString
	err := scan(&t.ID, &t.ProjectID, &milestoneID, &assigneeID, &t.Title, &desc, &t.Priority, &t.Status, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if milestoneID.Valid {
		t.MilestoneID = &milestoneID.Int64
	}
	if assigneeID.Valid {
		t.AssigneeID = &assigneeID.Int64
	}
	if desc.Valid {
		t.Description = desc.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO tasks(project_id,milestone_id,assignee_id,title,description,priority,status,version,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ProjectID, nullableID(t.MilestoneID), nullableID(t.AssigneeID), t.Title, nullable(t.Description), t.Priority, t.Status, t.Version, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

// UpdateTaskVersioned applies the full mutated row with a compare-and-swap on
// (id, expected version). Zero rows affected means either the task vanished or
// the version token went stale; the caller re-reads to tell them apart.
func (r Repo) UpdateTaskVersioned(ctx context.Context, tx *sql.Tx, t domain.Task, expectedVersion int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET milestone_id=?, assignee_id=?, title=?, description=?, priority=?, status=?, version=version+1, updated_at=? WHERE id=? AND version=?`,
		nullableID(t.MilestoneID), nullableID(t.AssigneeID), t.Title, nullable(t.Description), t.Priority, t.Status, t.UpdatedAt, t.ID, expectedVersion)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type TaskFilter struct {
	ProjectID  *int64
	AssigneeID *int64
	Status     string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilter) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != nil {
		clauses = append(clauses, "project_id=?")
		args = append(args, *f.ProjectID)
	}
	if f.AssigneeID != nil {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, *f.AssigneeID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + buildWhere(clauses) + ` ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ListOpenTasksByAssignee returns the assignee's tasks that still need work,
// ordered so the most pressing come first.
func (r Repo) ListOpenTasksByAssignee(ctx context.Context, userID int64) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE assignee_id=? AND status != ? ORDER BY CASE priority WHEN 'High' THEN 0 WHEN 'Medium' THEN 1 ELSE 2 END, id`,
		userID, domain.StatusDone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountTaskLogs(ctx context.Context, tx *sql.Tx, taskID int64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM work_logs WHERE task_id=?`, taskID).Scan(&n)
	return n, err
}
