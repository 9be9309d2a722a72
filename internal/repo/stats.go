package repo

import (
	"context"
)

// StatusCounts maps task status to the number of tasks in it.
type StatusCounts map[string]int

func (r Repo) TaskStatusCounts(ctx context.Context, projectID *int64) (StatusCounts, error) {
	query := `SELECT status, count(*) FROM tasks GROUP BY status`
	var args []any
	if projectID != nil {
		query = `SELECT status, count(*) FROM tasks WHERE project_id=? GROUP BY status`
		args = append(args, *projectID)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := StatusCounts{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r Repo) ProjectHours(ctx context.Context, projectID int64) (float64, error) {
	var hours float64
	err := r.DB.QueryRowContext(ctx, `SELECT coalesce(sum(w.hours_spent), 0) FROM work_logs w JOIN tasks t ON t.id = w.task_id WHERE t.project_id=?`,
		projectID).Scan(&hours)
	return hours, err
}

// MemberHours aggregates logged hours per contributor across a project.
type MemberHours struct {
	UserID int64   `json:"user_id"`
	Name   string  `json:"name"`
	Hours  float64 `json:"hours"`
	Logs   int     `json:"logs"`
}

func (r Repo) ProjectMemberHours(ctx context.Context, projectID int64) ([]MemberHours, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT u.id, u.name, coalesce(sum(w.hours_spent), 0), count(w.id)
		FROM work_logs w JOIN tasks t ON t.id = w.task_id JOIN users u ON u.id = w.user_id
		WHERE t.project_id=? GROUP BY u.id, u.name ORDER BY sum(w.hours_spent) DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []MemberHours
	for rows.Next() {
		var m MemberHours
		if err := rows.Scan(&m.UserID, &m.Name, &m.Hours, &m.Logs); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// MilestoneHours sums logged hours for tasks grouped under each milestone.
type MilestoneHours struct {
	MilestoneID int64   `json:"milestone_id"`
	Title       string  `json:"title"`
	Hours       float64 `json:"hours"`
}

func (r Repo) ProjectMilestoneHours(ctx context.Context, projectID int64) ([]MilestoneHours, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT m.id, m.title, coalesce(sum(w.hours_spent), 0)
		FROM milestones m
		LEFT JOIN tasks t ON t.milestone_id = m.id
		LEFT JOIN work_logs w ON w.task_id = t.id
		WHERE m.project_id=? GROUP BY m.id, m.title ORDER BY m.id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []MilestoneHours
	for rows.Next() {
		var m MilestoneHours
		if err := rows.Scan(&m.MilestoneID, &m.Title, &m.Hours); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// CountTasksDoneSince counts tasks that reached their terminal state within
// the window, using the last-update timestamp as the completion instant.
func (r Repo) CountTasksDoneSince(ctx context.Context, projectID int64, since string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE project_id=? AND status='DONE' AND updated_at >= ?`,
		projectID, since).Scan(&n)
	return n, err
}

// UserActivity is the per-user slice of the aggregation surface.
type UserActivity struct {
	TasksAssigned int     `json:"tasks_assigned"`
	TasksDone     int     `json:"tasks_done"`
	HoursLogged   float64 `json:"hours_logged"`
	LogCount      int     `json:"log_count"`
	Decisions     int     `json:"decisions"`
}

func (r Repo) UserActivity(ctx context.Context, userID int64) (UserActivity, error) {
	var a UserActivity
	err := r.DB.QueryRowContext(ctx, `SELECT count(*), coalesce(sum(CASE WHEN status='DONE' THEN 1 ELSE 0 END), 0) FROM tasks WHERE assignee_id=?`,
		userID).Scan(&a.TasksAssigned, &a.TasksDone)
	if err != nil {
		return a, err
	}
	err = r.DB.QueryRowContext(ctx, `SELECT coalesce(sum(hours_spent), 0), count(*) FROM work_logs WHERE user_id=?`,
		userID).Scan(&a.HoursLogged, &a.LogCount)
	if err != nil {
		return a, err
	}
	err = r.DB.QueryRowContext(ctx, `SELECT count(*) FROM decisions WHERE author_id=?`, userID).Scan(&a.Decisions)
	return a, err
}

// Totals is the organization-wide roll-up behind the overview endpoint.
type Totals struct {
	Projects    int     `json:"projects"`
	Users       int     `json:"users"`
	ActiveUsers int     `json:"active_users"`
	Tasks       int     `json:"tasks"`
	WorkLogs    int     `json:"work_logs"`
	Decisions   int     `json:"decisions"`
	HoursLogged float64 `json:"hours_logged"`
	// Contributors counts distinct users who logged work or hold a task.
	Contributors int `json:"contributors"`
}

func (r Repo) OverviewTotals(ctx context.Context) (Totals, error) {
	var t Totals
	err := r.DB.QueryRowContext(ctx, `SELECT
		(SELECT count(*) FROM projects),
		(SELECT count(*) FROM users),
		(SELECT count(*) FROM users WHERE status='Active'),
		(SELECT count(*) FROM tasks),
		(SELECT count(*) FROM work_logs),
		(SELECT count(*) FROM decisions),
		(SELECT coalesce(sum(hours_spent), 0) FROM work_logs),
		(SELECT count(*) FROM (
			SELECT user_id FROM work_logs
			UNION
			SELECT assignee_id FROM tasks WHERE assignee_id IS NOT NULL))`).
		Scan(&t.Projects, &t.Users, &t.ActiveUsers, &t.Tasks, &t.WorkLogs, &t.Decisions, &t.HoursLogged, &t.Contributors)
	return t, err
}
