package repo

import (
	"context"
	"database/sql"

	"teamledger/internal/domain"
)

const workLogColumns = `id,task_id,user_id,content,blockers,decisions_made,hours_spent,created_at`

func scanWorkLog(scan func(dest ...any) error) (domain.WorkLog, error) {
	var w domain.WorkLog
	var blockers, decisionsMade sql.NullString
	err := scan(&w.ID, &w.TaskID, &w.UserID, &w.Content, &blockers, &decisionsMade, &w.HoursSpent, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	if blockers.Valid {
		w.Blockers = blockers.String
	}
	if decisionsMade.Valid {
		w.DecisionsMade = decisionsMade.String
	}
	return w, nil
}

func (r Repo) InsertWorkLog(ctx context.Context, tx *sql.Tx, w domain.WorkLog) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO work_logs(task_id,user_id,content,blockers,decisions_made,hours_spent,created_at) VALUES (?,?,?,?,?,?,?)`,
		w.TaskID, w.UserID, w.Content, nullable(w.Blockers), nullable(w.DecisionsMade), w.HoursSpent, w.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetWorkLog(ctx context.Context, id int64) (domain.WorkLog, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+workLogColumns+` FROM work_logs WHERE id=?`, id)
	return scanWorkLog(row.Scan)
}

type WorkLogFilter struct {
	TaskID    *int64
	UserID    *int64
	ProjectID *int64
	// Since keeps only logs created at or after this RFC3339 instant.
	Since string
}

func (r Repo) ListWorkLogs(ctx context.Context, f WorkLogFilter) ([]domain.WorkLog, error) {
	var clauses []string
	var args []any
	if f.TaskID != nil {
		clauses = append(clauses, "w.task_id=?")
		args = append(args, *f.TaskID)
	}
	if f.UserID != nil {
		clauses = append(clauses, "w.user_id=?")
		args = append(args, *f.UserID)
	}
	if f.ProjectID != nil {
		clauses = append(clauses, "t.project_id=?")
		args = append(args, *f.ProjectID)
	}
	if f.Since != "" {
		clauses = append(clauses, "w.created_at >= ?")
		args = append(args, f.Since)
	}
	query := `SELECT w.id,w.task_id,w.user_id,w.content,w.blockers,w.decisions_made,w.hours_spent,w.created_at
		FROM work_logs w JOIN tasks t ON t.id = w.task_id ` + buildWhere(clauses) + ` ORDER BY w.created_at, w.id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkLog
	for rows.Next() {
		w, err := scanWorkLog(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// CountBlockerLogs counts a project's logs since the given instant that carry
// a non-empty blockers field.
func (r Repo) CountBlockerLogs(ctx context.Context, projectID int64, since string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM work_logs w JOIN tasks t ON t.id = w.task_id
		WHERE t.project_id=? AND w.created_at >= ? AND w.blockers IS NOT NULL AND w.blockers != ''`,
		projectID, since).Scan(&n)
	return n, err
}
