package repo

import (
	"context"
	"database/sql"

	"teamledger/internal/domain"
)

const decisionColumns = `id,project_id,task_id,author_id,title,explanation,reasoning,impact_level,created_at`

func scanDecision(scan func(dest ...any) error) (domain.Decision, error) {
	var d domain.Decision
	var projectID, taskID sql.NullInt64
	err := scan(&d.ID, &projectID, &taskID, &d.AuthorID, &d.Title, &d.Explanation, &d.Reasoning, &d.ImpactLevel, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if projectID.Valid {
		d.ProjectID = &projectID.Int64
	}
	if taskID.Valid {
		d.TaskID = &taskID.Int64
	}
	return d, nil
}

func (r Repo) InsertDecision(ctx context.Context, tx *sql.Tx, d domain.Decision) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO decisions(project_id,task_id,author_id,title,explanation,reasoning,impact_level,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		nullableID(d.ProjectID), nullableID(d.TaskID), d.AuthorID, d.Title, d.Explanation, d.Reasoning, d.ImpactLevel, d.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetDecision(ctx context.Context, id int64) (domain.Decision, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+decisionColumns+` FROM decisions WHERE id=?`, id)
	return scanDecision(row.Scan)
}

type DecisionFilter struct {
	ProjectID *int64
	AuthorID  *int64
	Since     string
}

func (r Repo) ListDecisions(ctx context.Context, f DecisionFilter) ([]domain.Decision, error) {
	var clauses []string
	var args []any
	if f.ProjectID != nil {
		clauses = append(clauses, "project_id=?")
		args = append(args, *f.ProjectID)
	}
	if f.AuthorID != nil {
		clauses = append(clauses, "author_id=?")
		args = append(args, *f.AuthorID)
	}
	if f.Since != "" {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.Since)
	}
	query := `SELECT ` + decisionColumns + ` FROM decisions ` + buildWhere(clauses) + ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
