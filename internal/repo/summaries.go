package repo

import (
	"context"
	"database/sql"

	"teamledger/internal/domain"
)

const summaryColumns = `id,project_id,user_id,kind,content,status,model,context_hash,error_log,generated_at`

func scanSummary(scan func(dest ...any) error) (domain.Summary, error) {
	var s domain.Summary
	var projectID, userID sql.NullInt64
	var model, contextHash, errorLog sql.NullString
	err := scan(&s.ID, &projectID, &userID, &s.Kind, &s.Content, &s.Status, &model, &contextHash, &errorLog, &s.GeneratedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if projectID.Valid {
		s.ProjectID = &projectID.Int64
	}
	if userID.Valid {
		s.UserID = &userID.Int64
	}
	if model.Valid {
		s.Model = model.String
	}
	if contextHash.Valid {
		s.ContextHash = contextHash.String
	}
	if errorLog.Valid {
		s.ErrorLog = errorLog.String
	}
	return s, nil
}

func (r Repo) InsertSummary(ctx context.Context, tx *sql.Tx, s domain.Summary) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO summaries(project_id,user_id,kind,content,status,model,context_hash,error_log,generated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		nullableID(s.ProjectID), nullableID(s.UserID), s.Kind, s.Content, s.Status, nullable(s.Model), nullable(s.ContextHash), nullable(s.ErrorLog), s.GeneratedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// FindCachedSummary returns the latest successful summary whose context hash
// matches, meaning the underlying activity has not changed since it was made.
func (r Repo) FindCachedSummary(ctx context.Context, projectID *int64, userID *int64, kind, contextHash string) (domain.Summary, error) {
	var clauses []string
	var args []any
	if projectID != nil {
		clauses = append(clauses, "project_id=?")
		args = append(args, *projectID)
	} else {
		clauses = append(clauses, "project_id IS NULL")
	}
	if userID != nil {
		clauses = append(clauses, "user_id=?")
		args = append(args, *userID)
	} else {
		clauses = append(clauses, "user_id IS NULL")
	}
	clauses = append(clauses, "kind=?", "context_hash=?", "status=?")
	args = append(args, kind, contextHash, domain.SummarySuccess)
	row := r.DB.QueryRowContext(ctx, `SELECT `+summaryColumns+` FROM summaries `+buildWhere(clauses)+` ORDER BY id DESC LIMIT 1`, args...)
	return scanSummary(row.Scan)
}

type SummaryFilter struct {
	ProjectID *int64
	UserID    *int64
	Kind      string
}

func (r Repo) ListSummaries(ctx context.Context, f SummaryFilter) ([]domain.Summary, error) {
	var clauses []string
	var args []any
	if f.ProjectID != nil {
		clauses = append(clauses, "project_id=?")
		args = append(args, *f.ProjectID)
	}
	if f.UserID != nil {
		clauses = append(clauses, "user_id=?")
		args = append(args, *f.UserID)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	query := `SELECT ` + summaryColumns + ` FROM summaries ` + buildWhere(clauses) + ` ORDER BY id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Summary
	for rows.Next() {
		s, err := scanSummary(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
