package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"teamledger/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableID(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

// --- projects ---

func scanProject(scan func(dest ...any) error) (domain.Project, error) {
	var p domain.Project
	var desc, target sql.NullString
	err := scan(&p.ID, &p.Name, &desc, &p.Status, &p.StartDate, &target, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if desc.Valid {
		p.Description = desc.String
	}
	if target.Valid {
		p.TargetDate = &target.String
	}
	return p, nil
}

const projectColumns = `id,name,description,status,start_date,target_date,created_at`

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO projects(name,description,status,start_date,target_date,created_at) VALUES (?,?,?,?,?,?)`,
		p.Name, nullable(p.Description), p.Status, p.StartDate, nullableStringPtr(p.TargetDate), p.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetProject(ctx context.Context, id int64) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Project, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// --- memberships ---

func (r Repo) InsertMember(ctx context.Context, tx *sql.Tx, m domain.ProjectMember) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO project_members(project_id,user_id,role_in_project,joined_at) VALUES (?,?,?,?)`,
		m.ProjectID, m.UserID, m.Role, m.JoinedAt)
	return err
}

func (r Repo) GetMember(ctx context.Context, projectID, userID int64) (domain.ProjectMember, error) {
	var m domain.ProjectMember
	err := r.DB.QueryRowContext(ctx, `SELECT project_id,user_id,role_in_project,joined_at FROM project_members WHERE project_id=? AND user_id=?`,
		projectID, userID).Scan(&m.ProjectID, &m.UserID, &m.Role, &m.JoinedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) ListMembers(ctx context.Context, projectID int64) ([]domain.ProjectMember, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id,user_id,role_in_project,joined_at FROM project_members WHERE project_id=? ORDER BY joined_at`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProjectMember
	for rows.Next() {
		var m domain.ProjectMember
		if err := rows.Scan(&m.ProjectID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) CountMembers(ctx context.Context, projectID int64) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM project_members WHERE project_id=?`, projectID).Scan(&n)
	return n, err
}

// --- milestones ---

func (r Repo) InsertMilestone(ctx context.Context, tx *sql.Tx, m domain.Milestone) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO milestones(project_id,title,description,target_date,status) VALUES (?,?,?,?,?)`,
		m.ProjectID, m.Title, nullable(m.Description), nullableStringPtr(m.TargetDate), m.Status)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) ListMilestones(ctx context.Context, projectID int64) ([]domain.Milestone, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,title,description,target_date,status FROM milestones WHERE project_id=? ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Milestone
	for rows.Next() {
		var m domain.Milestone
		var desc, target sql.NullString
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Title, &desc, &target, &m.Status); err != nil {
			return nil, err
		}
		if desc.Valid {
			m.Description = desc.String
		}
		if target.Valid {
			m.TargetDate = &target.String
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,description,triggered_by,project_id,payload_json FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var desc, payload sql.NullString
		var triggeredBy, projectID sql.NullInt64
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &desc, &triggeredBy, &projectID, &payload); err != nil {
			return nil, err
		}
		if desc.Valid {
			e.Description = desc.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		if triggeredBy.Valid {
			e.TriggeredBy = &triggeredBy.Int64
		}
		if projectID.Valid {
			e.ProjectID = &projectID.Int64
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func buildWhere(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(clauses, " AND ")
}
