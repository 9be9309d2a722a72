package repo

import (
	"context"
	"database/sql"

	"teamledger/internal/domain"
)

const userColumns = `id,name,email,role,status,created_at`

func scanUser(scan func(dest ...any) error) (domain.User, error) {
	var u domain.User
	err := scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Status, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User, passwordHash string) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO users(name,email,password_hash,role,status,created_at) VALUES (?,?,?,?,?,?)`,
		u.Name, u.Email, nullable(passwordHash), u.Role, u.Status, u.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetUser(ctx context.Context, id int64) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id)
	return scanUser(row.Scan)
}

func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, id int64) (domain.User, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id)
	return scanUser(row.Scan)
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, email)
	return scanUser(row.Scan)
}

// GetCredentials returns the user row together with its stored password hash.
// The hash never leaves the repo/engine boundary.
func (r Repo) GetCredentials(ctx context.Context, email string) (domain.User, string, error) {
	var u domain.User
	var hash sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,email,password_hash,role,status,created_at FROM users WHERE email=?`, email).
		Scan(&u.ID, &u.Name, &u.Email, &hash, &u.Role, &u.Status, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, "", ErrNotFound
	}
	if err != nil {
		return u, "", err
	}
	return u, hash.String, nil
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) UpdateUserStatus(ctx context.Context, tx *sql.Tx, id int64, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE users SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
