package app

import (
	"database/sql"
	"fmt"

	"teamledger/internal/config"
	"teamledger/internal/db"
	"teamledger/internal/migrate"
)

// Setup opens the workspace database, applies migrations and loads config.
// The caller owns the returned connection.
func Setup(workspace string) (*sql.DB, *config.Config, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, cfg, nil
}
