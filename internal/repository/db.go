package repository

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"github.com/ssh352/codex-lb-sub001/internal/config"
)

// OpenDB opens the Account Store's backing database for the configured
// driver, matching the pack's dual-dialect (postgres/sqlite) deployments.
func OpenDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	driverName, err := sqlDriverName(cfg.Driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("repository: open %s: %w", cfg.Driver, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: ping %s: %w", cfg.Driver, err)
	}
	return db, nil
}

func sqlDriverName(driver string) (string, error) {
	switch driver {
	case "postgres":
		return "postgres", nil
	case "sqlite", "":
		return "sqlite", nil
	default:
		return "", fmt.Errorf("repository: unknown database driver %q", driver)
	}
}
