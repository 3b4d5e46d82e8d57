package repository

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/ssh352/codex-lb-sub001/migrations"
)

// migrationsAdvisoryLockID serializes migrations across instances sharing a
// Postgres database. SQLite deployments are always single-process, so the
// lock is skipped there (pg_advisory_lock has no SQLite equivalent).
const migrationsAdvisoryLockID int64 = 694208311321144027
const migrationsLockRetryInterval = 500 * time.Millisecond

const schemaMigrationsTableDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	filename   TEXT PRIMARY KEY,
	checksum   TEXT NOT NULL,
	applied_at TIMESTAMP NOT NULL
);
`

// ApplyMigrations applies the embedded schema files for driver to db. Safe
// to call on every process start: already-applied migrations are skipped by
// filename, and a changed file (different checksum) is rejected rather than
// silently re-applied.
func ApplyMigrations(ctx context.Context, db *sql.DB, driver string) error {
	if db == nil {
		return errors.New("nil sql db")
	}

	if driver == "postgres" {
		if err := pgAdvisoryLock(ctx, db); err != nil {
			return err
		}
		defer func() { _ = pgAdvisoryUnlock(context.Background(), db) }()
	}

	if _, err := db.ExecContext(ctx, schemaMigrationsTableDDL); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	fsys := migrations.FS(driver)
	dir := "sqlite"
	if driver == "postgres" {
		dir = "postgres"
	}
	files, err := fs.Glob(fsys, dir+"/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	placeholder := func(n int) string {
		if driver == "postgres" {
			return "$" + itoa(n)
		}
		return "?"
	}

	for _, name := range files {
		contentBytes, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		content := strings.TrimSpace(string(contentBytes))
		if content == "" {
			continue
		}

		sum := sha256.Sum256([]byte(content))
		checksum := hex.EncodeToString(sum[:])

		var existing string
		rowErr := db.QueryRowContext(ctx, "SELECT checksum FROM schema_migrations WHERE filename = "+placeholder(1), name).Scan(&existing)
		if rowErr == nil {
			if existing != checksum {
				return fmt.Errorf("migration %s checksum mismatch (db=%s file=%s): migration files must not change after being applied", name, existing, checksum)
			}
			continue
		}
		if !errors.Is(rowErr, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", name, rowErr)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, content); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (filename, checksum, applied_at) VALUES ("+placeholder(1)+","+placeholder(2)+","+placeholder(3)+")",
			name, checksum, time.Now().UTC()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}

	return nil
}

func pgAdvisoryLock(ctx context.Context, db *sql.DB) error {
	ticker := time.NewTicker(migrationsLockRetryInterval)
	defer ticker.Stop()

	for {
		var locked bool
		if err := db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", migrationsAdvisoryLockID).Scan(&locked); err != nil {
			return fmt.Errorf("acquire migrations lock: %w", err)
		}
		if locked {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("acquire migrations lock: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func pgAdvisoryUnlock(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", migrationsAdvisoryLockID)
	if err != nil {
		return fmt.Errorf("release migrations lock: %w", err)
	}
	return nil
}
