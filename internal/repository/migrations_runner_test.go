package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestApplyMigrations_CreatesExpectedTables(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, ApplyMigrations(context.Background(), db, "sqlite"))

	for _, table := range []string{"accounts", "usage_history", "dashboard_settings", "schema_migrations"} {
		var name string
		err := db.QueryRowContext(context.Background(),
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		require.NoErrorf(t, err, "expected table %s to exist", table)
	}
}

func TestApplyMigrations_IdempotentOnSecondRun(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, ApplyMigrations(context.Background(), db, "sqlite"))
	require.NoError(t, ApplyMigrations(context.Background(), db, "sqlite"))
}

func TestApplyMigrations_SeedsDashboardSettingsSingleton(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, ApplyMigrations(context.Background(), db, "sqlite"))

	var id int
	require.NoError(t, db.QueryRowContext(context.Background(), "SELECT id FROM dashboard_settings WHERE id = 1").Scan(&id))
	require.Equal(t, 1, id)
}

func TestApplyMigrations_RejectsChangedChecksum(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, ApplyMigrations(context.Background(), db, "sqlite"))

	_, err := db.ExecContext(context.Background(),
		"UPDATE schema_migrations SET checksum = 'tampered' WHERE filename = 'sqlite/001_create_accounts.sql'")
	require.NoError(t, err)

	err = ApplyMigrations(context.Background(), db, "sqlite")
	require.Error(t, err)
	require.Contains(t, err.Error(), "checksum mismatch")
}
