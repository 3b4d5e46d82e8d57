// Package migrations embeds the account store's schema files, one tree per
// supported dialect, consumed by internal/repository's migration runner.
package migrations

import "embed"

//go:embed postgres/*.sql
var PostgresFS embed.FS

//go:embed sqlite/*.sql
var SqliteFS embed.FS

// FS returns the embedded migration tree for driver ("postgres" or
// "sqlite").
func FS(driver string) embed.FS {
	if driver == "postgres" {
		return PostgresFS
	}
	return SqliteFS
}
