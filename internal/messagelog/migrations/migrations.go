// Package migrations embeds the goose migrations of the log record store,
// one directory per SQL dialect.
package migrations

import "embed"

//go:embed postgres/*.sql sqlite/*.sql
var Migrations embed.FS

// Dir returns the migrations directory for a goose dialect name.
func Dir(dialect string) string {
	if dialect == "sqlite" || dialect == "sqlite3" {
		return "sqlite"
	}
	return "postgres"
}
