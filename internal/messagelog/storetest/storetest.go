// Package storetest opens migrated SQLite databases for tests.
package storetest

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/messagelog/internal/messagelog/migrations"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// DSN returns a file-backed SQLite DSN inside dir.
func DSN(dir string) string {
	return "file:" + filepath.Join(dir, "messagelog.db") + "?_pragma=busy_timeout(5000)&_txlock=immediate"
}

// Open returns a fresh, migrated SQLite database closed at test cleanup.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", DSN(t.TempDir()))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		t.Fatalf("goose dialect: %v", err)
	}
	if err := goose.Up(db, migrations.Dir("sqlite3")); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
