// Package dbtest opens migrated in-memory databases for tests.
package dbtest

import (
	"context"
	"database/sql"
	"testing"

	"alibi/backend/internal/db"

	_ "modernc.org/sqlite"
)

// Open returns a fresh in-memory SQLite database with all migrations applied.
// The pool is pinned to one connection so every query sees the same database.
func Open(t testing.TB) *sql.DB {
	t.Helper()

	database, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	database.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = database.Close() })

	if err := db.Migrate(context.Background(), database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}

// SeedUser inserts a user row directly and fails the test on error.
func SeedUser(t testing.TB, database *sql.DB, id, tier string, callCount int, encryptedCredential *string) {
	t.Helper()
	if _, err := database.Exec(`
INSERT INTO users (id, google_sub, email, display_name, tier, call_count, encrypted_credential)
VALUES (?, ?, ?, ?, ?, ?, ?);
`, id, id+"-sub", id+"@example.com", "Test User", tier, callCount, encryptedCredential); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}
