// Package storagetest opens throwaway databases for package tests.
package storagetest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/yourorg/badgeauth/internal/storage"
)

// SQLite opens a schema-migrated SQLite database in a per-test temp dir.
func SQLite(t testing.TB) *sqlx.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// Postgres opens TEST_DATABASE_URL, skipping the test when it is unset.
// Tables are truncated before use.
func Postgres(t testing.TB) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := storage.Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	if _, err := db.Exec(`TRUNCATE oauth_sessions, oauth_provider_links, users`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
