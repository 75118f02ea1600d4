// Package dbtest opens throwaway databases for package tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"mpchat/internal/db"
)

// Open creates a migrated SQLite database in a temporary directory.
func Open(t testing.TB) *db.Database {
	t.Helper()

	ctx := context.Background()
	d, err := db.NewDatabase(ctx, db.DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	if err := d.Migrate(ctx); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return d
}
