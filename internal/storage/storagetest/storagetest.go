// Package storagetest opens migrated throwaway databases for tests.
package storagetest

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/investment-reminders/backend/internal/storage"
)

// NewDB returns a migrated database in a temporary directory that is closed
// when the test finishes.
func NewDB(tb testing.TB) *storage.DB {
	tb.Helper()

	db, err := storage.NewDB(filepath.Join(tb.TempDir(), "reminders.db"))
	if err != nil {
		tb.Fatalf("opening database: %v", err)
	}
	tb.Cleanup(func() { db.Close() })

	if err := storage.RunMigrations(db, zerolog.Nop()); err != nil {
		tb.Fatalf("running migrations: %v", err)
	}

	return db
}
