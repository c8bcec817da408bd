package testutil

import (
	"path/filepath"
	"testing"

	"github.com/nhle/robinsync/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// NewFileStore creates a SQLiteStore backed by a file in a temporary
// directory, for tests that reopen the database.
func NewFileStore(t *testing.T) (*store.SQLiteStore, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "robinsync.db")
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("creating file store: %v", err)
	}

	t.Cleanup(func() { _ = s.Close() })

	return s, path
}
