package testutil

import (
	"testing"

	"megadata-go/internal/database"
)

// NewTestDatabase creates a migrated in-memory token store using the given
// clock and sequential ids. The store is closed when the test completes.
func NewTestDatabase(t *testing.T, clock *StubClock) *database.SQLiteStore {
	t.Helper()

	store, err := database.NewSQLiteStore(":memory:", clock, NewStubIDGenerator())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})

	if err := store.Migrate(); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}
	return store
}
