package testutil

import (
	"testing"

	"drive-go/internal/database"
	"drive-go/internal/drive"
)

// NewTestStore creates a new in-memory SQLite store with migrations applied.
// The store is automatically closed when the test completes.
func NewTestStore(t *testing.T, clock drive.Clock) *database.SQLStore {
	t.Helper()

	if clock == nil {
		clock = FixedClock()
	}
	s, err := database.OpenSQLite(":memory:", clock)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		t.Fatalf("failed to migrate: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s
}
