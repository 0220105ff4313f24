package statetest

import (
	"io"
	"log/slog"
	"testing"

	"tasksync/pkg/state"
)

// NewStore creates an in-memory SQLite store with all migrations applied.
// It is closed when the test completes.
func NewStore(t *testing.T) *state.DBStore {
	t.Helper()

	s, err := state.NewDBStore(state.DriverSQLite, ":memory:?_time_format=sqlite", slog.New(slog.NewTextHandler(io.Discard, nil)))
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
