// Package helpers provides shared test fixtures.
package helpers

import (
	"testing"

	"github.com/conductor-ai/conductor/runstore"
)

// NewTestRunStore opens an in-memory SQLite run store and closes it when
// the test ends.
func NewTestRunStore(t *testing.T) *runstore.SQLite {
	t.Helper()

	s, err := runstore.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite run store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}
