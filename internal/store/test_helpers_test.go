package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/prepchain/internal/ir"
)

// createTestStore creates a new temporary store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testOrigin(datasetID string) ir.Step {
	return ir.Step{
		ID:        ir.MustOriginID(datasetID),
		DatasetID: datasetID,
		CreatedBy: "system",
		IRVersion: ir.IRVersion,
	}
}

func testChild(parent string, actions ...ir.Action) ir.Step {
	return ir.Step{
		ID:        ir.MustStepID(parent, actions),
		ParentID:  parent,
		Actions:   actions,
		CreatedBy: "alice",
		IRVersion: ir.IRVersion,
	}
}
