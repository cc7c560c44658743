// Package dataset provides the dataset collaborator: existence checks and
// bounded row samples. Dataset storage itself lives elsewhere; this
// package only adapts it.
package dataset

import (
	"context"
	"errors"

	"github.com/roach88/prepchain/internal/ir"
)

// ErrNotFound reports a dataset that does not exist.
var ErrNotFound = errors.New("dataset not found")

// Sample is the head of a dataset: its columns and up to limit rows.
type Sample struct {
	Columns []ir.Column
	Rows    []ir.Row
}

// Source answers dataset questions. Implementations must be safe for
// concurrent use.
type Source interface {
	// Exists reports whether the dataset is present. An error means the
	// answer is unknown, not that the dataset is absent.
	Exists(ctx context.Context, id string) (bool, error)

	// Sample returns the dataset's columns and its first limit rows
	// (limit <= 0 means no limit). A missing dataset returns ErrNotFound.
	Sample(ctx context.Context, id string, limit int) (Sample, error)
}

func truncate(rows []ir.Row, limit int) []ir.Row {
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]ir.Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}
