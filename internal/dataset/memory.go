package dataset

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/prepchain/internal/ir"
)

// Memory is an in-process Source for tests, scenarios and demos.
type Memory struct {
	mu       sync.RWMutex
	datasets map[string]Sample
}

// NewMemory creates an empty Memory source.
func NewMemory() *Memory {
	return &Memory{datasets: map[string]Sample{}}
}

// Put stores (or replaces) a dataset.
func (m *Memory) Put(id string, columns []ir.Column, rows []ir.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datasets[id] = Sample{Columns: ir.CloneColumns(columns), Rows: truncate(rows, 0)}
}

// Delete removes a dataset. Deleting an unknown id is a no-op.
func (m *Memory) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.datasets, id)
}

// Exists implements Source.
func (m *Memory) Exists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.datasets[id]
	return ok, nil
}

// Sample implements Source.
func (m *Memory) Sample(_ context.Context, id string, limit int) (Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ds, ok := m.datasets[id]
	if !ok {
		return Sample{}, fmt.Errorf("dataset %s: %w", id, ErrNotFound)
	}
	return Sample{Columns: ir.CloneColumns(ds.Columns), Rows: truncate(ds.Rows, limit)}, nil
}
