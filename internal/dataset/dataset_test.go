package dataset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prepchain/internal/ir"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	cols := []ir.Column{{ID: "0000", Name: "a", Type: ir.TypeString}}
	m.Put("D1", cols, []ir.Row{
		{Values: map[string]string{"0000": "x"}},
		{Values: map[string]string{"0000": "y"}},
		{Values: map[string]string{"0000": "z"}},
	})

	ok, err := m.Exists(ctx, "D1")
	require.NoError(t, err)
	assert.True(t, ok)

	s, err := m.Sample(ctx, "D1", 2)
	require.NoError(t, err)
	assert.Len(t, s.Rows, 2)
	assert.Equal(t, cols, s.Columns)

	// Samples are copies.
	s.Rows[0].Values["0000"] = "mutated"
	again, err := m.Sample(ctx, "D1", 0)
	require.NoError(t, err)
	assert.Equal(t, "x", again.Rows[0].Get("0000"))
	assert.Len(t, again.Rows, 3)

	m.Delete("D1")
	ok, err = m.Exists(ctx, "D1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.Sample(ctx, "D1", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCSVDir(t *testing.T) {
	dir := t.TempDir()
	content := "name,active:boolean,amount:integer\nalice,true,10\nbob,false\n\"carol, jr\",maybe,30\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "people.csv"), []byte(content), 0o644))

	ctx := context.Background()
	d := NewCSVDir(dir)

	ok, err := d.Exists(ctx, "people")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Exists(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)

	s, err := d.Sample(ctx, "people", 0)
	require.NoError(t, err)
	assert.Equal(t, []ir.Column{
		{ID: "0000", Name: "name", Type: ir.TypeString},
		{ID: "0001", Name: "active", Type: ir.TypeBoolean},
		{ID: "0002", Name: "amount", Type: ir.TypeInteger},
	}, s.Columns)
	require.Len(t, s.Rows, 3)
	assert.Equal(t, "", s.Rows[1].Get("0002"), "short records are padded")
	assert.Equal(t, "carol, jr", s.Rows[2].Get("0000"))

	limited, err := d.Sample(ctx, "people", 1)
	require.NoError(t, err)
	assert.Len(t, limited.Rows, 1)

	_, err = d.Sample(ctx, "nobody", 1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = d.Exists(ctx, "../etc/passwd")
	assert.Error(t, err)
}

func TestCSVDir_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.csv"), nil, 0o644))

	s, err := NewCSVDir(dir).Sample(context.Background(), "empty", 10)
	require.NoError(t, err)
	assert.Empty(t, s.Columns)
	assert.Empty(t, s.Rows)
}

// flakySource fails the first failures calls of each kind.
type flakySource struct {
	mu       sync.Mutex
	failures int
	calls    int
	err      error
	inner    Source
}

func (f *flakySource) next() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func (f *flakySource) Exists(ctx context.Context, id string) (bool, error) {
	if err := f.next(); err != nil {
		return false, err
	}
	return f.inner.Exists(ctx, id)
}

func (f *flakySource) Sample(ctx context.Context, id string, limit int) (Sample, error) {
	if err := f.next(); err != nil {
		return Sample{}, err
	}
	return f.inner.Sample(ctx, id, limit)
}

func testConfig(now func() time.Time) ResilienceConfig {
	return ResilienceConfig{
		Timeout:          time.Second,
		Retries:          2,
		InitialBackoff:   time.Millisecond,
		FailureThreshold: 2,
		ResetAfter:       time.Minute,
		Now:              now,
	}
}

func TestResilient_RetriesTransientFailures(t *testing.T) {
	mem := NewMemory()
	mem.Put("D1", nil, []ir.Row{{Values: map[string]string{"a": "1"}}})
	flaky := &flakySource{failures: 2, err: errors.New("connection reset"), inner: mem}

	r := NewResilient(flaky, testConfig(time.Now))
	s, err := r.Sample(context.Background(), "D1", 10)
	require.NoError(t, err)
	assert.Len(t, s.Rows, 1)
	assert.Equal(t, 3, flaky.calls)
	assert.Equal(t, CircuitClosed, r.State())
}

func TestResilient_NotFoundIsNotRetried(t *testing.T) {
	flaky := &flakySource{inner: NewMemory()}
	r := NewResilient(flaky, testConfig(time.Now))

	_, err := r.Sample(context.Background(), "missing", 10)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, ir.IsCode(err, ir.CodeDatasetUnavailable))
	assert.Equal(t, 1, flaky.calls)
}

func TestResilient_SampleFailureIsDatasetUnavailable(t *testing.T) {
	flaky := &flakySource{failures: 100, err: errors.New("timeout"), inner: NewMemory()}
	r := NewResilient(flaky, testConfig(time.Now))

	_, err := r.Sample(context.Background(), "D1", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ir.ErrDatasetUnavailable)
	assert.Equal(t, 3, flaky.calls, "first attempt plus two retries")
}

func TestResilient_BreakerOpensAndRecovers(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	mem := NewMemory()
	mem.Put("D1", nil, nil)
	flaky := &flakySource{failures: 6, err: errors.New("down"), inner: mem}
	r := NewResilient(flaky, testConfig(clock))
	ctx := context.Background()

	_, err := r.Exists(ctx, "D1")
	require.Error(t, err)
	_, err = r.Exists(ctx, "D1")
	require.Error(t, err)
	assert.Equal(t, CircuitOpen, r.State())

	calls := flaky.calls
	_, err = r.Exists(ctx, "D1")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, calls, flaky.calls, "open circuit short-circuits")

	now = now.Add(time.Minute)
	ok, err := r.Exists(ctx, "D1")
	require.NoError(t, err, "probe succeeds once the source recovers")
	assert.True(t, ok)
	assert.Equal(t, CircuitClosed, r.State())
}

func TestResilient_CancelledContext(t *testing.T) {
	flaky := &flakySource{failures: 100, err: errors.New("down"), inner: NewMemory()}
	r := NewResilient(flaky, testConfig(time.Now))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Sample(ctx, "D1", 1)
	require.Error(t, err)
	assert.False(t, ir.IsCode(err, ir.CodeDatasetUnavailable))
	assert.Equal(t, CircuitClosed, r.State())
}
