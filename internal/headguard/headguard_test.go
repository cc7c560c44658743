package headguard

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prepchain/internal/dataset"
	"github.com/roach88/prepchain/internal/ir"
)

type staticPaths map[string][]ir.Step

func (p staticPaths) Ancestors(_ context.Context, id string) ([]ir.Step, error) {
	path, ok := p[id]
	if !ok {
		return nil, ir.NewStepNotFound("", id)
	}
	return path, nil
}

// erroringSource reports a transport failure for one dataset id.
type erroringSource struct {
	dataset.Source
	failing string
}

func (e erroringSource) Exists(ctx context.Context, id string) (bool, error) {
	if id == e.failing {
		return false, errors.New("connection refused")
	}
	return e.Source.Exists(ctx, id)
}

func lookupAction(ds string) ir.Action {
	return ir.NewAction("lookup", "lookup_ds_id", ds, "column_id", "0000",
		"lookup_column_id", "0000", "lookup_value_column", "0001")
}

func paths() staticPaths {
	origin := ir.Step{ID: "o", DatasetID: "D1"}
	plain := ir.Step{ID: "s1", ParentID: "o", Actions: []ir.Action{ir.NewAction("negate", "column_id", "0000")}}
	withLookups := ir.Step{ID: "s2", ParentID: "s1", Actions: []ir.Action{lookupAction("D2"), lookupAction("D3"), lookupAction("D2")}}
	return staticPaths{
		"o":  {origin},
		"s1": {origin, plain},
		"s2": {origin, plain, withLookups},
	}
}

func TestCheck_NoReferences(t *testing.T) {
	v := New(paths(), dataset.NewMemory(), nil, nil)
	r, err := v.Check(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, r.Movable())
	assert.Empty(t, r.Referenced)
}

func TestCheck_AllPresent(t *testing.T) {
	mem := dataset.NewMemory()
	mem.Put("D2", nil, nil)
	mem.Put("D3", nil, nil)

	ok, err := New(paths(), mem, nil, nil).IsHeadMovable(context.Background(), "s2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheck_DeletedDataset(t *testing.T) {
	mem := dataset.NewMemory()
	mem.Put("D3", nil, nil)

	r, err := New(paths(), mem, nil, nil).Check(context.Background(), "s2")
	require.NoError(t, err)
	assert.False(t, r.Movable())
	assert.Equal(t, []string{"D2", "D3"}, r.Referenced, "references are de-duplicated")
	assert.Equal(t, []string{"D2"}, r.Missing)
	assert.Empty(t, r.LookupErrors)

	err = Require("p1", r)
	assert.ErrorIs(t, err, ir.ErrInvalidHeadStep)
	assert.Contains(t, err.Error(), "[D2]")
}

func TestCheck_LookupErrorTreatedAsAbsent(t *testing.T) {
	mem := dataset.NewMemory()
	mem.Put("D2", nil, nil)
	mem.Put("D3", nil, nil)
	src := erroringSource{Source: mem, failing: "D3"}

	r, err := New(paths(), src, nil, nil).Check(context.Background(), "s2")
	require.NoError(t, err, "lookup failures are not re-thrown")
	assert.False(t, r.Movable())
	assert.Empty(t, r.Missing, "a transport error is not a confirmed absence")
	require.Contains(t, r.LookupErrors, "D3")
	assert.ErrorContains(t, r.LookupErrors["D3"], "connection refused")
}

func TestCheck_UnknownStep(t *testing.T) {
	_, err := New(paths(), dataset.NewMemory(), nil, nil).Check(context.Background(), "nope")
	assert.ErrorIs(t, err, ir.ErrStepNotFound)
}

func TestCheck_CustomParams(t *testing.T) {
	path := staticPaths{"s": {
		{ID: "o", DatasetID: "D1"},
		{ID: "s", ParentID: "o", Actions: []ir.Action{ir.NewAction("join", "right", "D9")}},
	}}
	v := New(path, dataset.NewMemory(), map[string]string{"join": "right"}, nil)

	r, err := v.Check(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"D9"}, r.Missing)
}

func TestRequire_Movable(t *testing.T) {
	assert.NoError(t, Require("p1", Report{StepID: "s"}))
}
