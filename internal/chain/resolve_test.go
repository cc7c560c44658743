package chain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prepchain/internal/ir"
)

// buildPrep appends one step per action on top of datasetID's origin and
// returns a preparation whose head is the last step.
func buildPrep(t *testing.T, c *Chain, id, datasetID string, actions ...ir.Action) (ir.Preparation, []ir.Step) {
	t.Helper()
	ctx := context.Background()
	origin, err := c.CreateOrigin(ctx, datasetID, "alice")
	require.NoError(t, err)

	steps := []ir.Step{origin}
	parent := origin.ID
	for _, a := range actions {
		s, _, err := c.GetOrCreate(ctx, parent, []ir.Action{a}, "alice")
		require.NoError(t, err)
		steps = append(steps, s)
		parent = s.ID
	}
	return ir.Preparation{ID: id, DatasetID: datasetID, Head: parent}, steps
}

func TestResolveActions_Head(t *testing.T) {
	c := newTestChain(newMemStepStore())
	a1 := ir.NewAction("uppercase", "column_id", "0001")
	a2 := ir.NewAction("negate", "column_id", "0002")
	prep, _ := buildPrep(t, c, "p1", "D1", a1, a2)

	for _, ref := range []string{ir.HeadRef, "", prep.Head} {
		actions, err := c.ResolveActions(context.Background(), prep, ref)
		require.NoError(t, err)
		assert.True(t, ir.ActionsEqual([]ir.Action{a1, a2}, actions), "ref %q", ref)
	}
}

func TestResolveActions_MidChain(t *testing.T) {
	c := newTestChain(newMemStepStore())
	a1 := ir.NewAction("uppercase", "column_id", "0001")
	a2 := ir.NewAction("negate", "column_id", "0002")
	prep, steps := buildPrep(t, c, "p1", "D1", a1, a2)

	actions, err := c.ResolveActions(context.Background(), prep, steps[1].ID)
	require.NoError(t, err)
	assert.True(t, ir.ActionsEqual([]ir.Action{a1}, actions))

	actions, err = c.ResolveActions(context.Background(), prep, steps[0].ID)
	require.NoError(t, err)
	assert.Empty(t, actions, "origin resolves to no actions")
	assert.NotNil(t, actions)
}

func TestResolveActions_ForeignStep(t *testing.T) {
	c := newTestChain(newMemStepStore())
	prep, _ := buildPrep(t, c, "p1", "D1", ir.NewAction("a"))
	_, other := buildPrep(t, c, "p2", "D1", ir.NewAction("b"))

	// other[1] is a real step, but not on p1's path.
	_, err := c.ResolveActions(context.Background(), prep, other[1].ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ir.ErrStepNotFound)

	var e *ir.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "p1", e.PreparationID)
}

func TestResolve_PathIsPrefix(t *testing.T) {
	c := newTestChain(newMemStepStore())
	prep, steps := buildPrep(t, c, "p1", "D1", ir.NewAction("a"), ir.NewAction("b"), ir.NewAction("c"))

	r, err := c.Resolve(context.Background(), prep, steps[2].ID)
	require.NoError(t, err)
	assert.Equal(t, steps[2].ID, r.StepID)
	assert.Len(t, r.Path, 3)
}
