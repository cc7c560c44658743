package recipe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prepchain/internal/ir"
)

func TestLoadDir(t *testing.T) {
	recipes, err := LoadDir("testdata")
	require.NoError(t, err)
	require.Len(t, recipes, 2)

	c := recipes[0]
	assert.Equal(t, "customers", c.Name)
	assert.Equal(t, "D1", c.DatasetID)
	assert.Equal(t, "normalize customer names", c.Description)
	assert.Equal(t, [][]ir.Action{
		{ir.NewAction("uppercase", "column_id", "0000")},
		{ir.NewAction("negate", "column_id", "0001"), ir.NewAction("deduplicate")},
	}, c.Steps)
	assert.Len(t, c.Actions(), 3)

	assert.Equal(t, "orders", recipes[1].Name)
	assert.Equal(t, "D2", recipes[1].DatasetID)
}

func TestCompileString_ParamKinds(t *testing.T) {
	recipes, err := CompileString(`
recipe: r: {
	dataset: "D1"
	steps: [{action: "add_row", params: {values: "0000=x", limit: 3, strict: true}}]
}
`, "kinds.cue")
	require.NoError(t, err)
	p := recipes[0].Steps[0][0].Parameters
	assert.Equal(t, map[string]string{"values": "0000=x", "limit": "3", "strict": "true"}, p)
}

func TestCompileString_Errors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"no recipes", `other: 1`, "recipe"},
		{"missing dataset", `recipe: r: steps: []`, "recipe.r.dataset"},
		{"missing action name", `recipe: r: {dataset: "D1", steps: [{params: column_id: "0000"}]}`, "recipe.r.steps[0].action"},
		{"float param", `recipe: r: {dataset: "D1", steps: [{action: "x", params: ratio: 0.5}]}`, "recipe.r.steps[0].params.ratio"},
		{"empty group", `recipe: r: {dataset: "D1", steps: [{actions: []}]}`, "recipe.r.steps[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileString(tt.src, "bad.cue")
			require.Error(t, err)
			var ce *CompileError
			require.True(t, errors.As(err, &ce), "got %T: %v", err, err)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestCompileString_SyntaxError(t *testing.T) {
	_, err := CompileString(`recipe: {`, "broken.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.cue")
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile("testdata/nope.cue")
	assert.Error(t, err)
}
