package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "one append"
datasets:
  D1:
    columns:
      - {name: name}
    rows:
      - [alice]
preparations:
  - {id: P, dataset: D1, owner: u1}
flow:
  - op: append
    prep: P
    actions:
      - {action: uppercase, params: {column_id: "0000"}}
assertions:
  - type: step_count
    prep: P
    count: 1
`

func TestParseScenario_Valid(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	assert.Equal(t, "minimal", s.Name)
	require.Contains(t, s.Datasets, "D1")
	assert.Equal(t, [][]string{{"alice"}}, s.Datasets["D1"].Rows)
	require.Len(t, s.Flow, 1)
	assert.Equal(t, OpAppend, s.Flow[0].Op)
	assert.Equal(t, "uppercase", s.Flow[0].Actions[0].Action)
	assert.Equal(t, "0000", s.Flow[0].Actions[0].Params["column_id"])
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(minimalScenario + "assertion: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    `{description: d, flow: [{op: append, prep: P}], assertions: [{type: step_count, prep: P}]}`,
			wantErr: "name is required",
		},
		{
			name:    "empty flow",
			yaml:    `{name: n, description: d, flow: [], assertions: [{type: step_count, prep: P}]}`,
			wantErr: "flow list is required",
		},
		{
			name: "unknown op",
			yaml: `{name: n, description: d, preparations: [{id: P, dataset: D1}],
				flow: [{op: squash, prep: P}], assertions: [{type: step_count, prep: P}]}`,
			wantErr: `unknown op "squash"`,
		},
		{
			name:    "unknown prep",
			yaml:    `{name: n, description: d, flow: [{op: append, prep: Q}], assertions: [{type: step_count, prep: P}]}`,
			wantErr: `unknown prep "Q"`,
		},
		{
			name: "update without step",
			yaml: `{name: n, description: d, preparations: [{id: P, dataset: D1}],
				flow: [{op: update, prep: P}], assertions: [{type: step_count, prep: P}]}`,
			wantErr: "step is required for update",
		},
		{
			name: "ragged rows",
			yaml: `{name: n, description: d, datasets: {D1: {columns: [{name: a}], rows: [[x, y]]}},
				flow: [{op: drop_dataset, dataset: D1}], assertions: [{type: trace_count, op: drop_dataset, count: 1}]}`,
			wantErr: "has 2 values, want 1",
		},
		{
			name: "same_step with one ref",
			yaml: `{name: n, description: d, flow: [{op: drop_dataset, dataset: D1}],
				assertions: [{type: same_step, refs: ["$a"]}]}`,
			wantErr: "at least two refs",
		},
		{
			name: "unknown assertion",
			yaml: `{name: n, description: d, flow: [{op: drop_dataset, dataset: D1}],
				assertions: [{type: final_state}]}`,
			wantErr: `unknown assertion type "final_state"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestFindScenarios(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "notes.txt", "sub/c.yaml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	all, err := FindScenarios(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yml"),
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "sub", "c.yaml"),
	}, all)

	filtered, err := FindScenarios(dir, "b*")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.yaml")}, filtered)
}
