package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prepchain/internal/ir"
	"github.com/roach88/prepchain/internal/preview"
	"github.com/roach88/prepchain/internal/store"
)

const customersCSV = "name,active:boolean\nalice,true\nbob,false\ncarol,true\n"

// cliEnv is a scratch store plus a CSV catalog holding "customers".
type cliEnv struct {
	t        *testing.T
	db       string
	datasets string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	datasets := filepath.Join(dir, "datasets")
	require.NoError(t, os.MkdirAll(datasets, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(datasets, "customers.csv"), []byte(customersCSV), 0o644))
	return &cliEnv{t: t, db: filepath.Join(dir, "prepchain.db"), datasets: datasets}
}

type jsonResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

// run executes one command as user in JSON mode.
func (e *cliEnv) run(user string, args ...string) (jsonResponse, error) {
	e.t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{
		"--format", "json",
		"--store", "sqlite",
		"--db", e.db,
		"--datasets", e.datasets,
		"--user", user,
	}, args...))
	err := cmd.Execute()

	var resp jsonResponse
	if out.Len() > 0 {
		require.NoError(e.t, json.Unmarshal(out.Bytes(), &resp), out.String())
	}
	return resp, err
}

// ok runs a command that must succeed and decodes its data into v.
func (e *cliEnv) ok(v any, user string, args ...string) {
	e.t.Helper()
	resp, err := e.run(user, args...)
	require.NoError(e.t, err, "%v", args)
	require.Equal(e.t, "ok", resp.Status)
	if v != nil {
		require.NoError(e.t, json.Unmarshal(resp.Data, v))
	}
}

func (e *cliEnv) createPrep(owner string) ir.Preparation {
	e.t.Helper()
	var prep ir.Preparation
	e.ok(&prep, owner, "prep", "create", "customers", "--name", "Customers")
	require.NotEmpty(e.t, prep.ID)
	return prep
}

func TestCLI_EditAndPreview(t *testing.T) {
	e := newCLIEnv(t)
	prep := e.createPrep("alice")
	assert.Equal(t, "customers", prep.DatasetID)
	assert.Equal(t, ir.MustOriginID("customers"), prep.Head)

	var first EditView
	e.ok(&first, "alice", "step", "append", prep.ID, "uppercase", "column_id=0000")
	assert.Equal(t, prep.Head, first.PreviousHead)
	assert.Equal(t, 1, first.Created)

	var second EditView
	e.ok(&second, "alice", "step", "append", prep.ID, "negate", "column_id=0001")
	assert.Equal(t, first.Head, second.PreviousHead)

	var steps []StepView
	e.ok(&steps, "alice", "step", "list", prep.ID)
	require.Len(t, steps, 3)
	assert.Empty(t, steps[0].ParentID)
	assert.Equal(t, second.Head, steps[2].ID)

	var actions []ir.Action
	e.ok(&actions, "alice", "step", "resolve", prep.ID)
	require.Len(t, actions, 2)
	assert.Equal(t, "uppercase", actions[0].Name)
	assert.Equal(t, "negate", actions[1].Name)

	var sample SampleView
	e.ok(&sample, "alice", "sample", prep.ID)
	require.Len(t, sample.Rows, 3)
	assert.Equal(t, "BOB", sample.Rows[1]["0000"])
	assert.Equal(t, "true", sample.Rows[1]["0001"])

	var diff PreviewView
	e.ok(&diff, "alice", "preview", "add", prep.ID, "delete_lines", "column_id=0000", "value=BOB")
	assert.Equal(t, "customers", diff.DatasetID)
	require.Len(t, diff.Rows, 3)
	assert.Equal(t, preview.KindUnchanged, diff.Rows[0].Kind)
	assert.Equal(t, preview.KindDeleted, diff.Rows[1].Kind)
	assert.Equal(t, 2, diff.Rows[1].Tag)

	var filtered PreviewView
	e.ok(&filtered, "alice", "preview", "add", prep.ID, "delete_lines", "column_id=0000", "value=BOB", "--rows", "2")
	require.Len(t, filtered.Rows, 1)
	assert.Equal(t, preview.KindDeleted, filtered.Rows[0].Kind)

	// Previews never move the head.
	var after ir.Preparation
	e.ok(&after, "alice", "prep", "show", prep.ID)
	assert.Equal(t, second.Head, after.Head)

	var head HeadView
	e.ok(&head, "alice", "head", "undo", prep.ID)
	assert.Equal(t, first.Head, head.Head)

	e.ok(&head, "alice", "head", "redo", prep.ID, second.Head)
	assert.Equal(t, second.Head, head.Head)
}

func TestCLI_UpdateRebasesLaterSteps(t *testing.T) {
	e := newCLIEnv(t)
	prep := e.createPrep("alice")

	var r EditView
	e.ok(&r, "alice", "step", "append", prep.ID, "--each", "uppercase", "column_id=0000", "negate", "column_id=0001")
	var steps []StepView
	e.ok(&steps, "alice", "step", "list", prep.ID)
	require.Len(t, steps, 3)

	e.ok(&r, "alice", "step", "update", prep.ID, steps[1].ID, "fillinvalidboolean", "column_id=0001", "default_value=false")
	assert.Equal(t, steps[2].ID, r.PreviousHead)
	assert.NotEqual(t, r.PreviousHead, r.Head)

	var actions []ir.Action
	e.ok(&actions, "alice", "step", "resolve", prep.ID)
	require.Len(t, actions, 2)
	assert.Equal(t, "fillinvalidboolean", actions[0].Name)
	assert.Equal(t, "negate", actions[1].Name)
}

func TestCLI_LockConflict(t *testing.T) {
	e := newCLIEnv(t)
	prep := e.createPrep("alice")

	var lock LockView
	e.ok(&lock, "alice", "lock", prep.ID)
	assert.Equal(t, "alice", lock.Holder)

	resp, err := e.run("bob", "step", "append", prep.ID, "uppercase", "column_id=0000")
	require.Error(t, err)
	assert.Equal(t, ExitConflict, GetExitCode(err))
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(ir.CodeConcurrentEditConflict), resp.Error.Code)

	e.ok(&lock, "alice", "unlock", prep.ID)
	assert.Empty(t, lock.Holder)

	e.ok(nil, "bob", "step", "append", prep.ID, "uppercase", "column_id=0000")
}

func TestCLI_LockExpiry(t *testing.T) {
	e := newCLIEnv(t)
	prep := e.createPrep("alice")

	var lock LockView
	e.ok(&lock, "alice", "lock", prep.ID)
	assert.Nil(t, lock.ExpiresAt, "locks are kept until released by default")
	e.ok(nil, "alice", "unlock", prep.ID)

	t.Setenv("PREPCHAIN_LOCK_TTL", "15m")
	before := time.Now()
	e.ok(&lock, "alice", "lock", prep.ID)
	require.NotNil(t, lock.ExpiresAt)
	assert.WithinDuration(t, before.Add(15*time.Minute), *lock.ExpiresAt, time.Minute)
	assert.Contains(t, lock.String(), "until")
}

func TestCLI_ErrorExitCodes(t *testing.T) {
	e := newCLIEnv(t)
	prep := e.createPrep("alice")

	tests := []struct {
		name     string
		args     []string
		wantExit int
		wantCode string
	}{
		{"unknown preparation", []string{"prep", "show", "nope"}, ExitNotFound, string(ir.CodePreparationNotFound)},
		{"unknown dataset", []string{"prep", "create", "orders", "--name", "Orders"}, ExitNotFound, string(ir.CodeDatasetUnavailable)},
		{"unknown action", []string{"step", "append", prep.ID, "frobnicate"}, ExitFailure, string(ir.CodeUnknownAction)},
		{"missing parameter", []string{"step", "append", prep.ID, "uppercase"}, ExitFailure, string(ir.CodeInvalidAction)},
		{"parameter before action", []string{"step", "append", prep.ID, "column_id=0000"}, ExitCommandError, ErrCodeGeneric},
		{"delete origin", []string{"step", "delete", prep.ID, prep.Head}, ExitFailure, string(ir.CodeInvalidStepPosition)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := e.run("alice", tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.wantExit, GetExitCode(err))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestCLI_CopyAndDelete(t *testing.T) {
	e := newCLIEnv(t)
	source := e.createPrep("alice")
	target := e.createPrep("alice")
	var appended EditView
	e.ok(&appended, "alice", "step", "append", source.ID, "uppercase", "column_id=0000")

	// Same dataset, so the target head lands on the source head.
	var r EditView
	e.ok(&r, "alice", "copy", target.ID, source.ID)
	assert.Equal(t, appended.Head, r.Head)
	assert.Zero(t, r.Created)

	resp, err := e.run("alice", "copy", target.ID, source.ID)
	require.Error(t, err)
	assert.Equal(t, string(ir.CodePreparationHasSteps), resp.Error.Code)

	var deleted DeletedView
	e.ok(&deleted, "alice", "prep", "delete", source.ID)
	assert.True(t, deleted.Deleted)

	var preps []ir.Preparation
	e.ok(&preps, "alice", "prep", "list")
	require.Len(t, preps, 1)
	assert.Equal(t, target.ID, preps[0].ID)
}

func TestCLI_PrepCopy(t *testing.T) {
	e := newCLIEnv(t)
	source := e.createPrep("alice")
	var appended EditView
	e.ok(&appended, "alice", "step", "append", source.ID, "uppercase", "column_id=0000")

	var cp ir.Preparation
	e.ok(&cp, "bob", "prep", "copy", source.ID, "--name", "fork")
	assert.NotEqual(t, source.ID, cp.ID)
	assert.Equal(t, appended.Head, cp.Head)
	assert.Equal(t, "fork", cp.Name)
	assert.Equal(t, "bob", cp.Owner)

	e.ok(nil, "bob", "step", "append", cp.ID, "negate", "column_id=0001")

	var src ir.Preparation
	e.ok(&src, "alice", "prep", "show", source.ID)
	assert.Equal(t, appended.Head, src.Head)

	resp, err := e.run("bob", "prep", "copy", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitNotFound, GetExitCode(err))
	assert.Equal(t, string(ir.CodePreparationNotFound), resp.Error.Code)
}

func TestCLI_Verify(t *testing.T) {
	e := newCLIEnv(t)
	prep := e.createPrep("alice")
	e.ok(nil, "alice", "step", "append", prep.ID, "uppercase", "column_id=0000")

	var result VerifyResult
	e.ok(&result, "alice", "verify")
	assert.True(t, result.AllValid)
	require.Len(t, result.Preparations, 1)
	assert.Equal(t, 1, result.Preparations[0].Steps)

	st, err := store.Open(e.db)
	require.NoError(t, err)
	_, err = st.DB().Exec(`UPDATE steps SET actions = ? WHERE parent_id IS NOT NULL`,
		`[{"name":"negate","parameters":{"column_id":"0001"}}]`)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	resp, err := e.run("alice", "verify")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "error", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.False(t, result.AllValid)
	assert.False(t, result.Preparations[0].Valid)
	assert.NotEmpty(t, result.Preparations[0].Problem)
}

const cleanupRecipe = `
recipe: cleanup: {
	dataset: "customers"
	steps: [
		{action: "uppercase", params: column_id: "0000"},
		{actions: [
			{action: "negate", params: column_id: "0001"},
			{action: "deduplicate"},
		]},
	]
}
`

func TestCLI_Recipe(t *testing.T) {
	e := newCLIEnv(t)
	path := filepath.Join(t.TempDir(), "cleanup.cue")
	require.NoError(t, os.WriteFile(path, []byte(cleanupRecipe), 0o644))

	var recipes []RecipeView
	e.ok(&recipes, "alice", "recipe", "validate", path)
	require.Len(t, recipes, 1)
	assert.Equal(t, RecipeView{Name: "cleanup", DatasetID: "customers", Steps: 2, Actions: 3}, recipes[0])

	var applied []AppliedRecipeView
	e.ok(&applied, "alice", "recipe", "apply", path)
	require.Len(t, applied, 1)
	assert.Equal(t, 2, applied[0].Steps)

	var steps []StepView
	e.ok(&steps, "alice", "step", "list", applied[0].PreparationID)
	require.Len(t, steps, 3)
	assert.Len(t, steps[2].Actions, 2)
	assert.Equal(t, applied[0].Head, steps[2].ID)
}

func TestCLI_RecipeUnknownAction(t *testing.T) {
	e := newCLIEnv(t)
	path := filepath.Join(t.TempDir(), "bad.cue")
	require.NoError(t, os.WriteFile(path, []byte(`recipe: bad: {dataset: "customers", steps: [{action: "frobnicate"}]}`), 0o644))

	resp, err := e.run("alice", "recipe", "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, string(ir.CodeUnknownAction), resp.Error.Code)
}

func TestCLI_Actions(t *testing.T) {
	e := newCLIEnv(t)

	var catalog []ActionSpecView
	e.ok(&catalog, "alice", "actions")
	names := make([]string, len(catalog))
	for i, s := range catalog {
		names[i] = s.Name
	}
	assert.Contains(t, names, "lookup")
	assert.Contains(t, names, "split_rows")
	assert.Contains(t, names, "delete_lines")
}

func TestCLI_TestCommand(t *testing.T) {
	e := newCLIEnv(t)

	var result TestResult
	e.ok(&result, "alice", "test", filepath.Join("..", "harness", "testdata", "scenarios"))
	assert.Equal(t, result.Total, result.Passed)
	assert.Zero(t, result.Failed)
	assert.NotZero(t, result.Total)
}

func TestCLI_TestCommandGolden(t *testing.T) {
	e := newCLIEnv(t)
	dir := t.TempDir()
	src, err := os.ReadFile(filepath.Join("..", "harness", "testdata", "scenarios", "edit_lock.yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "edit_lock.yaml"), src, 0o644))

	var result TestResult
	e.ok(&result, "alice", "test", dir, "--update")
	require.Len(t, result.Scenarios, 1)
	assert.Equal(t, goldenUpdated, result.Scenarios[0].Golden)

	goldenPath := filepath.Join(dir, "golden", "edit_lock.golden")
	require.FileExists(t, goldenPath)

	e.ok(&result, "alice", "test", dir)
	assert.Equal(t, goldenMatch, result.Scenarios[0].Golden)

	require.NoError(t, os.WriteFile(goldenPath, []byte("{}\n"), 0o644))
	resp, err := e.run("alice", "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Equal(t, 1, result.Failed)
}

func TestCLI_TextOutput(t *testing.T) {
	e := newCLIEnv(t)
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", e.db, "--store", "sqlite", "--datasets", e.datasets, "prep", "list"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "No preparations found.\n", out.String())
}
