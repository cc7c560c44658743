package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/prepchain/internal/ir"
)

// Scenario defines one preparation scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Datasets seeds the in-memory dataset catalog, keyed by dataset id.
	Datasets map[string]DatasetFixture `yaml:"datasets"`

	// Preparations are created before the flow runs.
	Preparations []PrepFixture `yaml:"preparations,omitempty"`

	// Flow is the sequence of service operations to execute.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final state and the trace.
	Assertions []Assertion `yaml:"assertions"`
}

// DatasetFixture is an in-memory dataset. Column ids are assigned
// positionally ("0000", "0001", ...) like the CSV catalog does.
type DatasetFixture struct {
	Columns []ColumnFixture `yaml:"columns"`
	Rows    [][]string      `yaml:"rows"`
}

// ColumnFixture declares one column. An empty type is a string column.
type ColumnFixture struct {
	Name string `yaml:"name"`
	Type string `yaml:"type,omitempty"`
}

// PrepFixture declares a preparation. ID is the alias flow steps use; the
// service assigns the real id.
type PrepFixture struct {
	ID      string `yaml:"id"`
	Dataset string `yaml:"dataset"`
	Name    string `yaml:"name"`
	Owner   string `yaml:"owner"`
}

// ActionFixture is one action, spelled the way recipe files spell it.
type ActionFixture struct {
	Action string            `yaml:"action"`
	Params map[string]string `yaml:"params,omitempty"`
}

// FlowStep invokes one service operation.
type FlowStep struct {
	// Op is one of the Op* constants.
	Op string `yaml:"op"`

	// Prep is a preparation alias.
	Prep string `yaml:"prep,omitempty"`

	// User performs the operation. Defaults to the preparation owner.
	User string `yaml:"user,omitempty"`

	// Step, After and To are step references.
	Step  string `yaml:"step,omitempty"`
	After string `yaml:"after,omitempty"`
	To    string `yaml:"to,omitempty"`

	// Source is the preparation alias copy reads from.
	Source string `yaml:"source,omitempty"`

	// Dataset names a dataset for preview_add without a preparation and
	// for drop_dataset.
	Dataset string `yaml:"dataset,omitempty"`

	// Name is the new name for rename.
	Name string `yaml:"name,omitempty"`

	Actions []ActionFixture `yaml:"actions,omitempty"`

	// Rows restricts preview output to these 1-based sample rows.
	Rows []int `yaml:"rows,omitempty"`

	// Save remembers the preparation's head after the step under a name.
	Save string `yaml:"save,omitempty"`

	// Expect describes a failure the step must produce. Absent means the
	// step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected failure.
type ExpectClause struct {
	// Error is the expected ir error code, e.g. STALE_HEAD.
	Error string `yaml:"error"`
}

// Assertion validates final state or the trace.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	Prep    string          `yaml:"prep,omitempty"`
	Actions []ActionFixture `yaml:"actions,omitempty"`
	Count   int             `yaml:"count,omitempty"`
	Refs    []string        `yaml:"refs,omitempty"`
	User    string          `yaml:"user,omitempty"`

	// Op and Outcome filter trace events for trace_count.
	Op      string `yaml:"op,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`
}

// Flow operations.
const (
	OpAppend        = "append"
	OpAppendEach    = "append_each"
	OpUpdate        = "update"
	OpDelete        = "delete"
	OpReorder       = "reorder"
	OpMoveHead      = "move_head"
	OpUndo          = "undo"
	OpRedo          = "redo"
	OpCopy          = "copy"
	OpLock          = "lock"
	OpUnlock        = "unlock"
	OpRename        = "rename"
	OpDeletePrep    = "delete_prep"
	OpPreviewAdd    = "preview_add"
	OpPreviewUpdate = "preview_update"
	OpPreviewDelete = "preview_delete"
	OpPreviewDiff   = "preview_diff"
	OpSample        = "sample"
	OpDropDataset   = "drop_dataset"
)

// Assertion types.
const (
	AssertHeadActions = "head_actions"
	AssertStepCount   = "step_count"
	AssertSameStep    = "same_step"
	AssertLockedBy    = "locked_by"
	AssertTraceCount  = "trace_count"
)

var knownOps = []string{
	OpAppend, OpAppendEach, OpUpdate, OpDelete, OpReorder, OpMoveHead,
	OpUndo, OpRedo, OpCopy, OpLock, OpUnlock, OpRename, OpDeletePrep,
	OpPreviewAdd, OpPreviewUpdate, OpPreviewDelete, OpPreviewDiff,
	OpSample, OpDropDataset,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios lists the .yaml and .yml files under dir whose base name
// matches the glob filter (empty matches everything), sorted by path.
func FindScenarios(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			ok, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter %q: %w", filter, err)
			}
			if !ok {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for id, ds := range s.Datasets {
		for i, row := range ds.Rows {
			if len(row) != len(ds.Columns) {
				return fmt.Errorf("datasets.%s.rows[%d]: has %d values, want %d", id, i, len(row), len(ds.Columns))
			}
		}
	}

	aliases := map[string]bool{}
	for i, p := range s.Preparations {
		if p.ID == "" || p.Dataset == "" {
			return fmt.Errorf("preparations[%d]: id and dataset are required", i)
		}
		if aliases[p.ID] {
			return fmt.Errorf("preparations[%d]: duplicate id %q", i, p.ID)
		}
		aliases[p.ID] = true
	}

	for i, step := range s.Flow {
		if err := validateStep(i, &step, aliases); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step *FlowStep, aliases map[string]bool) error {
	if !slices.Contains(knownOps, step.Op) {
		return fmt.Errorf("flow[%d]: unknown op %q", index, step.Op)
	}
	if step.Op == OpDropDataset || (step.Op == OpPreviewAdd && step.Prep == "") {
		if step.Dataset == "" {
			return fmt.Errorf("flow[%d]: dataset is required for %s", index, step.Op)
		}
		return nil
	}
	if !aliases[step.Prep] {
		return fmt.Errorf("flow[%d]: unknown prep %q", index, step.Prep)
	}
	if step.Expect != nil && step.Expect.Error == "" {
		return fmt.Errorf("flow[%d].expect: error is required", index)
	}
	switch step.Op {
	case OpUpdate, OpDelete, OpReorder, OpMoveHead, OpRedo, OpPreviewUpdate, OpPreviewDelete:
		if step.Step == "" {
			return fmt.Errorf("flow[%d]: step is required for %s", index, step.Op)
		}
	case OpCopy:
		if !aliases[step.Source] {
			return fmt.Errorf("flow[%d]: unknown source %q", index, step.Source)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertHeadActions, AssertStepCount, AssertLockedBy:
		if a.Prep == "" {
			return fmt.Errorf("assertions[%d]: prep is required for %s", index, a.Type)
		}
	case AssertSameStep:
		if len(a.Refs) < 2 {
			return fmt.Errorf("assertions[%d]: same_step needs at least two refs", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// toActions converts fixtures into ir actions.
func toActions(fixtures []ActionFixture) []ir.Action {
	out := make([]ir.Action, len(fixtures))
	for i, f := range fixtures {
		params := make(map[string]string, len(f.Params))
		for k, v := range f.Params {
			params[k] = v
		}
		out[i] = ir.Action{Name: f.Action, Parameters: params}
	}
	return out
}
