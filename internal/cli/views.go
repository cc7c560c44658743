package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/prepchain/internal/action"
	"github.com/roach88/prepchain/internal/dataset"
	"github.com/roach88/prepchain/internal/ir"
	"github.com/roach88/prepchain/internal/preview"
	"github.com/roach88/prepchain/internal/service"
)

// shortID trims a content address for text output.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// PrepView is one preparation.
type PrepView struct {
	ir.Preparation
}

func (v PrepView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %q  dataset=%s  owner=%s  head=%s",
		v.ID, v.Name, v.DatasetID, v.Owner, shortID(v.Head))
	if v.Lock != nil {
		fmt.Fprintf(&b, "  locked-by=%s", v.Lock.Holder)
	}
	return b.String()
}

// PrepListView is a list of preparations.
type PrepListView []PrepView

func (v PrepListView) String() string {
	if len(v) == 0 {
		return "No preparations found."
	}
	lines := make([]string, len(v))
	for i, p := range v {
		lines[i] = p.String()
	}
	return strings.Join(lines, "\n")
}

// StepView is one step of a head path.
type StepView struct {
	Position  int         `json:"position"`
	ID        string      `json:"id"`
	ParentID  string      `json:"parent_id,omitempty"`
	Actions   []ir.Action `json:"actions"`
	CreatedBy string      `json:"created_by"`
	CreatedAt time.Time   `json:"created_at"`
}

func (v StepView) String() string {
	if v.ParentID == "" {
		return fmt.Sprintf("%3d  %s  (origin)", v.Position, shortID(v.ID))
	}
	parts := make([]string, len(v.Actions))
	for i, a := range v.Actions {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%3d  %s  %s", v.Position, shortID(v.ID), strings.Join(parts, " | "))
}

// StepListView is a head path, origin first.
type StepListView []StepView

func (v StepListView) String() string {
	lines := make([]string, len(v))
	for i, s := range v {
		lines[i] = s.String()
	}
	return strings.Join(lines, "\n")
}

func stepViews(path []ir.Step) StepListView {
	out := make(StepListView, len(path))
	for i, s := range path {
		out[i] = StepView{
			Position:  i,
			ID:        s.ID,
			ParentID:  s.ParentID,
			Actions:   s.Actions,
			CreatedBy: s.CreatedBy,
			CreatedAt: s.CreatedAt,
		}
	}
	return out
}

// ActionListView is a resolved action list.
type ActionListView []ir.Action

func (v ActionListView) String() string {
	if len(v) == 0 {
		return "(no actions)"
	}
	lines := make([]string, len(v))
	for i, a := range v {
		lines[i] = fmt.Sprintf("%3d  %s", i+1, a)
	}
	return strings.Join(lines, "\n")
}

// EditView summarizes a committed edit.
type EditView struct {
	PreparationID string `json:"preparation_id"`
	PreviousHead  string `json:"previous_head"`
	Head          string `json:"head"`
	Kept          int    `json:"kept"`
	Replayed      int    `json:"replayed"`
	Created       int    `json:"created"`
}

func editView(r service.EditResult) EditView {
	return EditView{
		PreparationID: r.Preparation.ID,
		PreviousHead:  r.PreviousHead,
		Head:          r.Head(),
		Kept:          r.Kept,
		Replayed:      r.Replayed,
		Created:       r.Created,
	}
}

func (v EditView) String() string {
	if v.Head == v.PreviousHead {
		return fmt.Sprintf("%s: head unchanged at %s", v.PreparationID, shortID(v.Head))
	}
	return fmt.Sprintf("%s: head %s -> %s (kept %d, replayed %d, new %d)",
		v.PreparationID, shortID(v.PreviousHead), shortID(v.Head), v.Kept, v.Replayed, v.Created)
}

// HeadView reports where a head move landed.
type HeadView struct {
	PreparationID string `json:"preparation_id"`
	Head          string `json:"head"`
}

func (v HeadView) String() string {
	return fmt.Sprintf("%s: head at %s", v.PreparationID, shortID(v.Head))
}

// PreviewView is a drained preview diff.
type PreviewView struct {
	DatasetID string               `json:"dataset_id"`
	Columns   []preview.ColumnDiff `json:"columns"`
	Rows      []preview.RowDiff    `json:"rows"`
}

func previewView(res *preview.Result) (PreviewView, error) {
	defer res.Stop()
	rows, err := preview.Collect(res.Rows)
	if err != nil {
		return PreviewView{}, err
	}
	cols := res.ColumnDiffs
	if cols == nil {
		cols = []preview.ColumnDiff{}
	}
	if rows == nil {
		rows = []preview.RowDiff{}
	}
	return PreviewView{DatasetID: res.DatasetID, Columns: cols, Rows: rows}, nil
}

func (v PreviewView) String() string {
	lines := []string{"dataset " + v.DatasetID}
	for _, c := range v.Columns {
		lines = append(lines, preview.FormatColumn(c))
	}
	for _, r := range v.Rows {
		lines = append(lines, preview.FormatRow(r))
	}
	return strings.Join(lines, "\n")
}

// SampleView is a transformed dataset sample.
type SampleView struct {
	Columns []ir.Column         `json:"columns"`
	Rows    []map[string]string `json:"rows"`
}

func sampleView(s dataset.Sample) SampleView {
	rows := make([]map[string]string, len(s.Rows))
	for i, r := range s.Rows {
		rows[i] = r.Values
	}
	return SampleView{Columns: s.Columns, Rows: rows}
}

func (v SampleView) String() string {
	header := make([]string, len(v.Columns))
	for i, c := range v.Columns {
		header[i] = c.Name
	}
	lines := []string{strings.Join(header, "\t")}
	for _, r := range v.Rows {
		cells := make([]string, len(v.Columns))
		for i, c := range v.Columns {
			cells[i] = r[c.ID]
		}
		lines = append(lines, strings.Join(cells, "\t"))
	}
	return strings.Join(lines, "\n")
}

// LockView reports a lock change. ExpiresAt is unset when locks are kept
// until released.
type LockView struct {
	PreparationID string     `json:"preparation_id"`
	Holder        string     `json:"holder,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

func (v LockView) String() string {
	switch {
	case v.Holder == "":
		return fmt.Sprintf("%s: unlocked", v.PreparationID)
	case v.ExpiresAt != nil:
		return fmt.Sprintf("%s: locked by %s until %s", v.PreparationID, v.Holder, v.ExpiresAt.UTC().Format(time.RFC3339))
	default:
		return fmt.Sprintf("%s: locked by %s", v.PreparationID, v.Holder)
	}
}

// ActionSpecView describes one registered action.
type ActionSpecView struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Required    []string `json:"required,omitempty"`
	Optional    []string `json:"optional,omitempty"`
}

// ActionCatalogView lists registered actions.
type ActionCatalogView []ActionSpecView

func catalogView(specs []action.Spec) ActionCatalogView {
	out := make(ActionCatalogView, len(specs))
	for i, s := range specs {
		out[i] = ActionSpecView{Name: s.Name, Description: s.Description, Required: s.Required, Optional: s.Optional}
	}
	return out
}

func (v ActionCatalogView) String() string {
	lines := make([]string, len(v))
	for i, s := range v {
		params := append(append([]string{}, s.Required...), bracket(s.Optional)...)
		lines[i] = fmt.Sprintf("%-20s %-40s %s", s.Name, strings.Join(params, " "), s.Description)
	}
	return strings.Join(lines, "\n")
}

func bracket(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = "[" + n + "]"
	}
	return out
}
