package rebase

import (
	"fmt"
	"slices"

	"github.com/roach88/prepchain/internal/ir"
)

// Op names the kind of edit a Plan performs.
type Op string

const (
	OpAppend  Op = "append"
	OpUpdate  Op = "update"
	OpDelete  Op = "delete"
	OpReorder Op = "reorder"
	OpReplay  Op = "replay"
)

// Plan is the target content of a chain after an edit.
type Plan struct {
	Op Op
	// Base is the current head path, origin first.
	Base []ir.Step
	// Lists holds the action list of every non-origin step after the edit,
	// in chain order.
	Lists [][]ir.Action
}

// Actions returns the flattened action list the planned head will resolve
// to. Preview requests use this to diff an edit before committing it.
func (p Plan) Actions() []ir.Action {
	out := []ir.Action{}
	for _, l := range p.Lists {
		out = append(out, ir.CloneActions(l)...)
	}
	return out
}

// Origin returns the base path's root.
func (p Plan) Origin() ir.Step {
	return p.Base[0]
}

// NoOp reports whether the plan reproduces the base chain exactly.
func (p Plan) NoOp() bool {
	if len(p.Lists) != len(p.Base)-1 {
		return false
	}
	for i, l := range p.Lists {
		if !ir.ActionsEqual(l, p.Base[i+1].Actions) {
			return false
		}
	}
	return true
}

// PlanAppend adds one step per list after the current head.
func PlanAppend(base []ir.Step, lists ...[]ir.Action) (Plan, error) {
	if err := checkBase(base); err != nil {
		return Plan{}, err
	}
	if len(lists) == 0 {
		return Plan{}, &ir.Error{Code: ir.CodeInvalidAction, Message: "append needs at least one action"}
	}
	for _, l := range lists {
		if err := checkList(l); err != nil {
			return Plan{}, err
		}
	}
	out := currentLists(base)
	for _, l := range lists {
		out = append(out, ir.CloneActions(l))
	}
	return Plan{Op: OpAppend, Base: base, Lists: out}, nil
}

// PlanUpdate replaces the actions of stepID.
func PlanUpdate(prepID string, base []ir.Step, stepID string, actions []ir.Action) (Plan, error) {
	if err := checkBase(base); err != nil {
		return Plan{}, err
	}
	i, err := editIndex(prepID, base, stepID)
	if err != nil {
		return Plan{}, err
	}
	if err := checkList(actions); err != nil {
		return Plan{}, err
	}
	out := currentLists(base)
	out[i] = ir.CloneActions(actions)
	return Plan{Op: OpUpdate, Base: base, Lists: out}, nil
}

// PlanDelete drops stepID; the next step attaches to its parent.
func PlanDelete(prepID string, base []ir.Step, stepID string) (Plan, error) {
	if err := checkBase(base); err != nil {
		return Plan{}, err
	}
	i, err := editIndex(prepID, base, stepID)
	if err != nil {
		return Plan{}, err
	}
	out := currentLists(base)
	out = slices.Delete(out, i, i+1)
	return Plan{Op: OpDelete, Base: base, Lists: out}, nil
}

// PlanReorder moves stepID so that it directly follows afterID. afterID may
// be the origin, which moves the step to the front. Moving a step after
// itself is a no-op. No semantic dependency between actions is checked.
func PlanReorder(prepID string, base []ir.Step, stepID, afterID string) (Plan, error) {
	if err := checkBase(base); err != nil {
		return Plan{}, err
	}
	i, err := editIndex(prepID, base, stepID)
	if err != nil {
		return Plan{}, err
	}
	if afterID == "" {
		return Plan{}, ir.NewInvalidStepPosition(prepID, stepID, "reorder needs a step to move after")
	}

	// j is the path index of afterID; 0 is the origin.
	j := slices.IndexFunc(base, func(s ir.Step) bool { return s.ID == afterID })
	if j < 0 {
		return Plan{}, ir.NewStepNotFound(prepID, afterID)
	}

	out := currentLists(base)
	if j == i+1 {
		return Plan{Op: OpReorder, Base: base, Lists: out}, nil
	}

	moved := out[i]
	out = slices.Delete(out, i, i+1)
	// In list coordinates afterID sits at j-1; removal shifts it left when
	// it came after the moved step.
	insertAt := j
	if j > i+1 {
		insertAt = j - 1
	}
	out = slices.Insert(out, insertAt, moved)
	return Plan{Op: OpReorder, Base: base, Lists: out}, nil
}

// PlanReplay rebuilds base's chain so it carries exactly lists. Used to
// transplant another chain's content onto a different origin.
func PlanReplay(base []ir.Step, lists [][]ir.Action) (Plan, error) {
	if err := checkBase(base); err != nil {
		return Plan{}, err
	}
	out := make([][]ir.Action, 0, len(lists))
	for _, l := range lists {
		if err := checkList(l); err != nil {
			return Plan{}, err
		}
		out = append(out, ir.CloneActions(l))
	}
	return Plan{Op: OpReplay, Base: base, Lists: out}, nil
}

// Lists returns the per-step action lists of a path, skipping the origin.
func Lists(path []ir.Step) [][]ir.Action {
	return currentLists(path)
}

func currentLists(base []ir.Step) [][]ir.Action {
	out := make([][]ir.Action, 0, len(base))
	for _, s := range base {
		if s.IsOrigin() {
			continue
		}
		out = append(out, ir.CloneActions(s.Actions))
	}
	return out
}

// editIndex maps stepID to its index in the non-origin list, rejecting the
// origin and ids off the path.
func editIndex(prepID string, base []ir.Step, stepID string) (int, error) {
	if stepID == base[0].ID {
		return 0, ir.NewInvalidStepPosition(prepID, stepID, "the origin step cannot be edited")
	}
	for k := 1; k < len(base); k++ {
		if base[k].ID == stepID {
			return k - 1, nil
		}
	}
	return 0, ir.NewStepNotFound(prepID, stepID)
}

func checkBase(base []ir.Step) error {
	if len(base) == 0 || !base[0].IsOrigin() {
		return ir.NewChainCorruption("", "base path does not start at an origin")
	}
	return nil
}

func checkList(actions []ir.Action) error {
	if len(actions) == 0 {
		return &ir.Error{Code: ir.CodeInvalidAction, Message: "a step needs at least one action"}
	}
	for _, a := range actions {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("step actions: %w", err)
		}
	}
	return nil
}
