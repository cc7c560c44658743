package rebase

import (
	"context"

	"github.com/roach88/prepchain/internal/ir"
)

// StepMaker creates or finds a step. *chain.Chain satisfies it.
type StepMaker interface {
	GetOrCreate(ctx context.Context, parentID string, actions []ir.Action, createdBy string) (ir.Step, bool, error)
}

// Result describes a replayed plan.
type Result struct {
	// Head is the id of the new last step, or the origin when the plan has
	// no steps left.
	Head string
	// Path is the new head path, origin first.
	Path []ir.Step
	// Kept counts leading steps reused unchanged from the base path.
	Kept int
	// Replayed counts steps re-created under a new parent or with new
	// content.
	Replayed int
	// Created counts replayed steps that did not exist in storage yet.
	Created int
}

// Replayer turns a Plan into stored steps.
type Replayer struct {
	steps StepMaker
}

// NewReplayer creates a Replayer over steps.
func NewReplayer(steps StepMaker) *Replayer {
	return &Replayer{steps: steps}
}

// Apply stores the planned chain and returns the new head. It does not
// move any preparation's head.
//
// The common prefix of base and plan is reused as-is. From the first
// differing position on, each list is re-created under the previous new
// step; even byte-identical lists get fresh ids there because their
// parent changed.
func (r *Replayer) Apply(ctx context.Context, p Plan, createdBy string) (Result, error) {
	if err := checkBase(p.Base); err != nil {
		return Result{}, err
	}

	path := []ir.Step{p.Origin()}
	res := Result{}

	k := 0
	for k < len(p.Lists) && k+1 < len(p.Base) && ir.ActionsEqual(p.Lists[k], p.Base[k+1].Actions) {
		path = append(path, p.Base[k+1])
		k++
	}
	res.Kept = k

	parent := path[len(path)-1].ID
	for ; k < len(p.Lists); k++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		step, created, err := r.steps.GetOrCreate(ctx, parent, p.Lists[k], createdBy)
		if err != nil {
			return Result{}, err
		}
		res.Replayed++
		if created {
			res.Created++
		}
		path = append(path, step)
		parent = step.ID
	}

	res.Head = parent
	res.Path = path
	return res, nil
}
