package chain

import (
	"context"

	"github.com/roach88/prepchain/internal/ir"
)

// Resolved is a step reference pinned to one preparation's path.
type Resolved struct {
	// StepID is the step the reference resolved to.
	StepID string
	// Path runs from the origin to StepID inclusive.
	Path []ir.Step
}

// Actions concatenates the actions of every non-origin step on the path.
func (r Resolved) Actions() []ir.Action {
	return Flatten(r.Path)
}

// Resolve pins ref on prep's head path. ref is ir.HeadRef (or empty) for
// the current head, or a step id that must lie on the head's ancestor path;
// an id that is valid only in another preparation is StepNotFound here.
func (c *Chain) Resolve(ctx context.Context, prep ir.Preparation, ref string) (Resolved, error) {
	path, err := c.Ancestors(ctx, prep.Head)
	if err != nil {
		return Resolved{}, err
	}
	if ref == "" || ref == ir.HeadRef || ref == prep.Head {
		return Resolved{StepID: prep.Head, Path: path}, nil
	}
	for i, step := range path {
		if step.ID == ref {
			return Resolved{StepID: ref, Path: path[:i+1]}, nil
		}
	}
	return Resolved{}, ir.NewStepNotFound(prep.ID, ref)
}

// ResolveActions returns the ordered actions from the origin to ref.
func (c *Chain) ResolveActions(ctx context.Context, prep ir.Preparation, ref string) ([]ir.Action, error) {
	r, err := c.Resolve(ctx, prep, ref)
	if err != nil {
		return nil, err
	}
	return r.Actions(), nil
}

// Flatten concatenates step actions in path order. Origins contribute
// nothing.
func Flatten(path []ir.Step) []ir.Action {
	out := []ir.Action{}
	for _, step := range path {
		out = append(out, ir.CloneActions(step.Actions)...)
	}
	return out
}
