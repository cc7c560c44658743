// Package action is the action-execution capability: it maps an action
// name to a transformer factory and compiles ir.Action values into
// runnable transformers.
//
// The chain never interprets actions. Only the preview engine (to run
// them) and the head validator (to find external dataset references)
// consult the registry.
package action

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/prepchain/internal/dataset"
	"github.com/roach88/prepchain/internal/ir"
)

// Transformer is one compiled action. A fresh Transformer is compiled for
// every pipeline run, so implementations may keep per-run state.
type Transformer interface {
	// Columns maps the input column list to the output column list. It
	// also validates column references made by the action's parameters.
	Columns(in []ir.Column) ([]ir.Column, error)

	// Apply transforms one row into zero or more rows. Rows derived from
	// the input must keep its Tag (use Row.Clone or Row.With); rows the
	// action invents must carry ir.Untagged.
	Apply(row ir.Row) ([]ir.Row, error)
}

// Env is what a factory may use while compiling.
type Env struct {
	// Datasets serves external datasets referenced by parameters.
	Datasets dataset.Source
}

// Factory compiles one action's parameters into a Transformer.
type Factory func(ctx context.Context, params map[string]string, env Env) (Transformer, error)

// Spec describes a registered action.
type Spec struct {
	Name        string
	Description string
	// Required lists parameters that must be present and non-empty.
	Required []string
	// Optional lists parameters the action understands but can default.
	Optional []string
	// DatasetParam names the parameter holding an external dataset id, or
	// is empty when the action reads no other dataset.
	DatasetParam string
	New          Factory
}

// Registry maps action names to specs. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
	env   Env
}

// NewRegistry creates an empty registry whose factories compile against
// env.
func NewRegistry(env Env) *Registry {
	return &Registry{specs: map[string]Spec{}, env: env}
}

// Register adds spec. Registering a name twice is an error.
func (r *Registry) Register(spec Spec) error {
	if spec.Name == "" || spec.New == nil {
		return fmt.Errorf("register action: name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.specs[spec.Name]; dup {
		return fmt.Errorf("register action %q: already registered", spec.Name)
	}
	r.specs[spec.Name] = spec
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(spec Spec) {
	if err := r.Register(spec); err != nil {
		panic(err)
	}
}

// Lookup returns the spec registered under name.
func (r *Registry) Lookup(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[name]
	return s, ok
}

// List returns every spec ordered by name.
func (r *Registry) List() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Spec) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// DatasetParams maps each action name that references an external dataset
// to the parameter holding the dataset id.
func (r *Registry) DatasetParams() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]string{}
	for name, s := range r.specs {
		if s.DatasetParam != "" {
			out[name] = s.DatasetParam
		}
	}
	return out
}

// Validate checks that a is registered and carries its required
// parameters, without compiling it.
func (r *Registry) Validate(a ir.Action) error {
	if err := a.Validate(); err != nil {
		return err
	}
	spec, ok := r.Lookup(a.Name)
	if !ok {
		return &ir.Error{Code: ir.CodeUnknownAction, Message: fmt.Sprintf("no action named %q", a.Name)}
	}
	for _, p := range spec.Required {
		if v, ok := a.Param(p); !ok || v == "" {
			return &ir.Error{Code: ir.CodeInvalidAction, Message: fmt.Sprintf("action %q requires parameter %q", a.Name, p)}
		}
	}
	return nil
}

// Compile validates and compiles a into a fresh Transformer.
func (r *Registry) Compile(ctx context.Context, a ir.Action) (Transformer, error) {
	if err := r.Validate(a); err != nil {
		return nil, err
	}
	spec, _ := r.Lookup(a.Name)
	t, err := spec.New(ctx, a.Clone().Parameters, r.env)
	if err != nil {
		if ir.CodeOf(err) != "" {
			return nil, err
		}
		return nil, &ir.Error{Code: ir.CodeInvalidAction, Message: fmt.Sprintf("compile %s", a.Name), Err: err}
	}
	return t, nil
}

// CompileAll compiles actions in order.
func (r *Registry) CompileAll(ctx context.Context, actions []ir.Action) ([]Transformer, error) {
	out := make([]Transformer, 0, len(actions))
	for i, a := range actions {
		t, err := r.Compile(ctx, a)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}
