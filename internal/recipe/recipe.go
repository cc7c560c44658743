// Package recipe reads preparation recipes written in CUE.
//
// A recipe names its dataset and lists steps. A step is either one action
// or a struct holding several actions that form a single step:
//
//	recipe: customers: {
//		dataset: "D1"
//		steps: [
//			{action: "uppercase", params: column_id: "0000"},
//			{actions: [
//				{action: "negate", params: column_id: "0001"},
//				{action: "deduplicate"},
//			]},
//		]
//	}
//
// Parameter values may be strings, integers or booleans; they are stored as
// strings. Floats are rejected so a recipe's content address never depends
// on float formatting.
package recipe

import (
	"fmt"
	"os"
	"strconv"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/prepchain/internal/ir"
)

// Recipe is one named action chain for a dataset.
type Recipe struct {
	Name        string
	DatasetID   string
	Description string
	// Steps holds one action list per chain step, in order.
	Steps [][]ir.Action
}

// Actions flattens every step.
func (r Recipe) Actions() []ir.Action {
	var out []ir.Action
	for _, s := range r.Steps {
		out = append(out, ir.CloneActions(s)...)
	}
	return out
}

// CompileError reports a malformed recipe with its CUE position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadFile compiles every recipe in one .cue file.
func LoadFile(path string) ([]Recipe, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recipe: %w", err)
	}
	return CompileString(string(src), path)
}

// LoadDir compiles every recipe in the CUE package rooted at dir.
func LoadDir(dir string) ([]Recipe, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("load recipes: no CUE instances in %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("load recipes: %w", formatCUEError(inst.Err))
	}
	return Compile(cuecontext.New().BuildInstance(inst))
}

// CompileString compiles recipes from CUE source.
func CompileString(src, filename string) ([]Recipe, error) {
	return Compile(cuecontext.New().CompileString(src, cue.Filename(filename)))
}

// Compile extracts every recipe under the top-level "recipe" field.
func Compile(v cue.Value) ([]Recipe, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	root := v.LookupPath(cue.ParsePath("recipe"))
	if !root.Exists() {
		return nil, &CompileError{Field: "recipe", Message: "no recipes defined", Pos: v.Pos()}
	}
	iter, err := root.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []Recipe
	for iter.Next() {
		r, err := compileRecipe(iter.Selector().Unquoted(), iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, &CompileError{Field: "recipe", Message: "no recipes defined", Pos: root.Pos()}
	}
	return out, nil
}

func compileRecipe(name string, v cue.Value) (Recipe, error) {
	r := Recipe{Name: name}

	ds := v.LookupPath(cue.ParsePath("dataset"))
	if !ds.Exists() {
		return Recipe{}, &CompileError{Field: "recipe." + name + ".dataset", Message: "dataset is required", Pos: v.Pos()}
	}
	id, err := ds.String()
	if err != nil {
		return Recipe{}, formatCUEError(err)
	}
	r.DatasetID = id

	if desc := v.LookupPath(cue.ParsePath("description")); desc.Exists() {
		if r.Description, err = desc.String(); err != nil {
			return Recipe{}, formatCUEError(err)
		}
	}

	steps := v.LookupPath(cue.ParsePath("steps"))
	if !steps.Exists() {
		return r, nil
	}
	list, err := steps.List()
	if err != nil {
		return Recipe{}, formatCUEError(err)
	}
	for i := 0; list.Next(); i++ {
		field := fmt.Sprintf("recipe.%s.steps[%d]", name, i)
		step, err := compileStep(field, list.Value())
		if err != nil {
			return Recipe{}, err
		}
		r.Steps = append(r.Steps, step)
	}
	return r, nil
}

func compileStep(field string, v cue.Value) ([]ir.Action, error) {
	group := v.LookupPath(cue.ParsePath("actions"))
	if !group.Exists() {
		a, err := compileAction(field, v)
		if err != nil {
			return nil, err
		}
		return []ir.Action{a}, nil
	}

	list, err := group.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []ir.Action
	for i := 0; list.Next(); i++ {
		a, err := compileAction(fmt.Sprintf("%s.actions[%d]", field, i), list.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if len(out) == 0 {
		return nil, &CompileError{Field: field, Message: "a step needs at least one action", Pos: v.Pos()}
	}
	return out, nil
}

func compileAction(field string, v cue.Value) (ir.Action, error) {
	nameVal := v.LookupPath(cue.ParsePath("action"))
	if !nameVal.Exists() {
		return ir.Action{}, &CompileError{Field: field + ".action", Message: "action name is required", Pos: v.Pos()}
	}
	name, err := nameVal.String()
	if err != nil {
		return ir.Action{}, formatCUEError(err)
	}

	a := ir.Action{Name: name, Parameters: map[string]string{}}
	params := v.LookupPath(cue.ParsePath("params"))
	if !params.Exists() {
		return a, nil
	}
	iter, err := params.Fields()
	if err != nil {
		return ir.Action{}, formatCUEError(err)
	}
	for iter.Next() {
		key := iter.Selector().Unquoted()
		val, err := paramString(field+".params."+key, iter.Value())
		if err != nil {
			return ir.Action{}, err
		}
		a.Parameters[key] = val
	}
	return a, nil
}

func paramString(field string, v cue.Value) (string, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		return v.String()
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return "", formatCUEError(err)
		}
		return strconv.FormatInt(n, 10), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return "", formatCUEError(err)
		}
		return strconv.FormatBool(b), nil
	case cue.FloatKind, cue.NumberKind:
		return "", &CompileError{Field: field, Message: "float parameters are not allowed; quote the value", Pos: v.Pos()}
	default:
		return "", &CompileError{Field: field, Message: fmt.Sprintf("unsupported parameter kind %s", v.IncompleteKind()), Pos: v.Pos()}
	}
}

// formatCUEError keeps the first error and its position.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
