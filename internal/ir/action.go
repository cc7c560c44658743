package ir

import (
	"fmt"
	"maps"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Action is one transformation in a recipe.
//
// Actions are opaque to the chain: only Name and Parameters participate in
// equality and identity. Execution semantics live behind the action
// registry.
type Action struct {
	Name       string            `json:"name"`
	Parameters map[string]string `json:"parameters"`
}

// NewAction builds an action from alternating key/value strings.
// Panics on an odd number of kv arguments; intended for literals.
func NewAction(name string, kv ...string) Action {
	if len(kv)%2 != 0 {
		panic(fmt.Sprintf("NewAction(%q): odd number of parameter arguments", name))
	}
	params := make(map[string]string, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		params[kv[i]] = kv[i+1]
	}
	return Action{Name: name, Parameters: params}
}

// Param returns the parameter value and whether it was present.
func (a Action) Param(key string) (string, bool) {
	v, ok := a.Parameters[key]
	return v, ok
}

// Clone returns a deep copy so callers can mutate parameters safely.
func (a Action) Clone() Action {
	return Action{Name: a.Name, Parameters: maps.Clone(a.Parameters)}
}

// Equal reports whether two actions have the same name and parameters.
// A nil parameter map equals an empty one.
func (a Action) Equal(b Action) bool {
	if a.Name != b.Name || len(a.Parameters) != len(b.Parameters) {
		return false
	}
	for k, v := range a.Parameters {
		if bv, ok := b.Parameters[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// Validate checks the structural rules every action must satisfy. Names
// and parameter keys must be NFC so that visually equal identifiers cannot
// name different steps; parameter values are left byte-exact.
func (a Action) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return &Error{Code: CodeInvalidAction, Message: "action name is required"}
	}
	if !norm.NFC.IsNormalString(a.Name) {
		return &Error{Code: CodeInvalidAction, Message: fmt.Sprintf("action name %q is not in NFC form", a.Name)}
	}
	for k := range a.Parameters {
		if k == "" {
			return &Error{Code: CodeInvalidAction, Message: fmt.Sprintf("action %q has an empty parameter key", a.Name)}
		}
		if !norm.NFC.IsNormalString(k) {
			return &Error{Code: CodeInvalidAction, Message: fmt.Sprintf("action %q parameter key %q is not in NFC form", a.Name, k)}
		}
	}
	return nil
}

// String renders the action for logs and CLI output.
func (a Action) String() string {
	obj := a.toIR()
	data, err := MarshalCanonical(obj["parameters"])
	if err != nil {
		return a.Name
	}
	return a.Name + string(data)
}

func (a Action) toIR() IRObject {
	return IRObject{
		"name":       IRString(a.Name),
		"parameters": StringMap(a.Parameters),
	}
}

// ActionsToIR converts an ordered action list into its canonical form.
// Order is preserved: it is semantically significant.
func ActionsToIR(actions []Action) IRArray {
	arr := make(IRArray, len(actions))
	for i, a := range actions {
		arr[i] = a.toIR()
	}
	return arr
}

// CloneActions deep-copies an action list.
func CloneActions(actions []Action) []Action {
	if actions == nil {
		return nil
	}
	out := make([]Action, len(actions))
	for i, a := range actions {
		out[i] = a.Clone()
	}
	return out
}

// ActionsEqual reports element-wise equality of two action lists.
func ActionsEqual(a, b []Action) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
