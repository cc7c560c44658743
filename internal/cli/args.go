package cli

import (
	"fmt"
	"strings"

	"github.com/roach88/prepchain/internal/ir"
)

// parseActions reads actions from command-line words. A word without "="
// names a new action; each key=value word that follows is one of its
// parameters:
//
//	uppercase column_id=0000 negate column_id=0001
func parseActions(words []string) ([]ir.Action, error) {
	var out []ir.Action
	for _, w := range words {
		key, value, isParam := strings.Cut(w, "=")
		if !isParam {
			out = append(out, ir.Action{Name: w, Parameters: map[string]string{}})
			continue
		}
		if len(out) == 0 {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("parameter %q comes before any action name", w))
		}
		if key == "" {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("parameter %q has an empty key", w))
		}
		out[len(out)-1].Parameters[key] = value
	}
	if len(out) == 0 {
		return nil, NewExitError(ExitCommandError, "at least one action is required")
	}
	return out, nil
}
