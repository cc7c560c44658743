package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/prepchain/internal/ir"
)

// VerifyPrepResult holds the verification result for one preparation.
type VerifyPrepResult struct {
	PreparationID string `json:"preparation_id"`
	DatasetID     string `json:"dataset_id"`
	Steps         int    `json:"steps"`
	Valid         bool   `json:"valid"`
	Problem       string `json:"problem,omitempty"`
}

// VerifyResult holds the overall verification result.
type VerifyResult struct {
	Preparations []VerifyPrepResult `json:"preparations"`
	Total        int                `json:"total"`
	AllValid     bool               `json:"all_valid"`
}

func (r VerifyResult) String() string {
	if r.Total == 0 {
		return "No preparations found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Verify Summary: %d preparation(s)\n", r.Total)
	for _, p := range r.Preparations {
		status := "✓"
		if !p.Valid {
			status = "✗"
		}
		fmt.Fprintf(&b, "\n%s Preparation: %s (dataset %s)\n", status, p.PreparationID, p.DatasetID)
		fmt.Fprintf(&b, "  Steps: %d\n", p.Steps)
		if p.Problem != "" {
			fmt.Fprintf(&b, "  Problem: %s\n", p.Problem)
		}
	}
	if r.AllValid {
		b.WriteString("\nAll head paths verified.")
	} else {
		b.WriteString("\nContent address verification FAILED.")
	}
	return b.String()
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(opts *RootOptions) *cobra.Command {
	var prepID string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute content addresses along every head path",
		Long: `Walk each preparation's head path and recompute every step id from its
parent and actions (origins from their dataset). Any mismatch means the
store was modified outside prepchain.

Exit codes:
  0 - Every head path verified
  1 - A step id or parent link does not match its content
  2 - Command error (store unavailable, etc.)

Examples:
  prepchain verify --db ./prepchain.db
  prepchain verify --prep prep-1 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd, prepID)
		},
	}
	cmd.Flags().StringVar(&prepID, "prep", "", "verify one preparation only")
	return cmd
}

func runVerify(opts *RootOptions, cmd *cobra.Command, prepID string) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return f.Fail(err)
	}
	defer func() {
		if cerr := a.Close(ctx); cerr != nil {
			a.logger.Warn("shutdown failed", "error", cerr)
		}
	}()

	var preps []ir.Preparation
	if prepID != "" {
		p, err := a.svc.GetPreparation(ctx, prepID)
		if err != nil {
			return f.Fail(err)
		}
		preps = []ir.Preparation{p}
	} else if preps, err = a.svc.ListPreparations(ctx, ""); err != nil {
		return f.Fail(err)
	}

	result := VerifyResult{
		Preparations: make([]VerifyPrepResult, 0, len(preps)),
		Total:        len(preps),
		AllValid:     true,
	}
	for _, p := range preps {
		r := verifyPreparation(ctx, a, p)
		if !r.Valid {
			result.AllValid = false
		}
		result.Preparations = append(result.Preparations, r)
	}

	if result.AllValid {
		return f.Success(result)
	}
	if opts.Format == "json" {
		if err := json.NewEncoder(cmd.OutOrStdout()).Encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    string(ir.CodeChainCorruption),
				Message: "content address verification failed",
			},
		}); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), result)
	}
	return &ExitError{Code: ExitFailure, Message: "content address verification failed", Reported: true}
}

// verifyPreparation checks one head path. The chain walk itself reports
// missing parents and loops; recomputing ids catches rewritten content.
func verifyPreparation(ctx context.Context, a *app, p ir.Preparation) VerifyPrepResult {
	r := VerifyPrepResult{PreparationID: p.ID, DatasetID: p.DatasetID}
	path, err := a.svc.ListSteps(ctx, p.ID)
	if err != nil {
		r.Problem = err.Error()
		return r
	}
	r.Steps = len(path) - 1
	if problem := checkPath(p, path); problem != "" {
		r.Problem = problem
		a.logger.Warn("head path failed verification", "preparation_id", p.ID, "problem", problem)
		return r
	}
	r.Valid = true
	return r
}

// checkPath returns a description of the first broken step, or "".
func checkPath(p ir.Preparation, path []ir.Step) string {
	if len(path) == 0 {
		return "empty head path"
	}
	origin := path[0]
	if !origin.IsOrigin() {
		return fmt.Sprintf("step %s: path does not start at an origin", shortID(origin.ID))
	}
	if origin.DatasetID != p.DatasetID {
		return fmt.Sprintf("origin %s: bound to dataset %q, preparation uses %q", shortID(origin.ID), origin.DatasetID, p.DatasetID)
	}
	want, err := ir.OriginID(origin.DatasetID)
	if err != nil {
		return err.Error()
	}
	if want != origin.ID {
		return fmt.Sprintf("origin %s: content hashes to %s", shortID(origin.ID), shortID(want))
	}
	for i, s := range path[1:] {
		if s.ParentID != path[i].ID {
			return fmt.Sprintf("step %s: parent %s is not the previous step", shortID(s.ID), shortID(s.ParentID))
		}
		want, err := ir.StepID(s.ParentID, s.Actions)
		if err != nil {
			return err.Error()
		}
		if want != s.ID {
			return fmt.Sprintf("step %s at position %d: content hashes to %s", shortID(s.ID), i+1, shortID(want))
		}
	}
	return ""
}
