// Package headguard decides whether a preparation's head may move to a
// candidate step.
//
// A head is only movable when every external dataset referenced by the
// candidate's resolved actions still exists. A failed existence lookup
// counts as "absent", so an unreachable dataset service blocks the move
// rather than letting a possibly broken recipe become current. Such
// failures are kept apart from confirmed absences in the Report.
package headguard

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/prepchain/internal/dataset"
	"github.com/roach88/prepchain/internal/ir"
)

// DefaultDatasetParams is the reference scan used when none is configured:
// lookup actions name their dataset in lookup_ds_id.
var DefaultDatasetParams = map[string]string{"lookup": "lookup_ds_id"}

// maxConcurrentChecks bounds parallel existence lookups per validation.
const maxConcurrentChecks = 8

// PathResolver returns the origin-first path ending at a step.
// *chain.Chain satisfies it.
type PathResolver interface {
	Ancestors(ctx context.Context, id string) ([]ir.Step, error)
}

// Report is the outcome of one validation.
type Report struct {
	// StepID is the candidate head.
	StepID string
	// Referenced lists every external dataset id the candidate depends on,
	// sorted.
	Referenced []string
	// Missing lists datasets confirmed absent.
	Missing []string
	// LookupErrors holds datasets whose existence could not be determined.
	LookupErrors map[string]error
}

// Movable reports whether the head may move.
func (r Report) Movable() bool {
	return len(r.Missing) == 0 && len(r.LookupErrors) == 0
}

// Validator checks candidate heads. Safe for concurrent use.
type Validator struct {
	paths    PathResolver
	datasets dataset.Source
	params   map[string]string
	logger   *slog.Logger
}

// New creates a Validator. params maps action names to the parameter that
// holds an external dataset id; nil uses DefaultDatasetParams.
func New(paths PathResolver, datasets dataset.Source, params map[string]string, logger *slog.Logger) *Validator {
	if params == nil {
		params = DefaultDatasetParams
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{paths: paths, datasets: datasets, params: params, logger: logger}
}

// References returns the sorted, de-duplicated external dataset ids the
// actions refer to.
func (v *Validator) References(actions []ir.Action) []string {
	var ids []string
	for _, a := range actions {
		key, ok := v.params[a.Name]
		if !ok {
			continue
		}
		if id, ok := a.Param(key); ok && id != "" {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// Check resolves candidateID's actions and confirms every referenced
// dataset exists. Errors resolving the chain itself are returned; dataset
// lookups never produce an error, only a Report entry.
func (v *Validator) Check(ctx context.Context, candidateID string) (Report, error) {
	path, err := v.paths.Ancestors(ctx, candidateID)
	if err != nil {
		return Report{}, err
	}

	var actions []ir.Action
	for _, s := range path {
		actions = append(actions, s.Actions...)
	}

	report := Report{StepID: candidateID, Referenced: v.References(actions)}
	if len(report.Referenced) == 0 {
		return report, nil
	}

	var (
		mu      sync.Mutex
		missing []string
		lookups = map[string]error{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentChecks)
	for _, id := range report.Referenced {
		g.Go(func() error {
			ok, err := v.datasets.Exists(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				lookups[id] = err
				v.logger.Warn("dataset lookup failed; treating as absent",
					"step_id", candidateID, "dataset_id", id, "error", err)
			case !ok:
				missing = append(missing, id)
			}
			return nil
		})
	}
	_ = g.Wait()

	slices.Sort(missing)
	report.Missing = missing
	if len(lookups) > 0 {
		report.LookupErrors = lookups
	}
	return report, nil
}

// IsHeadMovable reports whether a head may move to candidateID.
func (v *Validator) IsHeadMovable(ctx context.Context, candidateID string) (bool, error) {
	r, err := v.Check(ctx, candidateID)
	if err != nil {
		return false, err
	}
	return r.Movable(), nil
}

// Require returns InvalidHeadStep when the report blocks the move.
func Require(prepID string, r Report) error {
	if r.Movable() {
		return nil
	}
	ids := slices.Clone(r.Missing)
	for id := range r.LookupErrors {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return &ir.Error{
		Code:          ir.CodeInvalidHeadStep,
		Message:       "head step depends on unavailable datasets [" + strings.Join(ids, ", ") + "]",
		PreparationID: prepID,
		StepID:        r.StepID,
	}
}
