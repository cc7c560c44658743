// Package preview runs action lists over a bounded dataset sample and
// streams the row-level differences between two of them.
//
// Every sample row is tagged with its 1-based position before it enters a
// pipeline. Transformers carry the tag onto derived rows, so the diff can
// align the two outputs by origin even when an action filters, splits or
// deduplicates rows. Input rows are pulled one at a time through both
// pipelines; nothing downstream of the diff buffers the whole sample.
package preview

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/prepchain/internal/action"
	"github.com/roach88/prepchain/internal/dataset"
	"github.com/roach88/prepchain/internal/ir"
)

// DefaultSampleSize bounds the rows read when Config.SampleSize is unset.
const DefaultSampleSize = 100

// Compiler turns action lists into fresh transformers.
// *action.Registry satisfies it.
type Compiler interface {
	CompileAll(ctx context.Context, actions []ir.Action) ([]action.Transformer, error)
}

// Config bounds preview work.
type Config struct {
	// SampleSize is the number of dataset rows read per preview.
	SampleSize int
	// Timeout is the time budget of one preview, from request to the last
	// record. Zero disables the budget.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Engine computes previews. Safe for concurrent use; previews share no
// state.
type Engine struct {
	compiler Compiler
	datasets dataset.Source
	size     int
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates an Engine.
func New(compiler Compiler, datasets dataset.Source, cfg Config) *Engine {
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = DefaultSampleSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		compiler: compiler,
		datasets: datasets,
		size:     cfg.SampleSize,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
	}
}

// Result is a preview in progress. Rows is single-use: range over it once.
// Draining Rows or breaking out of it releases the preview; a caller that
// may never range over Rows must call Stop.
type Result struct {
	DatasetID string
	// BaseColumns and Columns are the output columns of the baseline and
	// candidate pipelines.
	BaseColumns []ir.Column
	Columns     []ir.Column
	// ColumnDiffs is computed once, before any row is produced.
	ColumnDiffs []ColumnDiff
	// Rows yields diff records in sample order. A non-nil error is the
	// last value yielded.
	Rows iter.Seq2[RowDiff, error]

	stop context.CancelFunc
}

// Stop releases the preview's budget. Rows ranged after Stop yields only
// context.Canceled. Safe to call more than once.
func (r *Result) Stop() {
	if r.stop != nil {
		r.stop()
	}
}

// DiffRequest compares two resolved action lists over the same sample.
type DiffRequest struct {
	DatasetID string
	Base      []ir.Action
	Candidate []ir.Action
	// RowIndices restricts emitted records to these 1-based sample rows.
	// Empty means every row.
	RowIndices []int
}

// AddRequest previews appending Candidate to Existing.
type AddRequest struct {
	DatasetID  string
	Existing   []ir.Action
	Candidate  []ir.Action
	RowIndices []int
}

// UpdateRequest previews replacing the action list at Steps[Index].
type UpdateRequest struct {
	DatasetID   string
	Steps       [][]ir.Action
	Index       int
	Replacement []ir.Action
	RowIndices  []int
}

// Diff runs both pipelines and returns the streamed diff.
func (e *Engine) Diff(ctx context.Context, req DiffRequest) (*Result, error) {
	if req.DatasetID == "" {
		return nil, errors.New("preview: dataset id is required")
	}
	ctx, cancel := e.budget(ctx)
	sample, pipes, err := e.prepare(ctx, req.DatasetID, req.Base, req.Candidate)
	if err != nil {
		cancel()
		return nil, budgetError(ctx, err)
	}
	base, cand := pipes[0], pipes[1]

	e.logger.Debug("preview started",
		"dataset_id", req.DatasetID,
		"sample_rows", len(sample.Rows),
		"base_actions", len(req.Base),
		"candidate_actions", len(req.Candidate))

	return &Result{
		DatasetID:   req.DatasetID,
		BaseColumns: base.columns,
		Columns:     cand.columns,
		ColumnDiffs: diffColumns(base.columns, cand.columns),
		Rows:        e.stream(ctx, cancel, sample.Rows, base, cand, rowFilter(req.RowIndices)),
		stop:        cancel,
	}, nil
}

// Add diffs Existing against Existing followed by Candidate.
func (e *Engine) Add(ctx context.Context, req AddRequest) (*Result, error) {
	if len(req.Candidate) == 0 {
		return nil, &ir.Error{Code: ir.CodeInvalidAction, Message: "no candidate actions to preview"}
	}
	cand := append(ir.CloneActions(req.Existing), ir.CloneActions(req.Candidate)...)
	return e.Diff(ctx, DiffRequest{
		DatasetID:  req.DatasetID,
		Base:       req.Existing,
		Candidate:  cand,
		RowIndices: req.RowIndices,
	})
}

// Update diffs Steps against Steps with one entry replaced.
func (e *Engine) Update(ctx context.Context, req UpdateRequest) (*Result, error) {
	if req.Index < 0 || req.Index >= len(req.Steps) {
		return nil, ir.NewInvalidStepPosition("", "", fmt.Sprintf("no step at position %d", req.Index))
	}
	if len(req.Replacement) == 0 {
		return nil, &ir.Error{Code: ir.CodeInvalidAction, Message: "replacement has no actions"}
	}
	var base, cand []ir.Action
	for i, list := range req.Steps {
		base = append(base, list...)
		if i == req.Index {
			cand = append(cand, req.Replacement...)
			continue
		}
		cand = append(cand, list...)
	}
	return e.Diff(ctx, DiffRequest{
		DatasetID:  req.DatasetID,
		Base:       ir.CloneActions(base),
		Candidate:  ir.CloneActions(cand),
		RowIndices: req.RowIndices,
	})
}

// Run executes one action list over the sample and returns its output.
func (e *Engine) Run(ctx context.Context, datasetID string, actions []ir.Action) (dataset.Sample, error) {
	ctx, cancel := e.budget(ctx)
	defer cancel()

	sample, pipes, err := e.prepare(ctx, datasetID, actions)
	if err != nil {
		return dataset.Sample{}, budgetError(ctx, err)
	}
	p := pipes[0]
	out := dataset.Sample{Columns: p.columns, Rows: []ir.Row{}}
	for i, in := range sample.Rows {
		if err := context.Cause(ctx); err != nil {
			return dataset.Sample{}, err
		}
		rows, err := p.push(ir.Row{Tag: i + 1, Values: in.Values})
		if err != nil {
			return dataset.Sample{}, fmt.Errorf("row %d: %w", i+1, err)
		}
		out.Rows = append(out.Rows, rows...)
	}
	return out, nil
}

func (e *Engine) budget(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeoutCause(ctx, e.timeout, &ir.Error{
		Code:    ir.CodePreviewBudgetExceeded,
		Message: fmt.Sprintf("preview exceeded its %s budget", e.timeout),
	})
}

// budgetError reports the budget rather than whatever operation noticed
// the expired context.
func budgetError(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil && ir.IsCode(cause, ir.CodePreviewBudgetExceeded) {
		return cause
	}
	return err
}

// prepare fetches the sample and compiles every action list concurrently,
// then derives each pipeline's columns.
func (e *Engine) prepare(ctx context.Context, datasetID string, lists ...[]ir.Action) (dataset.Sample, []*pipeline, error) {
	var sample dataset.Sample
	compiled := make([][]action.Transformer, len(lists))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := e.datasets.Sample(gctx, datasetID, e.size)
		if err != nil {
			return sampleError(datasetID, err)
		}
		sample = s
		return nil
	})
	for i, actions := range lists {
		g.Go(func() error {
			ts, err := e.compiler.CompileAll(gctx, actions)
			if err != nil {
				return fmt.Errorf("%s: %w", pipelineName(i, len(lists)), err)
			}
			compiled[i] = ts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return dataset.Sample{}, nil, err
	}

	pipes := make([]*pipeline, len(lists))
	for i, ts := range compiled {
		p, err := newPipeline(ts, sample.Columns)
		if err != nil {
			return dataset.Sample{}, nil, fmt.Errorf("%s: %w", pipelineName(i, len(lists)), err)
		}
		pipes[i] = p
	}
	return sample, pipes, nil
}

func pipelineName(i, n int) string {
	switch {
	case n == 1:
		return "pipeline"
	case i == 0:
		return "baseline"
	default:
		return "candidate"
	}
}

func sampleError(datasetID string, err error) error {
	if ir.CodeOf(err) != "" || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return ir.NewDatasetUnavailable(datasetID, err)
}

func rowFilter(indices []int) func(RowDiff) bool {
	if len(indices) == 0 {
		return func(RowDiff) bool { return true }
	}
	keep := make(map[int]bool, len(indices))
	for _, i := range indices {
		keep[i] = true
	}
	return func(d RowDiff) bool { return keep[d.Tag] }
}

// stream pulls sample rows through both pipelines on demand. The budget
// context is checked before each input row; cancel runs when the consumer
// stops or the stream ends.
func (e *Engine) stream(ctx context.Context, cancel context.CancelFunc, rows []ir.Row, base, cand *pipeline, keep func(RowDiff) bool) iter.Seq2[RowDiff, error] {
	return func(yield func(RowDiff, error) bool) {
		defer cancel()
		counts := map[Kind]int{}
		defer func() {
			e.logger.Debug("preview finished",
				"unchanged", counts[KindUnchanged],
				"updated", counts[KindUpdated],
				"deleted", counts[KindDeleted],
				"created", counts[KindCreated])
		}()

		for i, in := range rows {
			if err := context.Cause(ctx); err != nil {
				yield(RowDiff{}, err)
				return
			}
			tagged := ir.Row{Tag: i + 1, Values: in.Values}
			b, err := base.push(tagged.Clone())
			if err != nil {
				yield(RowDiff{}, fmt.Errorf("baseline row %d: %w", i+1, err))
				return
			}
			c, err := cand.push(tagged.Clone())
			if err != nil {
				yield(RowDiff{}, fmt.Errorf("candidate row %d: %w", i+1, err))
				return
			}
			for _, d := range alignRows(b, c) {
				if !keep(d) {
					continue
				}
				counts[d.Kind]++
				if !yield(d, nil) {
					return
				}
			}
		}
	}
}

// Collect drains a row stream into a slice.
func Collect(rows iter.Seq2[RowDiff, error]) ([]RowDiff, error) {
	var out []RowDiff
	for d, err := range rows {
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
	return out, nil
}
