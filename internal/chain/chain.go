package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/prepchain/internal/ir"
	"github.com/roach88/prepchain/internal/store"
)

// StepStore is the persistence a Chain needs. store.Repository satisfies it.
type StepStore interface {
	PutStep(ctx context.Context, step ir.Step) (ir.Step, bool, error)
	GetStep(ctx context.Context, id string) (ir.Step, error)
}

// maxDepth bounds an ancestor walk. A longer path can only come from a
// loop the visited set failed to catch, so it is reported as corruption.
const maxDepth = 1 << 20

// Chain is safe for concurrent use.
type Chain struct {
	store  StepStore
	now    func() time.Time
	logger *slog.Logger
	flight singleflight.Group
}

// Option configures a Chain.
type Option func(*Chain)

// WithClock sets the source of CreatedAt timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Chain) { c.now = now }
}

// WithLogger sets the logger used for step creation events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chain) { c.logger = logger }
}

// New creates a Chain over s.
func New(s StepStore, opts ...Option) *Chain {
	c := &Chain{
		store:  s,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateOrigin returns the origin step bound to datasetID, creating it on
// first use. Every preparation on the same dataset shares this root.
func (c *Chain) CreateOrigin(ctx context.Context, datasetID, createdBy string) (ir.Step, error) {
	id, err := ir.OriginID(datasetID)
	if err != nil {
		return ir.Step{}, err
	}
	step := ir.Step{
		ID:        id,
		DatasetID: datasetID,
		Actions:   []ir.Action{},
		CreatedAt: c.now().UTC(),
		CreatedBy: createdBy,
		IRVersion: ir.IRVersion,
	}
	stored, _, err := c.put(ctx, step)
	return stored, err
}

// GetOrCreate returns the step for (parentID, actions), storing it first if
// no step has that content address yet. created reports whether this call
// (or the in-flight call it joined) wrote the record.
//
// Concurrent calls with identical arguments collapse into one store write;
// calls racing across processes converge through the store's
// create-if-absent primitive.
func (c *Chain) GetOrCreate(ctx context.Context, parentID string, actions []ir.Action, createdBy string) (ir.Step, bool, error) {
	for _, a := range actions {
		if err := a.Validate(); err != nil {
			return ir.Step{}, false, err
		}
	}
	id, err := ir.StepID(parentID, actions)
	if err != nil {
		return ir.Step{}, false, err
	}
	step := ir.Step{
		ID:        id,
		ParentID:  parentID,
		Actions:   ir.CloneActions(actions),
		CreatedAt: c.now().UTC(),
		CreatedBy: createdBy,
		IRVersion: ir.IRVersion,
	}
	if step.Actions == nil {
		step.Actions = []ir.Action{}
	}
	return c.put(ctx, step)
}

type putResult struct {
	step    ir.Step
	created bool
}

func (c *Chain) put(ctx context.Context, step ir.Step) (ir.Step, bool, error) {
	v, err, _ := c.flight.Do(step.ID, func() (any, error) {
		stored, created, err := c.store.PutStep(ctx, step)
		if err != nil {
			return nil, err
		}
		if created {
			c.logger.Debug("step created", "step_id", stored.ID, "parent_id", stored.ParentID, "actions", len(stored.Actions))
		}
		return putResult{step: stored, created: created}, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ir.Step{}, false, ir.NewStepNotFound("", step.ParentID)
		}
		return ir.Step{}, false, fmt.Errorf("store step %s: %w", step.ID, err)
	}
	res := v.(putResult)
	return res.step, res.created, nil
}

// Get returns the step with the given content address.
func (c *Chain) Get(ctx context.Context, id string) (ir.Step, error) {
	step, err := c.store.GetStep(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ir.Step{}, ir.NewStepNotFound("", id)
	}
	if err != nil {
		return ir.Step{}, fmt.Errorf("get step %s: %w", id, err)
	}
	return step, nil
}

// Ancestors returns the path from the origin to id inclusive, origin first.
//
// An unknown id is StepNotFound. A dangling parent link, a revisited step
// or a path that never reaches an origin is ChainCorruption.
func (c *Chain) Ancestors(ctx context.Context, id string) ([]ir.Step, error) {
	first, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	path := []ir.Step{first}
	seen := map[string]struct{}{first.ID: {}}
	cur := first
	for !cur.IsOrigin() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(path) >= maxDepth {
			return nil, ir.NewChainCorruption(id, "ancestor path exceeds maximum depth")
		}
		parent, err := c.store.GetStep(ctx, cur.ParentID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ir.NewChainCorruption(cur.ID, fmt.Sprintf("missing parent %s", cur.ParentID))
		}
		if err != nil {
			return nil, fmt.Errorf("get step %s: %w", cur.ParentID, err)
		}
		if _, dup := seen[parent.ID]; dup {
			return nil, ir.NewChainCorruption(parent.ID, "cycle in parent links")
		}
		seen[parent.ID] = struct{}{}
		path = append(path, parent)
		cur = parent
	}

	slices.Reverse(path)
	return path, nil
}
