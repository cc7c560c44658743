package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/prepchain/internal/ir"
	"github.com/roach88/prepchain/internal/rebase"
)

// EditResult describes a committed chain edit.
type EditResult struct {
	Preparation  ir.Preparation
	PreviousHead string
	// Kept counts steps reused unchanged; Replayed counts steps re-created
	// after the edit point, Created how many of those were new to storage.
	Kept     int
	Replayed int
	Created  int
}

// Head is the preparation's new head.
func (r EditResult) Head() string {
	return r.Preparation.Head
}

type planFunc func(prep ir.Preparation, base []ir.Step) (rebase.Plan, error)

// Append adds one step holding actions after the head.
func (s *Service) Append(ctx context.Context, prepID string, actions []ir.Action, userID string) (EditResult, error) {
	if err := s.validateActions(actions); err != nil {
		return EditResult{}, err
	}
	return s.edit(ctx, rebase.OpAppend, prepID, userID, func(_ ir.Preparation, base []ir.Step) (rebase.Plan, error) {
		return rebase.PlanAppend(base, actions)
	})
}

// AppendEach adds one step per action, in order.
func (s *Service) AppendEach(ctx context.Context, prepID string, actions []ir.Action, userID string) (EditResult, error) {
	if err := s.validateActions(actions); err != nil {
		return EditResult{}, err
	}
	lists := make([][]ir.Action, len(actions))
	for i, a := range actions {
		lists[i] = []ir.Action{a}
	}
	return s.edit(ctx, rebase.OpAppend, prepID, userID, func(_ ir.Preparation, base []ir.Step) (rebase.Plan, error) {
		return rebase.PlanAppend(base, lists...)
	})
}

// Update replaces stepID's actions and rebases every later step.
func (s *Service) Update(ctx context.Context, prepID, stepID string, actions []ir.Action, userID string) (EditResult, error) {
	if err := s.validateActions(actions); err != nil {
		return EditResult{}, err
	}
	return s.edit(ctx, rebase.OpUpdate, prepID, userID, func(prep ir.Preparation, base []ir.Step) (rebase.Plan, error) {
		return rebase.PlanUpdate(prep.ID, base, stepID, actions)
	})
}

// Delete removes stepID from the head path and rebases every later step.
func (s *Service) Delete(ctx context.Context, prepID, stepID, userID string) (EditResult, error) {
	return s.edit(ctx, rebase.OpDelete, prepID, userID, func(prep ir.Preparation, base []ir.Step) (rebase.Plan, error) {
		return rebase.PlanDelete(prep.ID, base, stepID)
	})
}

// Reorder moves stepID to directly follow afterID, which may be the
// origin.
func (s *Service) Reorder(ctx context.Context, prepID, stepID, afterID, userID string) (EditResult, error) {
	return s.edit(ctx, rebase.OpReorder, prepID, userID, func(prep ir.Preparation, base []ir.Step) (rebase.Plan, error) {
		return rebase.PlanReorder(prep.ID, base, stepID, afterID)
	})
}

// edit runs one rebase under the preparation's head lock: read the head
// path, plan, replay, then compare-and-swap the head. Nothing is visible
// to readers until the swap; steps replayed before a failed swap stay in
// storage unreferenced.
func (s *Service) edit(ctx context.Context, op rebase.Op, prepID, userID string, plan planFunc) (res EditResult, err error) {
	ctx, span := tracer.Start(ctx, "service."+string(op), trace.WithAttributes(prepAttr(prepID)))
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		} else if res.Replayed == 0 && res.PreviousHead == res.Head() {
			status = "noop"
		}
		rebaseOps.WithLabelValues(string(op), status).Inc()
		endSpan(span, err)
	}()

	unlock := s.heads.lock(prepID)
	defer unlock()

	prep, err := s.writable(ctx, prepID, userID)
	if err != nil {
		return EditResult{}, err
	}
	base, err := s.chain.Ancestors(ctx, prep.Head)
	if err != nil {
		return EditResult{}, err
	}
	p, err := plan(prep, base)
	if err != nil {
		return EditResult{}, err
	}
	if p.NoOp() {
		return EditResult{Preparation: prep, PreviousHead: prep.Head, Kept: len(base) - 1}, nil
	}

	replayed, err := s.replayer.Apply(ctx, p, userID)
	if err != nil {
		return EditResult{}, fmt.Errorf("%s: %w", op, err)
	}
	stepsWritten.WithLabelValues("created").Add(float64(replayed.Created))
	stepsWritten.WithLabelValues("deduplicated").Add(float64(replayed.Replayed - replayed.Created))
	replayedSteps.Observe(float64(replayed.Replayed))

	updated, err := s.setHead(ctx, prep, replayed.Head)
	if err != nil {
		return EditResult{}, err
	}
	span.SetAttributes(
		attribute.String("head.previous", prep.Head),
		attribute.String("head.new", updated.Head),
		attribute.Int("rebase.replayed", replayed.Replayed),
	)
	s.logger.Info("chain edited",
		"op", op,
		"preparation_id", prepID,
		"user", userID,
		"old_head", prep.Head,
		"new_head", updated.Head,
		"kept", replayed.Kept,
		"replayed", replayed.Replayed,
		"created", replayed.Created)

	return EditResult{
		Preparation:  updated,
		PreviousHead: prep.Head,
		Kept:         replayed.Kept,
		Replayed:     replayed.Replayed,
		Created:      replayed.Created,
	}, nil
}

// CopyStepsFrom gives an empty target the source's recipe. When both sit
// on the same origin the target head simply moves to the source head;
// otherwise the source's step lists are replayed onto the target origin.
func (s *Service) CopyStepsFrom(ctx context.Context, targetID, sourceID, userID string) (res EditResult, err error) {
	ctx, span := tracer.Start(ctx, "service.CopyStepsFrom", trace.WithAttributes(
		prepAttr(targetID), attribute.String("source.id", sourceID)))
	defer func() { endSpan(span, err) }()

	unlock := s.heads.lock(targetID)
	defer unlock()

	target, err := s.writable(ctx, targetID, userID)
	if err != nil {
		return EditResult{}, err
	}
	targetBase, err := s.chain.Ancestors(ctx, target.Head)
	if err != nil {
		return EditResult{}, err
	}
	if len(targetBase) > 1 {
		return EditResult{}, &ir.Error{
			Code:          ir.CodePreparationHasSteps,
			Message:       fmt.Sprintf("target already has %d steps", len(targetBase)-1),
			PreparationID: targetID,
		}
	}

	source, err := s.GetPreparation(ctx, sourceID)
	if err != nil {
		return EditResult{}, err
	}
	sourcePath, err := s.chain.Ancestors(ctx, source.Head)
	if err != nil {
		return EditResult{}, err
	}

	next := source.Head
	var replayed rebase.Result
	if sourcePath[0].ID != targetBase[0].ID {
		p, err := rebase.PlanReplay(targetBase, rebase.Lists(sourcePath))
		if err != nil {
			return EditResult{}, err
		}
		replayed, err = s.replayer.Apply(ctx, p, userID)
		if err != nil {
			return EditResult{}, fmt.Errorf("copy steps: %w", err)
		}
		stepsWritten.WithLabelValues("created").Add(float64(replayed.Created))
		stepsWritten.WithLabelValues("deduplicated").Add(float64(replayed.Replayed - replayed.Created))
		next = replayed.Head
	}

	if next == target.Head {
		return EditResult{Preparation: target, PreviousHead: target.Head}, nil
	}
	if err := s.checkHead(ctx, target.ID, next); err != nil {
		return EditResult{}, err
	}
	updated, err := s.setHead(ctx, target, next)
	if err != nil {
		return EditResult{}, err
	}
	s.logger.Info("steps copied",
		"preparation_id", targetID,
		"source_id", sourceID,
		"user", userID,
		"new_head", next,
		"replayed", replayed.Replayed)
	return EditResult{
		Preparation:  updated,
		PreviousHead: target.Head,
		Replayed:     replayed.Replayed,
		Created:      replayed.Created,
	}, nil
}

// validateActions checks every action against the registry before any
// step is written.
func (s *Service) validateActions(actions []ir.Action) error {
	if len(actions) == 0 {
		return &ir.Error{Code: ir.CodeInvalidAction, Message: "at least one action is required"}
	}
	for i, a := range actions {
		if err := s.registry.Validate(a); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	return nil
}
