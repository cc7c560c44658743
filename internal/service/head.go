package service

import (
	"context"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/prepchain/internal/headguard"
	"github.com/roach88/prepchain/internal/ir"
)

// MoveHead points prep at stepID, which must be a step on the same
// dataset's chain whose referenced datasets all still exist.
func (s *Service) MoveHead(ctx context.Context, prepID, stepID, userID string) (ir.Preparation, error) {
	return s.moveHead(ctx, "service.MoveHead", prepID, userID, func(ir.Preparation) (string, error) {
		return stepID, nil
	})
}

// Undo moves the head to its parent. The origin cannot be undone.
func (s *Service) Undo(ctx context.Context, prepID, userID string) (ir.Preparation, error) {
	return s.moveHead(ctx, "service.Undo", prepID, userID, func(prep ir.Preparation) (string, error) {
		head, err := s.chain.Get(ctx, prep.Head)
		if err != nil {
			return "", err
		}
		if head.IsOrigin() {
			return "", ir.NewInvalidStepPosition(prep.ID, head.ID, "nothing to undo")
		}
		return head.ParentID, nil
	})
}

// Redo moves the head forward to stepID, a descendant of the current
// head, typically the head an Undo left behind.
func (s *Service) Redo(ctx context.Context, prepID, stepID, userID string) (ir.Preparation, error) {
	return s.moveHead(ctx, "service.Redo", prepID, userID, func(prep ir.Preparation) (string, error) {
		if stepID == prep.Head {
			return stepID, nil
		}
		path, err := s.chain.Ancestors(ctx, stepID)
		if err != nil {
			return "", err
		}
		if !slices.ContainsFunc(path[:len(path)-1], func(st ir.Step) bool { return st.ID == prep.Head }) {
			return "", ir.NewInvalidStepPosition(prep.ID, stepID, "redo target does not descend from the head")
		}
		return stepID, nil
	})
}

func (s *Service) moveHead(ctx context.Context, name, prepID, userID string, target func(ir.Preparation) (string, error)) (prep ir.Preparation, err error) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(prepAttr(prepID)))
	defer func() { endSpan(span, err) }()

	unlock := s.heads.lock(prepID)
	defer unlock()

	current, err := s.writable(ctx, prepID, userID)
	if err != nil {
		return ir.Preparation{}, err
	}
	next, err := target(current)
	if err != nil {
		return ir.Preparation{}, err
	}
	span.SetAttributes(attribute.String("head.new", next))
	if next == current.Head {
		return current, nil
	}

	path, err := s.chain.Ancestors(ctx, next)
	if err != nil {
		if ir.IsCode(err, ir.CodeStepNotFound) {
			return ir.Preparation{}, ir.NewStepNotFound(prepID, next)
		}
		return ir.Preparation{}, err
	}
	origin, err := ir.OriginID(current.DatasetID)
	if err != nil {
		return ir.Preparation{}, err
	}
	if path[0].ID != origin {
		return ir.Preparation{}, &ir.Error{
			Code:          ir.CodeStepNotFound,
			Message:       "step belongs to another dataset's chain",
			PreparationID: prepID,
			StepID:        next,
		}
	}
	if err := s.checkHead(ctx, prepID, next); err != nil {
		return ir.Preparation{}, err
	}

	updated, err := s.setHead(ctx, current, next)
	if err != nil {
		return ir.Preparation{}, err
	}
	s.logger.Info("head moved", "preparation_id", prepID, "user", userID, "old_head", current.Head, "new_head", next)
	return updated, nil
}

// checkHead runs the head validator and turns a blocked move into
// InvalidHeadStep.
func (s *Service) checkHead(ctx context.Context, prepID, stepID string) error {
	report, err := s.guard.Check(ctx, stepID)
	if err != nil {
		return err
	}
	if len(report.Missing) > 0 {
		headRejections.WithLabelValues("missing_dataset").Inc()
	}
	if len(report.LookupErrors) > 0 {
		headRejections.WithLabelValues("lookup_error").Inc()
	}
	return headguard.Require(prepID, report)
}
