package service

import (
	"context"
	"errors"
	"iter"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/prepchain/internal/chain"
	"github.com/roach88/prepchain/internal/dataset"
	"github.com/roach88/prepchain/internal/ir"
	"github.com/roach88/prepchain/internal/preview"
	"github.com/roach88/prepchain/internal/rebase"
)

// AddPreview asks what appending Actions would do. Set PreparationID (and
// optionally StepRef, default head) to build on an existing recipe, or only
// DatasetID to preview against the raw dataset.
type AddPreview struct {
	PreparationID string
	StepRef       string
	DatasetID     string
	Actions       []ir.Action
	RowIndices    []int
}

// PreviewDiff compares the recipe at fromRef with the recipe at toRef, both
// on prepID's head path.
func (s *Service) PreviewDiff(ctx context.Context, prepID, fromRef, toRef string, rowIndices []int) (res *preview.Result, err error) {
	ctx, span := tracer.Start(ctx, "service.PreviewDiff", trace.WithAttributes(prepAttr(prepID)))
	defer func() { endSpan(span, err) }()

	prep, err := s.GetPreparation(ctx, prepID)
	if err != nil {
		return nil, err
	}
	from, err := s.chain.ResolveActions(ctx, prep, fromRef)
	if err != nil {
		return nil, err
	}
	to, err := s.chain.ResolveActions(ctx, prep, toRef)
	if err != nil {
		return nil, err
	}
	return s.counted(s.preview.Diff(ctx, preview.DiffRequest{
		DatasetID:  prep.DatasetID,
		Base:       from,
		Candidate:  to,
		RowIndices: rowIndices,
	}))
}

// PreviewAdd diffs the existing recipe against the recipe plus req.Actions.
func (s *Service) PreviewAdd(ctx context.Context, req AddPreview) (res *preview.Result, err error) {
	ctx, span := tracer.Start(ctx, "service.PreviewAdd", trace.WithAttributes(
		prepAttr(req.PreparationID), attribute.String("dataset.id", req.DatasetID)))
	defer func() { endSpan(span, err) }()

	if err := s.validateActions(req.Actions); err != nil {
		return nil, err
	}
	datasetID := req.DatasetID
	existing := []ir.Action{}
	if req.PreparationID != "" {
		prep, err := s.GetPreparation(ctx, req.PreparationID)
		if err != nil {
			return nil, err
		}
		if datasetID != "" && datasetID != prep.DatasetID {
			return nil, errors.New("preview add: dataset id does not match the preparation")
		}
		datasetID = prep.DatasetID
		existing, err = s.chain.ResolveActions(ctx, prep, req.StepRef)
		if err != nil {
			return nil, err
		}
	}
	return s.counted(s.preview.Add(ctx, preview.AddRequest{
		DatasetID:  datasetID,
		Existing:   existing,
		Candidate:  req.Actions,
		RowIndices: req.RowIndices,
	}))
}

// PreviewUpdate diffs the head recipe against the same recipe with
// stepID's actions replaced.
func (s *Service) PreviewUpdate(ctx context.Context, prepID, stepID string, actions []ir.Action, rowIndices []int) (res *preview.Result, err error) {
	ctx, span := tracer.Start(ctx, "service.PreviewUpdate", trace.WithAttributes(prepAttr(prepID)))
	defer func() { endSpan(span, err) }()

	if err := s.validateActions(actions); err != nil {
		return nil, err
	}
	prep, path, err := s.headPath(ctx, prepID)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(path, func(st ir.Step) bool { return st.ID == stepID })
	switch {
	case i < 0:
		return nil, ir.NewStepNotFound(prepID, stepID)
	case i == 0:
		return nil, ir.NewInvalidStepPosition(prepID, stepID, "the origin step cannot be edited")
	}
	return s.counted(s.preview.Update(ctx, preview.UpdateRequest{
		DatasetID:   prep.DatasetID,
		Steps:       rebase.Lists(path),
		Index:       i - 1,
		Replacement: actions,
		RowIndices:  rowIndices,
	}))
}

// PreviewDelete diffs the head recipe against the recipe without stepID.
func (s *Service) PreviewDelete(ctx context.Context, prepID, stepID string, rowIndices []int) (res *preview.Result, err error) {
	ctx, span := tracer.Start(ctx, "service.PreviewDelete", trace.WithAttributes(prepAttr(prepID)))
	defer func() { endSpan(span, err) }()

	prep, path, err := s.headPath(ctx, prepID)
	if err != nil {
		return nil, err
	}
	p, err := rebase.PlanDelete(prepID, path, stepID)
	if err != nil {
		return nil, err
	}
	return s.counted(s.preview.Diff(ctx, preview.DiffRequest{
		DatasetID:  prep.DatasetID,
		Base:       chain.Flatten(path),
		Candidate:  p.Actions(),
		RowIndices: rowIndices,
	}))
}

// Sample runs the recipe at ref over the dataset sample.
func (s *Service) Sample(ctx context.Context, prepID, ref string) (dataset.Sample, error) {
	prep, err := s.GetPreparation(ctx, prepID)
	if err != nil {
		return dataset.Sample{}, err
	}
	actions, err := s.chain.ResolveActions(ctx, prep, ref)
	if err != nil {
		return dataset.Sample{}, err
	}
	return s.preview.Run(ctx, prep.DatasetID, actions)
}

func (s *Service) headPath(ctx context.Context, prepID string) (ir.Preparation, []ir.Step, error) {
	prep, err := s.GetPreparation(ctx, prepID)
	if err != nil {
		return ir.Preparation{}, nil, err
	}
	path, err := s.chain.Ancestors(ctx, prep.Head)
	if err != nil {
		return ir.Preparation{}, nil, err
	}
	return prep, path, nil
}

// counted wraps a preview's row stream so every record handed out is
// counted by kind.
func (s *Service) counted(res *preview.Result, err error) (*preview.Result, error) {
	if err != nil {
		return nil, err
	}
	rows := res.Rows
	res.Rows = iter.Seq2[preview.RowDiff, error](func(yield func(preview.RowDiff, error) bool) {
		for d, err := range rows {
			if err == nil {
				countPreviewRecord(d.Kind)
			}
			if !yield(d, err) {
				return
			}
		}
	})
	return res, nil
}
