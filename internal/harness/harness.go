package harness

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/roach88/prepchain/internal/dataset"
	"github.com/roach88/prepchain/internal/ir"
	"github.com/roach88/prepchain/internal/preview"
	"github.com/roach88/prepchain/internal/service"
	"github.com/roach88/prepchain/internal/store"
	"github.com/roach88/prepchain/internal/testutil"
)

// Harness executes one scenario against a live service.
type Harness struct {
	store    *store.Store
	datasets *dataset.Memory
	svc      *service.Service
	clock    *testutil.DeterministicClock
	logger   *slog.Logger

	// preps maps scenario aliases to service ids.
	preps map[string]string
	// owners maps aliases to their owner, the default flow user.
	owners map[string]string
	// saved holds step ids remembered by flow steps.
	saved map[string]string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// An error return means the scenario could not be set up; expectation and
// assertion failures are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:    st,
		datasets: dataset.NewMemory(),
		clock:    testutil.NewDeterministicClock(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		preps:    map[string]string{},
		owners:   map[string]string{},
		saved:    map[string]string{},
	}
	h.seedDatasets(scenario.Datasets)

	h.svc, err = service.New(service.Config{
		Store:    st,
		Datasets: h.datasets,
		IDs:      testutil.NewSequenceIDs("prep"),
		Now:      h.clock.Now,
		Logger:   h.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	for i, p := range scenario.Preparations {
		prep, err := h.svc.CreatePreparation(ctx, p.Dataset, nameOr(p.Name, p.ID), p.Owner)
		if err != nil {
			return nil, fmt.Errorf("preparations[%d]: %w", i, err)
		}
		h.preps[p.ID] = prep.ID
		h.owners[p.ID] = p.Owner
	}

	result := NewResult()
	for i, step := range scenario.Flow {
		h.executeStep(ctx, i, step, result)
	}

	for _, msg := range h.evaluate(ctx, scenario.Assertions, result) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) seedDatasets(fixtures map[string]DatasetFixture) {
	for id, ds := range fixtures {
		cols := make([]ir.Column, len(ds.Columns))
		for i, c := range ds.Columns {
			cols[i] = ir.Column{ID: dataset.ColumnID(i), Name: c.Name, Type: nameOr(c.Type, ir.TypeString)}
		}
		rows := make([]ir.Row, len(ds.Rows))
		for i, values := range ds.Rows {
			row := ir.Row{Values: make(map[string]string, len(values))}
			for j, v := range values {
				row.Values[cols[j].ID] = v
			}
			rows[i] = row
		}
		h.datasets.Put(id, cols, rows)
	}
}

// executeStep runs one flow step, traces it and checks its expectation.
func (h *Harness) executeStep(ctx context.Context, index int, step FlowStep, result *Result) {
	ev := TraceEvent{Op: step.Op, Prep: step.Prep, Args: stepArgs(step)}

	res, err := h.dispatch(ctx, step)
	if err != nil {
		ev.Outcome = outcome(err)
	} else {
		ev.Outcome = OutcomeOK
		ev.Result = res
	}
	result.AddTrace(ev)

	want := OutcomeOK
	if step.Expect != nil {
		want = step.Expect.Error
	}
	if ev.Outcome != want {
		msg := fmt.Sprintf("flow[%d] %s: expected %s, got %s", index, step.Op, want, ev.Outcome)
		if err != nil {
			msg += ": " + err.Error()
		}
		result.AddError(msg)
	}

	if step.Save != "" && err == nil {
		prep, perr := h.svc.GetPreparation(ctx, h.preps[step.Prep])
		if perr != nil {
			result.AddError(fmt.Sprintf("flow[%d] save %s: %v", index, step.Save, perr))
			return
		}
		h.saved[step.Save] = prep.Head
	}

	h.logger.Info("flow step completed", "step", index, "op", step.Op, "outcome", ev.Outcome)
}

func (h *Harness) dispatch(ctx context.Context, step FlowStep) (ir.IRObject, error) {
	prepID := h.preps[step.Prep]
	user := nameOr(step.User, h.owners[step.Prep])
	actions := toActions(step.Actions)

	switch step.Op {
	case OpAppend:
		return editResult(h.svc.Append(ctx, prepID, actions, user))
	case OpAppendEach:
		return editResult(h.svc.AppendEach(ctx, prepID, actions, user))
	case OpUpdate:
		stepID, err := h.ref(ctx, step.Prep, step.Step)
		if err != nil {
			return nil, err
		}
		return editResult(h.svc.Update(ctx, prepID, stepID, actions, user))
	case OpDelete:
		stepID, err := h.ref(ctx, step.Prep, step.Step)
		if err != nil {
			return nil, err
		}
		return editResult(h.svc.Delete(ctx, prepID, stepID, user))
	case OpReorder:
		stepID, err := h.ref(ctx, step.Prep, step.Step)
		if err != nil {
			return nil, err
		}
		afterID, err := h.ref(ctx, step.Prep, step.After)
		if err != nil {
			return nil, err
		}
		return editResult(h.svc.Reorder(ctx, prepID, stepID, afterID, user))
	case OpCopy:
		return editResult(h.svc.CopyStepsFrom(ctx, prepID, h.preps[step.Source], user))
	case OpMoveHead, OpRedo:
		stepID, err := h.ref(ctx, step.Prep, step.Step)
		if err != nil {
			return nil, err
		}
		move := h.svc.MoveHead
		if step.Op == OpRedo {
			move = h.svc.Redo
		}
		return h.headResult(ctx)(move(ctx, prepID, stepID, user))
	case OpUndo:
		return h.headResult(ctx)(h.svc.Undo(ctx, prepID, user))
	case OpLock:
		l, err := h.svc.Lock(ctx, prepID, user)
		if err != nil {
			return nil, err
		}
		return ir.IRObject{"holder": ir.IRString(l.Holder)}, nil
	case OpUnlock:
		return ir.IRObject{}, h.svc.Unlock(ctx, prepID, user)
	case OpRename:
		p, err := h.svc.RenamePreparation(ctx, prepID, step.Name, user)
		if err != nil {
			return nil, err
		}
		return ir.IRObject{"name": ir.IRString(p.Name)}, nil
	case OpDeletePrep:
		return ir.IRObject{}, h.svc.DeletePreparation(ctx, prepID, user)
	case OpDropDataset:
		h.datasets.Delete(step.Dataset)
		return ir.IRObject{}, nil
	case OpSample:
		ref, err := h.ref(ctx, step.Prep, nameOr(step.Step, ir.HeadRef))
		if err != nil {
			return nil, err
		}
		sample, err := h.svc.Sample(ctx, prepID, ref)
		if err != nil {
			return nil, err
		}
		rows := make(ir.IRArray, len(sample.Rows))
		for i, r := range sample.Rows {
			rows[i] = ir.StringMap(r.Values)
		}
		return ir.IRObject{"rows": rows}, nil
	default:
		return h.dispatchPreview(ctx, step, prepID, actions)
	}
}

func (h *Harness) dispatchPreview(ctx context.Context, step FlowStep, prepID string, actions []ir.Action) (ir.IRObject, error) {
	var (
		res *preview.Result
		err error
	)
	switch step.Op {
	case OpPreviewAdd:
		req := service.AddPreview{PreparationID: prepID, DatasetID: step.Dataset, Actions: actions, RowIndices: step.Rows}
		if prepID != "" && step.Step != "" {
			if req.StepRef, err = h.ref(ctx, step.Prep, step.Step); err != nil {
				return nil, err
			}
		}
		res, err = h.svc.PreviewAdd(ctx, req)
	case OpPreviewUpdate, OpPreviewDelete:
		var stepID string
		if stepID, err = h.ref(ctx, step.Prep, step.Step); err != nil {
			return nil, err
		}
		if step.Op == OpPreviewUpdate {
			res, err = h.svc.PreviewUpdate(ctx, prepID, stepID, actions, step.Rows)
		} else {
			res, err = h.svc.PreviewDelete(ctx, prepID, stepID, step.Rows)
		}
	case OpPreviewDiff:
		var from, to string
		if from, err = h.ref(ctx, step.Prep, nameOr(step.Step, ir.HeadRef)); err != nil {
			return nil, err
		}
		if to, err = h.ref(ctx, step.Prep, nameOr(step.To, ir.HeadRef)); err != nil {
			return nil, err
		}
		res, err = h.svc.PreviewDiff(ctx, prepID, from, to, step.Rows)
	default:
		return nil, fmt.Errorf("unknown op %q", step.Op)
	}
	if err != nil {
		return nil, err
	}
	defer res.Stop()

	var buf bytes.Buffer
	if err := preview.Render(&buf, res); err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	arr := make(ir.IRArray, len(lines))
	for i, l := range lines {
		arr[i] = ir.IRString(l)
	}
	return ir.IRObject{"lines": arr}, nil
}

// ref resolves a step reference against alias's current head path.
func (h *Harness) ref(ctx context.Context, alias, ref string) (string, error) {
	switch {
	case ref == ir.HeadRef:
		prep, err := h.svc.GetPreparation(ctx, h.preps[alias])
		if err != nil {
			return "", err
		}
		return prep.Head, nil
	case strings.HasPrefix(ref, "$"):
		id, ok := h.saved[ref[1:]]
		if !ok {
			return "", fmt.Errorf("no saved step %q", ref[1:])
		}
		return id, nil
	case strings.HasPrefix(ref, "@"):
		n, err := strconv.Atoi(ref[1:])
		if err != nil {
			return "", fmt.Errorf("invalid step position %q", ref)
		}
		path, err := h.svc.ListSteps(ctx, h.preps[alias])
		if err != nil {
			return "", err
		}
		if n < 0 || n >= len(path) {
			return "", fmt.Errorf("step position %d out of range (path has %d steps)", n, len(path))
		}
		return path[n].ID, nil
	default:
		return ref, nil
	}
}

func editResult(r service.EditResult, err error) (ir.IRObject, error) {
	if err != nil {
		return nil, err
	}
	return ir.IRObject{
		"kept":     ir.IRInt(r.Kept),
		"replayed": ir.IRInt(r.Replayed),
		"created":  ir.IRInt(r.Created),
		"moved":    ir.IRBool(r.Head() != r.PreviousHead),
	}, nil
}

func (h *Harness) headResult(ctx context.Context) func(ir.Preparation, error) (ir.IRObject, error) {
	return func(prep ir.Preparation, err error) (ir.IRObject, error) {
		if err != nil {
			return nil, err
		}
		path, err := h.svc.ListSteps(ctx, prep.ID)
		if err != nil {
			return nil, err
		}
		return ir.IRObject{"depth": ir.IRInt(len(path) - 1)}, nil
	}
}

func stepArgs(step FlowStep) ir.IRObject {
	args := ir.IRObject{}
	set := func(k, v string) {
		if v != "" {
			args[k] = ir.IRString(v)
		}
	}
	set("user", step.User)
	set("step", step.Step)
	set("after", step.After)
	set("to", step.To)
	set("source", step.Source)
	set("dataset", step.Dataset)
	set("name", step.Name)
	if len(step.Actions) > 0 {
		args["actions"] = ir.ActionsToIR(toActions(step.Actions))
	}
	if len(step.Rows) > 0 {
		rows := make(ir.IRArray, len(step.Rows))
		for i, r := range step.Rows {
			rows[i] = ir.IRInt(r)
		}
		args["rows"] = rows
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

// outcome is the error's ir code, or "error" for failures outside the
// taxonomy.
func outcome(err error) string {
	if code := ir.CodeOf(err); code != "" {
		return string(code)
	}
	return "error"
}

func nameOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
