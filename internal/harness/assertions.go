package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/prepchain/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s -> %s\n", ev.Seq, ev.Op, ev.Prep, ev.Outcome)
		}
	}
	return buf.String()
}

// evaluate checks every assertion and returns failure messages.
func (h *Harness) evaluate(ctx context.Context, assertions []Assertion, result *Result) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertHeadActions:
			err = h.assertHeadActions(ctx, a)
		case AssertStepCount:
			err = h.assertStepCount(ctx, a)
		case AssertSameStep:
			err = h.assertSameStep(ctx, a)
		case AssertLockedBy:
			err = h.assertLockedBy(ctx, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func (h *Harness) assertHeadActions(ctx context.Context, a Assertion) error {
	got, err := h.svc.ResolveActions(ctx, h.preps[a.Prep], ir.HeadRef)
	if err != nil {
		return err
	}
	want := toActions(a.Actions)
	if !ir.ActionsEqual(got, want) {
		return &AssertionError{
			Type:     AssertHeadActions,
			Expected: formatActions(want),
			Actual:   formatActions(got),
		}
	}
	return nil
}

func (h *Harness) assertStepCount(ctx context.Context, a Assertion) error {
	path, err := h.svc.ListSteps(ctx, h.preps[a.Prep])
	if err != nil {
		return err
	}
	if got := len(path) - 1; got != a.Count {
		return &AssertionError{
			Type:     AssertStepCount,
			Expected: fmt.Sprintf("%d steps after the origin", a.Count),
			Actual:   fmt.Sprintf("%d steps", got),
		}
	}
	return nil
}

// assertSameStep resolves refs of the form "$saved" or "alias:ref".
func (h *Harness) assertSameStep(ctx context.Context, a Assertion) error {
	ids := make([]string, len(a.Refs))
	for i, r := range a.Refs {
		alias, ref := "", r
		if before, after, ok := strings.Cut(r, ":"); ok {
			alias, ref = before, after
		}
		id, err := h.ref(ctx, alias, ref)
		if err != nil {
			return fmt.Errorf("ref %q: %w", r, err)
		}
		ids[i] = id
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] != ids[0] {
			return &AssertionError{
				Type:     AssertSameStep,
				Expected: fmt.Sprintf("%v to resolve to one step", a.Refs),
				Actual:   fmt.Sprintf("%s resolves to %s, %s to %s", a.Refs[0], ids[0], a.Refs[i], ids[i]),
			}
		}
	}
	return nil
}

func (h *Harness) assertLockedBy(ctx context.Context, a Assertion) error {
	prep, err := h.svc.GetPreparation(ctx, h.preps[a.Prep])
	if err != nil {
		return err
	}
	got := ""
	if prep.Lock != nil {
		got = prep.Lock.Holder
	}
	if got != a.User {
		return &AssertionError{
			Type:     AssertLockedBy,
			Expected: fmt.Sprintf("holder %q", a.User),
			Actual:   fmt.Sprintf("holder %q", got),
		}
	}
	return nil
}

// assertTraceCount checks how many events have the op (and outcome, when
// given).
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if ev.Op == a.Op && (a.Outcome == "" || ev.Outcome == a.Outcome) {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%s to appear %d times", a.Op, a.Count),
			Actual:   fmt.Sprintf("appeared %d times", n),
			Trace:    trace,
		}
	}
	return nil
}

func formatActions(actions []ir.Action) string {
	parts := make([]string, len(actions))
	for i, a := range actions {
		parts[i] = a.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
