package harness

import "github.com/roach88/prepchain/internal/ir"

// OutcomeOK marks a flow step that returned no error. Failed steps record
// their ir error code instead.
const OutcomeOK = "ok"

// TraceEvent records one executed flow step.
type TraceEvent struct {
	Seq     int         `json:"seq"`
	Op      string      `json:"op"`
	Prep    string      `json:"prep,omitempty"`
	Args    ir.IRObject `json:"args,omitempty"`
	Outcome string      `json:"outcome"`
	Result  ir.IRObject `json:"result,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds one event per flow step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event, numbering it from 1.
func (r *Result) AddTrace(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}
