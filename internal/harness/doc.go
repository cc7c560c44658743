// Package harness runs preparation scenarios against a real service.
//
// A scenario seeds in-memory datasets and preparations, then drives a flow
// of service operations and checks the outcome of each one. The resulting
// trace is deterministic, so it can be compared against a golden file.
//
// # Scenario Format
//
//	name: rebase_update
//	description: "Updating a middle step replays its descendants"
//	datasets:
//	  D1:
//	    columns:
//	      - {name: name}
//	      - {name: active, type: boolean}
//	    rows:
//	      - [alice, "true"]
//	      - [bob, "false"]
//	preparations:
//	  - {id: P, dataset: D1, name: customers, owner: u1}
//	flow:
//	  - op: append
//	    prep: P
//	    user: u1
//	    actions:
//	      - {action: uppercase, params: {column_id: "0000"}}
//	    save: first
//	  - op: update
//	    prep: P
//	    user: u1
//	    step: "@1"
//	    actions:
//	      - {action: negate, params: {column_id: "0001"}}
//	  - op: move_head
//	    prep: P
//	    user: u2
//	    step: $first
//	    expect: {error: CONCURRENT_EDIT_CONFLICT}
//	assertions:
//	  - type: head_actions
//	    prep: P
//	    actions:
//	      - {action: negate, params: {column_id: "0001"}}
//
// # Step References
//
// Flow steps name steps in three ways:
//
//   - "head": the preparation's current head
//   - "@N": the N-th step on the current head path, 0 being the origin
//   - "$name": the head saved by an earlier flow step's save field
//
// # Assertion Types
//
//   - head_actions: the resolved action list at a preparation's head
//   - step_count: the number of non-origin steps on the head path
//   - same_step: every listed reference resolves to the same step id
//   - locked_by: the current lock holder, empty for unlocked
//   - trace_count: how many trace events have an op (and outcome)
//
// # Deterministic Testing
//
// Every scenario runs on a fresh in-memory SQLite store with a
// testutil.DeterministicClock and sequential preparation ids. Step ids are
// content addresses, so the trace records positions and counts rather than
// raw ids.
package harness
