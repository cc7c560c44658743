package harness

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/prepchain/internal/ir"
)

// MarshalTrace renders a trace as canonical JSON, one event per line.
func MarshalTrace(trace []TraceEvent) ([]byte, error) {
	var buf bytes.Buffer
	for _, ev := range trace {
		line, err := ir.MarshalCanonical(ev.toIR())
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func (ev TraceEvent) toIR() ir.IRObject {
	obj := ir.IRObject{
		"seq":     ir.IRInt(ev.Seq),
		"op":      ir.IRString(ev.Op),
		"outcome": ir.IRString(ev.Outcome),
	}
	if ev.Prep != "" {
		obj["prep"] = ir.IRString(ev.Prep)
	}
	if ev.Args != nil {
		obj["args"] = ev.Args
	}
	if ev.Result != nil {
		obj["result"] = ev.Result
	}
	return obj
}

// RunWithGolden executes a scenario and compares the trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace against a golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := MarshalTrace(result.Trace)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
