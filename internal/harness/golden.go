package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/hotpatch/internal/ir"
)

// MarshalTrace renders a trace as canonical JSON, one object per line,
// preceded by a header naming the scenario.
func MarshalTrace(name string, trace []TraceEvent) ([]byte, error) {
	var buf bytes.Buffer
	header, err := ir.MarshalCanonical(ir.Object{
		"scenario_name": ir.String(name),
		"events":        ir.Int(int64(len(trace))),
	})
	if err != nil {
		return nil, err
	}
	buf.Write(header)
	buf.WriteByte('\n')

	for _, ev := range trace {
		obj, err := ev.canonical()
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", ev.Seq, err)
		}
		line, err := ir.MarshalCanonical(obj)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", ev.Seq, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// RunWithGolden runs a scenario and compares its trace with
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

// AssertGolden compares an existing result's trace with its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := MarshalTrace(name, result.Trace)
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
