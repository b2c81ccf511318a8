package harness

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/durable/internal/ir"
)

// FormatTrace renders a trace as one canonical JSON object per line.
func FormatTrace(trace []TraceEvent) ([]byte, error) {
	var buf bytes.Buffer
	for _, event := range trace {
		line, err := ir.MarshalCanonical(event)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario, fails t on any scenario error and
// compares the trace against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run the calling package's tests with -update.
func RunWithGolden(t *testing.T, scenario *Scenario, register Registrar) *Result {
	t.Helper()

	result, err := Run(scenario, register)
	if err != nil {
		t.Fatalf("run scenario %s: %v", scenario.Name, err)
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}

	AssertGolden(t, scenario.Name, result)
	return result
}

// AssertGolden compares the given result's trace against a golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	traceJSON, err := FormatTrace(result.Trace)
	if err != nil {
		t.Fatalf("format trace: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, traceJSON)
}
