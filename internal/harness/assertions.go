package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/durable/internal/engine"
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
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s %s\n", event.Seq, event.Component, event.Stream, event.Key, event.Outcome)
		}
	}

	return buf.String()
}

func (h *Harness) evaluate(ctx context.Context, a Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(h.result.Trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(h.result.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(h.result.Trace, a)
	case AssertFinalState:
		snap, err := engine.Observe(ctx, h.backend, a.Workflow)
		if err != nil {
			return err
		}
		return assertFinalState(snap, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func matches(event TraceEvent, a Assertion) bool {
	if event.Component != a.Component {
		return false
	}
	if a.Stream != "" && event.Stream != a.Stream {
		return false
	}
	if a.Outcome != "" && event.Outcome != a.Outcome {
		return false
	}
	return true
}

func describe(a Assertion) string {
	desc := a.Component
	if a.Stream != "" {
		desc += " " + a.Stream
	}
	if a.Outcome != "" {
		desc += " " + a.Outcome
	}
	return desc
}

// assertTraceContains checks that an event matching the component, and the
// stream and outcome if given, was processed.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if matches(event, a) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("event %s", describe(a)),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that components were first seen in the given
// order. Other events may come in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for _, event := range trace {
		if positions[event.Component] == 0 {
			positions[event.Component] = event.Seq
		}
	}

	for _, c := range a.Components {
		if positions[c] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all components present: %v", a.Components),
				Actual:   fmt.Sprintf("missing component: %s", c),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Components); i++ {
		prev, curr := a.Components[i-1], a.Components[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("components in order: %v", a.Components),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks the number of matching events.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if matches(event, a) {
			count++
		}
	}

	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d events of %s", a.Count, describe(a)),
			Actual:   fmt.Sprintf("%d events", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks what a workflow holds after the run.
func assertFinalState(snap engine.Snapshot, a Assertion) error {
	pending, parked := 0, 0
	for _, items := range [][]engine.PendingItem{snap.Invocations, snap.Results} {
		for _, it := range items {
			if it.Parked {
				parked++
			} else {
				pending++
			}
		}
	}

	check := func(what string, want *int, got int) error {
		if want == nil || *want == got {
			return nil
		}
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s has %d %s", a.Workflow, *want, what),
			Actual:   fmt.Sprintf("%d %s", got, what),
		}
	}

	if err := check("suspended instances", a.Instances, len(snap.Instances)); err != nil {
		return err
	}
	if err := check("pending items", a.Pending, pending); err != nil {
		return err
	}
	return check("parked items", a.Parked, parked)
}
