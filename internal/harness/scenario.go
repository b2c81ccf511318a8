package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a workflow test scenario: inputs to submit, outputs to
// expect and assertions over the processing trace.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Submit lists invocations pushed before processing starts, in order.
	Submit []Submission `yaml:"submit"`

	// Expect lists outputs that must arrive in the inbox.
	Expect []Expectation `yaml:"expect,omitempty"`

	// Assertions validate the trace and final state.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// Submission is one invocation of a registered workflow or service.
type Submission struct {
	Target string `yaml:"target"`
	Key    string `yaml:"key"`

	// Input is converted to JSON as is.
	Input any `yaml:"input"`

	// Rejected expects the submission to fail input validation.
	Rejected bool `yaml:"rejected,omitempty"`
}

// Expectation is an output expected under an instance key.
type Expectation struct {
	Key    string `yaml:"key"`
	Output any    `yaml:"output"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": Check an event of the component was processed
	// - "trace_order": Check components were first seen in order
	// - "trace_count": Check the component processed exactly N events
	// - "final_state": Check what a workflow holds after the run
	Type string `yaml:"type"`

	// Component is a workflow or service name (trace_contains, trace_count).
	Component string `yaml:"component,omitempty"`

	// Stream and Outcome narrow trace_contains and trace_count.
	Stream  string `yaml:"stream,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`

	// Count is the expected number of events (trace_count).
	Count int `yaml:"count,omitempty"`

	// Components is the expected order (trace_order).
	Components []string `yaml:"components,omitempty"`

	// Workflow and the counts below are used by final_state. Unset counts
	// are not checked.
	Workflow  string `yaml:"workflow,omitempty"`
	Instances *int   `yaml:"instances,omitempty"`
	Pending   *int   `yaml:"pending,omitempty"`
	Parked    *int   `yaml:"parked,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Submit) == 0 {
		return fmt.Errorf("submit list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	keys := make(map[string]bool)
	for i, sub := range s.Submit {
		if sub.Target == "" {
			return fmt.Errorf("submit[%d]: target is required", i)
		}
		if sub.Key == "" {
			return fmt.Errorf("submit[%d]: key is required", i)
		}
		if sub.Input == nil {
			return fmt.Errorf("submit[%d]: input is required", i)
		}
		if keys[sub.Key] {
			return fmt.Errorf("submit[%d]: duplicate key %q", i, sub.Key)
		}
		keys[sub.Key] = true
	}

	for i, exp := range s.Expect {
		if exp.Key == "" {
			return fmt.Errorf("expect[%d]: key is required", i)
		}
		if !keys[exp.Key] {
			return fmt.Errorf("expect[%d]: key %q was never submitted", i, exp.Key)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Component == "" {
			return fmt.Errorf("assertions[%d]: component is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Components) == 0 {
			return fmt.Errorf("assertions[%d]: components list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Component == "" {
			return fmt.Errorf("assertions[%d]: component is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Workflow == "" {
			return fmt.Errorf("assertions[%d]: workflow is required for final_state", index)
		}
		if a.Instances == nil && a.Pending == nil && a.Parked == nil {
			return fmt.Errorf("assertions[%d]: final_state needs instances, pending or parked", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
