package harness

import "encoding/json"

// TraceEvent is one processed queue item.
type TraceEvent struct {
	Seq       int    `json:"seq"`
	Component string `json:"component"`
	Stream    string `json:"stream"` // "invocations" or "results"

	// Key is the instance key of a workflow invocation or the "{step}_{key}"
	// key of a sub-call result. Service invocation keys are content hashes
	// and are left out.
	Key string `json:"key,omitempty"`

	// ReplyTo is where an invocation's output goes.
	ReplyTo string `json:"reply_to,omitempty"`

	// Payload is the invocation input or the delivered output.
	Payload json.RawMessage `json:"payload,omitempty"`

	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace lists processed events in processing order.
	Trace []TraceEvent `json:"trace"`

	// Outputs holds what arrived in the inbox, by instance key.
	Outputs map[string]json.RawMessage `json:"outputs"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Outputs: make(map[string]json.RawMessage),
		Errors:  []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
