package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/durable/internal/ir"
	"github.com/roach88/durable/internal/schema"
)

// Func is a workflow body. It must be deterministic given its input and the
// results of its calls.
type Func[In, Out any] func(wc *Context, input In) (Out, error)

// Runnable is the type-erased face of a Definition the engine drives.
type Runnable interface {
	Name() string
	Streams() Streams
	// ValidateInput checks raw against the definition's input type and schema.
	ValidateInput(raw json.RawMessage) error
	// Execute runs one attempt against records (which must hold index 0).
	Execute(key string, records []ir.StepRecord) (Attempt, error)
}

// Option configures a Definition or Service.
type Option func(*options)

type options struct {
	input *schema.Schema
}

// WithInputSchema validates every input against s before it is accepted.
func WithInputSchema(s *schema.Schema) Option {
	return func(o *options) { o.input = s }
}

// Definition binds a name, input and output types and a workflow body.
type Definition[In, Out any] struct {
	name string
	fn   Func[In, Out]
	opts options
}

var _ Runnable = (*Definition[struct{}, struct{}])(nil)

// Define creates a workflow definition.
func Define[In, Out any](name string, fn Func[In, Out], opts ...Option) *Definition[In, Out] {
	d := &Definition[In, Out]{name: name, fn: fn}
	for _, opt := range opts {
		opt(&d.opts)
	}
	return d
}

// Name returns the definition's identity.
func (d *Definition[In, Out]) Name() string { return d.name }

func (d *Definition[In, Out]) signature(In) Out {
	var zero Out
	return zero
}

// Streams returns the queues this definition owns.
func (d *Definition[In, Out]) Streams() Streams { return StreamsFor(d.name) }

// ValidateInput checks raw against In and the optional input schema.
func (d *Definition[In, Out]) ValidateInput(raw json.RawMessage) error {
	return validateInput[In](d.name, d.opts.input, raw)
}

// Execute runs the body once against records.
//
// The returned error is nil for Completed and Suspended outcomes. A
// divergence is reported even if the body swallowed it.
func (d *Definition[In, Out]) Execute(key string, records []ir.StepRecord) (Attempt, error) {
	wc := newContext(d.name, key, records)

	input, ok := wc.records[0]
	if !ok {
		return Attempt{}, fmt.Errorf("workflow %s/%s: step log has no input record", d.name, key)
	}
	var in In
	if err := decodeStrict(input.Value, &in); err != nil {
		return Attempt{}, fmt.Errorf("%w: %s/%s: %v", ErrBadInput, d.name, key, err)
	}

	out, runErr := d.run(wc, in)

	if wc.diverged != nil {
		return Attempt{}, wc.diverged
	}
	if wc.suspended {
		return Attempt{Outcome: Suspended[json.RawMessage](), Calls: wc.calls}, nil
	}
	if runErr != nil {
		return Attempt{}, runErr
	}
	if wc.cursor < wc.last {
		return Attempt{}, wc.diverge(wc.cursor+1, "return", wc.records[wc.last].Source, nil)
	}

	raw, err := ir.Marshal(out)
	if err != nil {
		return Attempt{}, fmt.Errorf("workflow %s/%s: encode output: %w", d.name, key, err)
	}
	return Attempt{Outcome: Completed(raw)}, nil
}

// run calls the body, converting a panic into an error.
func (d *Definition[In, Out]) run(wc *Context, in In) (out Out, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workflow %s/%s panicked: %v", d.name, wc.key, r)
		}
	}()
	return d.fn(wc, in)
}

func validateInput[In any](name string, s *schema.Schema, raw json.RawMessage) error {
	if s != nil {
		if err := s.Validate(raw); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBadInput, name, err)
		}
	}
	var in In
	if err := decodeStrict(raw, &in); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadInput, name, err)
	}
	return nil
}
