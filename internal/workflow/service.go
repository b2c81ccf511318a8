package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/durable/internal/ir"
	"github.com/roach88/durable/internal/schema"
)

// Handler is the type-erased face of a Service a worker drives.
type Handler interface {
	Name() string
	Streams() Streams
	ValidateInput(raw json.RawMessage) error
	Handle(ctx context.Context, raw json.RawMessage) (json.RawMessage, error)
}

// Service is a leaf computation: it may do I/O, is not replayed, and
// answers each invocation once. Workflows call it like any other target.
type Service[In, Out any] struct {
	name  string
	fn    func(context.Context, In) (Out, error)
	input *schema.Schema
}

var _ Handler = (*Service[struct{}, struct{}])(nil)

// NewService creates a leaf service.
func NewService[In, Out any](name string, fn func(context.Context, In) (Out, error), opts ...Option) *Service[In, Out] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Service[In, Out]{name: name, fn: fn, input: o.input}
}

func (s *Service[In, Out]) Name() string { return s.name }

func (s *Service[In, Out]) signature(In) Out {
	var zero Out
	return zero
}

// Streams returns the queues this service owns. Only the invocation stream
// is used.
func (s *Service[In, Out]) Streams() Streams { return StreamsFor(s.name) }

// ValidateInput checks raw against In and the optional input schema.
func (s *Service[In, Out]) ValidateInput(raw json.RawMessage) error {
	return validateInput[In](s.name, s.input, raw)
}

// Handle decodes raw, runs the service and encodes its output.
func (s *Service[In, Out]) Handle(ctx context.Context, raw json.RawMessage) (result json.RawMessage, err error) {
	var in In
	if err := decodeStrict(raw, &in); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadInput, s.name, err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("service %s panicked: %v", s.name, r)
		}
	}()

	out, err := s.fn(ctx, in)
	if err != nil {
		return nil, err
	}
	return ir.Marshal(out)
}
