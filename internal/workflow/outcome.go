package workflow

import (
	"encoding/json"

	"github.com/roach88/durable/internal/ir"
)

// Outcome is the terminal state of one attempt: Completed with a value, or
// Suspended awaiting call results.
type Outcome[T any] struct {
	value     T
	suspended bool
}

// Completed returns a finished outcome carrying v.
func Completed[T any](v T) Outcome[T] {
	return Outcome[T]{value: v}
}

// Suspended returns an outcome with no value.
func Suspended[T any]() Outcome[T] {
	return Outcome[T]{suspended: true}
}

// IsSuspended reports whether the attempt stopped at an unrecorded call.
func (o Outcome[T]) IsSuspended() bool {
	return o.suspended
}

// Value returns the output and true for a completed outcome.
func (o Outcome[T]) Value() (T, bool) {
	return o.value, !o.suspended
}

// Attempt is everything one replay attempt produced. Calls is non-empty only
// when the outcome is Suspended, and then only for calls issued by this
// attempt (a partially recorded fan-out group suspends without new calls).
type Attempt struct {
	Outcome Outcome[json.RawMessage]
	Calls   []ir.CallIntent
}
