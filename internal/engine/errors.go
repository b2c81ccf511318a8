package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/durable/internal/workflow"
)

// EventError is a failure to process one queue item.
//
// It carries enough context to find the item again (stream and key) and a
// code that decides whether the item is retried or parked.
type EventError struct {
	// Code identifies the error category.
	Code EventErrorCode

	// Component is the workflow or service that was processing the item.
	Component string

	// Stream and Key locate the item.
	Stream string
	Key    string

	// Err is the underlying cause.
	Err error
}

// EventErrorCode categorizes event failures.
type EventErrorCode string

const (
	// ErrCodeDivergence indicates replay disagreed with the step log.
	ErrCodeDivergence EventErrorCode = "DIVERGENCE"

	// ErrCodeBadInput indicates an input that does not fit the target's type
	// or schema.
	ErrCodeBadInput EventErrorCode = "BAD_INPUT"

	// ErrCodeMalformed indicates an item that cannot be decoded or whose key
	// has the wrong shape.
	ErrCodeMalformed EventErrorCode = "MALFORMED"

	// ErrCodeQuotaExceeded indicates an instance exceeded its step quota.
	ErrCodeQuotaExceeded EventErrorCode = "QUOTA_EXCEEDED"

	// ErrCodeFailed indicates the workflow or service function returned an
	// error or panicked.
	ErrCodeFailed EventErrorCode = "FAILED"

	// ErrCodeBackend indicates the queue backend rejected a read or write.
	ErrCodeBackend EventErrorCode = "BACKEND"
)

// Fatal reports whether items failing with this code are parked at once
// instead of retried. Redelivering them cannot succeed without an operator
// changing code or data.
func (c EventErrorCode) Fatal() bool {
	switch c {
	case ErrCodeDivergence, ErrCodeBadInput, ErrCodeMalformed, ErrCodeQuotaExceeded:
		return true
	}
	return false
}

// Error implements the error interface.
func (e *EventError) Error() string {
	return fmt.Sprintf("%s: %s %s#%s: %v", e.Code, e.Component, e.Stream, e.Key, e.Err)
}

func (e *EventError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if err is an EventError whose code is fatal.
// Uses errors.As to handle wrapped errors.
func IsFatal(err error) bool {
	var ee *EventError
	if errors.As(err, &ee) {
		return ee.Code.Fatal()
	}
	return false
}

// IsQuotaError returns true if the error is a quota exceeded error.
// Matches both EventError with ErrCodeQuotaExceeded and StepsExceededError.
func IsQuotaError(err error) bool {
	var ee *EventError
	if errors.As(err, &ee) && ee.Code == ErrCodeQuotaExceeded {
		return true
	}
	var se *StepsExceededError
	return errors.As(err, &se)
}

// classify maps an error raised while running a workflow or service onto
// an event error code.
func classify(err error) EventErrorCode {
	var se *StepsExceededError
	switch {
	case workflow.IsDivergence(err):
		return ErrCodeDivergence
	case errors.Is(err, workflow.ErrBadInput):
		return ErrCodeBadInput
	case errors.As(err, &se):
		return ErrCodeQuotaExceeded
	}
	return ErrCodeFailed
}
