package workflow

import (
	"errors"
	"fmt"
)

// ErrSuspended reports that an attempt reached a call with no recorded
// result. It is an outcome, not a failure: the engine persists the step log
// and schedules the pending calls.
var ErrSuspended = errors.New("workflow: suspended awaiting call result")

// ErrBadInput reports an invocation whose input does not decode into (or
// validate against) the definition's input type.
var ErrBadInput = errors.New("workflow: bad input")

// DivergenceError reports that replay disagrees with recorded history: the
// function asked for something other than what the step log holds at Step.
type DivergenceError struct {
	Workflow string
	Key      string
	Step     int
	Expected string // what the current code path asked for
	Recorded string // what the step log holds
	Err      error  // decode failure, if any
}

func (e *DivergenceError) Error() string {
	msg := fmt.Sprintf("workflow %s/%s: replay divergence at step %d: expected %s, recorded %s",
		e.Workflow, e.Key, e.Step, e.Expected, e.Recorded)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DivergenceError) Unwrap() error {
	return e.Err
}

// IsDivergence returns true if err is or wraps a *DivergenceError.
func IsDivergence(err error) bool {
	var de *DivergenceError
	return errors.As(err, &de)
}

// IsSuspended returns true if err is or wraps ErrSuspended.
func IsSuspended(err error) bool {
	return errors.Is(err, ErrSuspended)
}
