package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxSteps is the default maximum number of call results an
// instance's step log may hold.
// This prevents a runaway workflow (an unbounded loop of calls) from growing
// its log, and the cost of every replay, without limit.
const DefaultMaxSteps = 1000

// QuotaEnforcer enforces a maximum number of steps per instance.
//
// Replay cost grows with the step log, so the quota is checked on every
// sub-call result before the workflow is replayed. A limit of zero or less
// disables the check.
type QuotaEnforcer struct {
	maxSteps int
}

// NewQuotaEnforcer creates a new quota enforcer with the given limit.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check validates steps, the number of call results recorded for the
// instance key of workflow, against the limit.
//
// Returns StepsExceededError if the quota is exceeded.
func (q *QuotaEnforcer) Check(workflow, key string, steps int) error {
	if q.maxSteps > 0 && steps > q.maxSteps {
		return &StepsExceededError{
			Workflow: workflow,
			Key:      key,
			Steps:    steps,
			Limit:    q.maxSteps,
		}
	}
	return nil
}

// MaxSteps returns the maximum steps limit.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}

// StepsExceededError is returned when an instance exceeds the max steps
// quota. The triggering result is parked; the instance makes no further
// progress until it is requeued under a larger quota.
type StepsExceededError struct {
	Workflow string
	Key      string
	Steps    int
	Limit    int
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("instance %s/%s exceeded max steps quota: %d steps > %d limit",
		e.Workflow, e.Key, e.Steps, e.Limit)
}

// IsStepsExceededError returns true if the error is a StepsExceededError.
// Uses errors.As to handle wrapped errors.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
