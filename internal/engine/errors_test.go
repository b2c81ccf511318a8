package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/durable/internal/workflow"
)

func TestEventError_Error(t *testing.T) {
	err := &EventError{
		Code:      ErrCodeFailed,
		Component: "checkout",
		Stream:    "checkout/results",
		Key:       "1_o1",
		Err:       assert.AnError,
	}

	msg := err.Error()
	assert.Contains(t, msg, "FAILED")
	assert.Contains(t, msg, "checkout/results#1_o1")
	assert.ErrorIs(t, err, assert.AnError)
}

func TestEventErrorCode_Fatal(t *testing.T) {
	fatal := []EventErrorCode{ErrCodeDivergence, ErrCodeBadInput, ErrCodeMalformed, ErrCodeQuotaExceeded}
	for _, c := range fatal {
		assert.True(t, c.Fatal(), c)
	}
	assert.False(t, ErrCodeFailed.Fatal())
	assert.False(t, ErrCodeBackend.Fatal())

	assert.True(t, IsFatal(fmt.Errorf("wrapped: %w", &EventError{Code: ErrCodeMalformed})))
	assert.False(t, IsFatal(assert.AnError))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrCodeDivergence, classify(&workflow.DivergenceError{Workflow: "w", Key: "k", Step: 1}))
	assert.Equal(t, ErrCodeBadInput, classify(fmt.Errorf("%w: amount", workflow.ErrBadInput)))
	assert.Equal(t, ErrCodeQuotaExceeded, classify(&StepsExceededError{Steps: 2, Limit: 1}))
	assert.Equal(t, ErrCodeFailed, classify(assert.AnError))
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{InitialInterval: time.Second, MaxInterval: 5 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 5*time.Second, p.Delay(4))
	assert.Equal(t, 5*time.Second, p.Delay(10))
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3}
	assert.False(t, p.Exhausted(2))
	assert.True(t, p.Exhausted(3))

	forever := RetryPolicy{}
	assert.False(t, forever.Exhausted(1000))

	assert.Equal(t, 5, DefaultRetryPolicy().MaxAttempts)
}
