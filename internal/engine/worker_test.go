package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/durable/internal/ir"
	"github.com/roach88/durable/internal/store/memory"
	"github.com/roach88/durable/internal/testutil"
	"github.com/roach88/durable/internal/workflow"
)

func TestWorker_PublishesResult(t *testing.T) {
	for name, b := range testutil.Backends(t, nil) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			w := NewWorker(b, priceCalc, quiet())
			assert.Equal(t, "priceCalc", w.Name())

			reply := ir.Address{Queue: "checkout/results", Key: "1_o1"}
			require.NoError(t, Submit(ctx, b, priceCalc, "p1", order{Amount: 8}, reply))

			found, err := w.Poll(ctx)
			require.True(t, found)
			require.NoError(t, err)

			assert.Empty(t, scan(t, b, "priceCalc/invocations"))
			items := scan(t, b, "checkout/results")
			require.Len(t, items, 1)
			assert.Equal(t, "1_o1", items[0].Key)
			assert.Equal(t, `{"source":"priceCalc","output":10}`, string(items[0].Value))
		})
	}
}

func TestWorker_FailureRetried(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	calls := 0
	flaky := workflow.NewService("flaky", func(ctx context.Context, n int) (int, error) {
		calls++
		return 0, errors.New("upstream unavailable")
	})
	w := NewWorker(b, flaky, quiet(), WithRetryPolicy(RetryPolicy{MaxAttempts: 5, InitialInterval: time.Hour, MaxInterval: time.Hour}))

	require.NoError(t, Submit(ctx, b, flaky, "f1", 1, Inbox("f1")))
	found, err := w.Poll(ctx)
	require.True(t, found)
	require.Error(t, err)
	assert.False(t, IsFatal(err))
	assert.Equal(t, 1, calls)

	items := scan(t, b, "flaky/invocations")
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Attempts)
	assert.Contains(t, items[0].LastError, "upstream unavailable")
	assert.Empty(t, scan(t, b, InboxStream))
}

func TestWorker_PanicIsFailure(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	boom := workflow.NewService("boom", func(ctx context.Context, n int) (int, error) {
		panic("nil map")
	})
	w := NewWorker(b, boom, quiet(), WithRetryPolicy(RetryPolicy{MaxAttempts: 1}))

	require.NoError(t, Submit(ctx, b, boom, "b1", 1, Inbox("b1")))
	found, err := w.Poll(ctx)
	require.True(t, found)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	// MaxAttempts 1: parked after the first failure.
	items := scan(t, b, "boom/invocations")
	require.Len(t, items, 1)
	assert.True(t, items[0].Parked)
}
