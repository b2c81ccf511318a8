package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/durable/internal/ir"
	"github.com/roach88/durable/internal/queue"
	"github.com/roach88/durable/internal/store/memory"
	"github.com/roach88/durable/internal/testutil"
	"github.com/roach88/durable/internal/workflow"
)

type order struct {
	Amount float64 `json:"amount"`
}

var (
	priceCalc = workflow.NewService("priceCalc", func(ctx context.Context, o order) (float64, error) {
		return o.Amount * 1.25, nil
	})
	riskCheck = workflow.NewService("riskCheck", func(ctx context.Context, total float64) (bool, error) {
		return total < 100, nil
	})

	checkout = workflow.Define("checkout", func(wc *workflow.Context, o order) (bool, error) {
		total, err := workflow.Call(wc, priceCalc, o)
		if err != nil {
			return false, err
		}
		return workflow.Call(wc, riskCheck, total)
	})

	taxQuote  = workflow.NewRef[float64, float64]("taxQuote")
	shipQuote = workflow.NewRef[float64, float64]("shipQuote")

	quote = workflow.Define("quote", func(wc *workflow.Context, amount float64) (float64, error) {
		tax := workflow.Async(taxQuote, amount)
		ship := workflow.Async(shipQuote, amount)
		if err := workflow.All(wc, tax, ship); err != nil {
			return 0, err
		}
		return amount + tax.Value() + ship.Value(), nil
	})

	doubler = workflow.Define("doubler", func(wc *workflow.Context, n int) (int, error) {
		if n < 0 {
			return 0, errors.New("negative input")
		}
		return n * 2, nil
	})
)

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// deliver pushes a sub-call result as a callee would.
func deliver(t *testing.T, b queue.Backend, wf, key string, step int, source, output string) {
	t.Helper()
	err := b.Update(context.Background(), func(tx queue.Tx) error {
		return workflow.StreamsFor(wf).ResultsStream().Push(tx, ir.CompositeKey(step, key), ir.Result{
			Source: source,
			Output: json.RawMessage(output),
		})
	})
	require.NoError(t, err)
}

func scan(t *testing.T, b queue.Backend, q string) []queue.Item {
	t.Helper()
	var items []queue.Item
	err := b.View(context.Background(), func(tx queue.Tx) error {
		var err error
		items, err = tx.Scan(q)
		return err
	})
	require.NoError(t, err)
	return items
}

func stepLog(t *testing.T, b queue.Backend, wf, key string) []ir.StepRecord {
	t.Helper()
	var records []ir.StepRecord
	err := b.View(context.Background(), func(tx queue.Tx) error {
		var err error
		records, err = workflow.StreamsFor(wf).StepLog().Read(tx, key)
		return err
	})
	require.NoError(t, err)
	return records
}

func mustPoll(t *testing.T, e *Engine) error {
	t.Helper()
	found, err := e.Poll(context.Background())
	require.True(t, found, "expected a visible event")
	return err
}

func awaitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestEngine_New(t *testing.T) {
	e := New(memory.New(), checkout, quiet())

	assert.Equal(t, "checkout", e.Name())
	assert.Equal(t, DefaultMaxSteps, e.MaxSteps())
	assert.Equal(t, []string{"checkout/invocations", "checkout/results"}, e.d.queues)

	e2 := New(memory.New(), checkout, quiet(), WithMaxSteps(500))
	assert.Equal(t, 500, e2.MaxSteps())
}

func TestEngine_PollEmpty(t *testing.T) {
	e := New(memory.New(), checkout, quiet())

	found, err := e.Poll(context.Background())
	assert.False(t, found)
	assert.NoError(t, err)
}

func TestEngine_SuspendPersistsStepLogAndCalls(t *testing.T) {
	for name, b := range testutil.Backends(t, nil) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e := New(b, checkout, quiet())

			require.NoError(t, Submit(ctx, b, checkout, "o1", order{Amount: 10}, Inbox("o1")))
			require.NoError(t, mustPoll(t, e))

			// Invocation consumed.
			assert.Empty(t, scan(t, b, "checkout/invocations"))

			// Step 0 holds the input, produced by the definition itself.
			records := stepLog(t, b, "checkout", "o1")
			require.Len(t, records, 1)
			assert.Equal(t, 0, records[0].Index)
			assert.Equal(t, "checkout", records[0].Source)
			assert.JSONEq(t, `{"amount":10}`, string(records[0].Value))

			snap, err := Observe(ctx, b, "checkout")
			require.NoError(t, err)
			require.Len(t, snap.Instances, 1)
			require.NotNil(t, snap.Instances[0].Callback)
			assert.Equal(t, Inbox("o1"), *snap.Instances[0].Callback)

			// One call to priceCalc, replying into checkout's results stream.
			calls := scan(t, b, "priceCalc/invocations")
			require.Len(t, calls, 1)
			assert.Equal(t, ir.CallKey("checkout", "o1", 1), calls[0].Key)

			var inv ir.Invocation
			require.NoError(t, json.Unmarshal(calls[0].Value, &inv))
			assert.Equal(t, ir.Address{Queue: "checkout/results", Key: "1_o1"}, inv.ReplyTo)
			assert.JSONEq(t, `{"amount":10}`, string(inv.Input))
		})
	}
}

func TestEngine_DuplicateInvocationDoesNotReRegister(t *testing.T) {
	for name, b := range testutil.Backends(t, nil) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e := New(b, checkout, quiet())

			require.NoError(t, Submit(ctx, b, checkout, "o1", order{Amount: 10}, Inbox("o1")))
			require.NoError(t, mustPoll(t, e))

			// The same invocation delivered again, with a different input.
			require.NoError(t, Submit(ctx, b, checkout, "o1", order{Amount: 99}, Inbox("other")))
			require.NoError(t, mustPoll(t, e))

			assert.Empty(t, scan(t, b, "checkout/invocations"))
			records := stepLog(t, b, "checkout", "o1")
			require.Len(t, records, 1)
			assert.JSONEq(t, `{"amount":10}`, string(records[0].Value))

			snap, err := Observe(ctx, b, "checkout")
			require.NoError(t, err)
			require.Len(t, snap.Instances, 1)
			assert.Equal(t, Inbox("o1"), *snap.Instances[0].Callback)

			assert.Len(t, scan(t, b, "priceCalc/invocations"), 1)
		})
	}
}

func TestEngine_CompletionCleansUp(t *testing.T) {
	for name, b := range testutil.Backends(t, nil) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e := New(b, checkout, quiet())

			require.NoError(t, Submit(ctx, b, checkout, "o1", order{Amount: 10}, Inbox("o1")))
			require.NoError(t, mustPoll(t, e))

			deliver(t, b, "checkout", "o1", 1, "priceCalc", `12.5`)
			require.NoError(t, mustPoll(t, e))
			assert.Len(t, stepLog(t, b, "checkout", "o1"), 2)
			assert.Len(t, scan(t, b, "riskCheck/invocations"), 1)

			deliver(t, b, "checkout", "o1", 2, "riskCheck", `true`)
			require.NoError(t, mustPoll(t, e))

			snap, err := Observe(ctx, b, "checkout")
			require.NoError(t, err)
			assert.Empty(t, snap.Invocations)
			assert.Empty(t, snap.Results)
			assert.Empty(t, snap.Instances)
			assert.Empty(t, scan(t, b, "checkout/callbacks"))

			res, err := AwaitResult(awaitCtx(t), b, 10*time.Millisecond, Inbox("o1"))
			require.NoError(t, err)
			assert.Equal(t, "checkout", res.Source)
			assert.Equal(t, `true`, string(res.Output))
			assert.Empty(t, scan(t, b, InboxStream))
		})
	}
}

func TestSubmitRaw_KeepsInputTokens(t *testing.T) {
	ctx := context.Background()
	b := memory.New()

	require.NoError(t, SubmitRaw(ctx, b, "checkout", "o1", json.RawMessage(`{ "amount" : 12.50 }`), Inbox("o1")))
	items := scan(t, b, "checkout/invocations")
	require.Len(t, items, 1)
	var inv ir.Invocation
	require.NoError(t, json.Unmarshal(items[0].Value, &inv))
	assert.Equal(t, `{"amount":12.50}`, string(inv.Input))

	assert.Error(t, SubmitRaw(ctx, b, "checkout", "o2", json.RawMessage(`{`), Inbox("o2")))
}

func TestEngine_CompletesWithoutSuspending(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	e := New(b, doubler, quiet())

	require.NoError(t, Submit(ctx, b, doubler, "d1", 21, Inbox("d1")))
	require.NoError(t, mustPoll(t, e))

	assert.Empty(t, stepLog(t, b, "doubler", "d1"))
	n, err := Await[int](awaitCtx(t), b, 10*time.Millisecond, Inbox("d1"))
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestEngine_NoReplyAddressDiscardsOutput(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	e := New(b, doubler, quiet())

	require.NoError(t, Submit(ctx, b, doubler, "d1", 1, ir.Address{}))
	require.NoError(t, mustPoll(t, e))

	assert.Empty(t, scan(t, b, "doubler/invocations"))
	assert.Empty(t, scan(t, b, InboxStream))
}

func TestEngine_FanOutOrderIndependence(t *testing.T) {
	for name, b := range testutil.Backends(t, nil) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e := New(b, quote, quiet())

			require.NoError(t, Submit(ctx, b, quote, "q1", 100.0, Inbox("q1")))
			require.NoError(t, Submit(ctx, b, quote, "q2", 100.0, Inbox("q2")))
			require.NoError(t, mustPoll(t, e))
			require.NoError(t, mustPoll(t, e))

			assert.Len(t, scan(t, b, "taxQuote/invocations"), 2)
			assert.Len(t, scan(t, b, "shipQuote/invocations"), 2)

			// q1 hears from tax first, q2 from shipping first.
			deliver(t, b, "quote", "q1", 1, "taxQuote", `8`)
			deliver(t, b, "quote", "q2", 2, "shipQuote", `5`)
			require.NoError(t, mustPoll(t, e))
			require.NoError(t, mustPoll(t, e))

			// Half-answered groups wait without re-issuing.
			assert.Len(t, scan(t, b, "taxQuote/invocations"), 2)
			assert.Len(t, scan(t, b, "shipQuote/invocations"), 2)
			assert.Len(t, stepLog(t, b, "quote", "q1"), 2)
			assert.Len(t, stepLog(t, b, "quote", "q2"), 2)

			deliver(t, b, "quote", "q1", 2, "shipQuote", `5`)
			deliver(t, b, "quote", "q2", 1, "taxQuote", `8`)
			require.NoError(t, mustPoll(t, e))
			require.NoError(t, mustPoll(t, e))

			for _, key := range []string{"q1", "q2"} {
				total, err := Await[float64](awaitCtx(t), b, 10*time.Millisecond, Inbox(key))
				require.NoError(t, err)
				assert.Equal(t, 113.0, total, key)
			}
		})
	}
}

func TestEngine_ErrorIsolation(t *testing.T) {
	for name, b := range testutil.Backends(t, nil) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e := New(b, doubler, quiet(), WithRetryPolicy(RetryPolicy{MaxAttempts: 3, InitialInterval: time.Hour, MaxInterval: time.Hour}))

			require.NoError(t, Submit(ctx, b, doubler, "bad", -1, Inbox("bad")))
			require.NoError(t, Submit(ctx, b, doubler, "good", 21, Inbox("good")))

			err := mustPoll(t, e)
			require.Error(t, err)
			assert.False(t, IsFatal(err))
			var ee *EventError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, ErrCodeFailed, ee.Code)
			assert.Equal(t, "bad", ee.Key)

			// The failure does not block the next instance.
			require.NoError(t, mustPoll(t, e))
			found, err := e.Poll(ctx)
			assert.False(t, found, "failed event must be deferred")
			assert.NoError(t, err)

			n, err := Await[int](awaitCtx(t), b, 10*time.Millisecond, Inbox("good"))
			require.NoError(t, err)
			assert.Equal(t, 42, n)

			items := scan(t, b, "doubler/invocations")
			require.Len(t, items, 1)
			assert.Equal(t, "bad", items[0].Key)
			assert.Equal(t, 1, items[0].Attempts)
			assert.False(t, items[0].Parked)
			assert.Contains(t, items[0].LastError, "negative input")
		})
	}
}

func TestEngine_RetryExhaustionParks(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewManualClock(time.Time{})
	b := memory.New(memory.WithNow(clock.Now))
	e := New(b, doubler, quiet(), withClock(clock.Now), WithRetryPolicy(RetryPolicy{
		MaxAttempts:     2,
		InitialInterval: time.Second,
		MaxInterval:     time.Minute,
		Multiplier:      2,
	}))

	require.NoError(t, Submit(ctx, b, doubler, "bad", -1, Inbox("bad")))

	require.Error(t, mustPoll(t, e))
	items := scan(t, b, "doubler/invocations")
	require.Len(t, items, 1)
	assert.Equal(t, clock.Now().Add(time.Second), items[0].VisibleAt)

	found, _ := e.Poll(ctx)
	assert.False(t, found)

	clock.Advance(time.Second)
	require.Error(t, mustPoll(t, e))

	items = scan(t, b, "doubler/invocations")
	require.Len(t, items, 1)
	assert.True(t, items[0].Parked)

	clock.Advance(time.Hour)
	found, _ = e.Poll(ctx)
	assert.False(t, found, "parked events stay hidden")

	rt := NewRuntime(b, quiet())
	require.NoError(t, rt.Requeue(ctx, "doubler/invocations", "bad"))
	items = scan(t, b, "doubler/invocations")
	require.Len(t, items, 1)
	assert.False(t, items[0].Parked)
	assert.Equal(t, 0, items[0].Attempts)
}

func TestEngine_DivergenceParksResult(t *testing.T) {
	for name, b := range testutil.Backends(t, nil) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e := New(b, checkout, quiet())

			require.NoError(t, Submit(ctx, b, checkout, "o1", order{Amount: 10}, Inbox("o1")))
			require.NoError(t, mustPoll(t, e))

			deliver(t, b, "checkout", "o1", 1, "discount", `12.5`)
			err := mustPoll(t, e)
			require.Error(t, err)
			assert.True(t, workflow.IsDivergence(err))
			assert.True(t, IsFatal(err))

			items := scan(t, b, "checkout/results")
			require.Len(t, items, 1)
			assert.True(t, items[0].Parked)
			assert.Equal(t, 0, items[0].Attempts)
			assert.Contains(t, items[0].LastError, "divergence")

			// The instance itself is untouched.
			assert.Len(t, stepLog(t, b, "checkout", "o1"), 1)
		})
	}
}

func TestEngine_OrphanResultDropped(t *testing.T) {
	b := memory.New()
	e := New(b, checkout, quiet())

	deliver(t, b, "checkout", "nobody", 1, "priceCalc", `1`)
	require.NoError(t, mustPoll(t, e))
	assert.Empty(t, scan(t, b, "checkout/results"))
}

func TestEngine_DuplicateResultDropped(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	e := New(b, checkout, quiet())

	require.NoError(t, Submit(ctx, b, checkout, "o1", order{Amount: 10}, Inbox("o1")))
	require.NoError(t, mustPoll(t, e))
	deliver(t, b, "checkout", "o1", 1, "priceCalc", `12.5`)
	require.NoError(t, mustPoll(t, e))

	deliver(t, b, "checkout", "o1", 1, "priceCalc", `99`)
	require.NoError(t, mustPoll(t, e))

	assert.Empty(t, scan(t, b, "checkout/results"))
	records := stepLog(t, b, "checkout", "o1")
	require.Len(t, records, 2)
	assert.Equal(t, `12.5`, string(records[1].Value))
	assert.Len(t, scan(t, b, "riskCheck/invocations"), 1)
}

func TestEngine_MalformedResultKeyParks(t *testing.T) {
	b := memory.New()
	e := New(b, checkout, quiet())

	err := b.Update(context.Background(), func(tx queue.Tx) error {
		return tx.Push("checkout/results", "oops", []byte(`{"source":"priceCalc","output":1}`))
	})
	require.NoError(t, err)

	err = mustPoll(t, e)
	var ee *EventError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ErrCodeMalformed, ee.Code)

	items := scan(t, b, "checkout/results")
	require.Len(t, items, 1)
	assert.True(t, items[0].Parked)
}

func TestEngine_NonCanonicalStepKeyParks(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	e := New(b, checkout, quiet())

	require.NoError(t, Submit(ctx, b, checkout, "o1", order{Amount: 10}, Inbox("o1")))
	require.NoError(t, mustPoll(t, e))

	// Reads as step 1 to a lenient parser; must not be taken for it.
	err := b.Update(ctx, func(tx queue.Tx) error {
		return tx.Push("checkout/results", "01_o1", []byte(`{"source":"priceCalc","output":12.5}`))
	})
	require.NoError(t, err)

	err = mustPoll(t, e)
	var ee *EventError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ErrCodeMalformed, ee.Code)

	items := scan(t, b, "checkout/results")
	require.Len(t, items, 1)
	assert.Equal(t, "01_o1", items[0].Key)
	assert.True(t, items[0].Parked)
	assert.Len(t, stepLog(t, b, "checkout", "o1"), 1)
}

func TestEngine_StepQuotaParks(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	e := New(b, checkout, quiet(), WithMaxSteps(1))

	require.NoError(t, Submit(ctx, b, checkout, "o1", order{Amount: 10}, Inbox("o1")))
	require.NoError(t, mustPoll(t, e))
	deliver(t, b, "checkout", "o1", 1, "priceCalc", `12.5`)
	require.NoError(t, mustPoll(t, e))

	deliver(t, b, "checkout", "o1", 2, "riskCheck", `true`)
	err := mustPoll(t, e)
	assert.True(t, IsQuotaError(err))
	assert.True(t, IsStepsExceededError(err))

	items := scan(t, b, "checkout/results")
	require.Len(t, items, 1)
	assert.True(t, items[0].Parked)
	assert.Len(t, stepLog(t, b, "checkout", "o1"), 2)
}

func TestEngine_BadInputParks(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	e := New(b, checkout, quiet())

	require.NoError(t, SubmitRaw(ctx, b, "checkout", "o1", json.RawMessage(`{"amount":"ten"}`), Inbox("o1")))

	err := mustPoll(t, e)
	assert.ErrorIs(t, err, workflow.ErrBadInput)
	assert.True(t, IsFatal(err))

	items := scan(t, b, "checkout/invocations")
	require.Len(t, items, 1)
	assert.True(t, items[0].Parked)
	assert.Empty(t, stepLog(t, b, "checkout", "o1"))
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	b := memory.New()
	e := New(b, doubler, quiet())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.NoError(t, Submit(context.Background(), b, doubler, "d1", 4, Inbox("d1")))
	n, err := Await[int](awaitCtx(t), b, 10*time.Millisecond, Inbox("d1"))
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
}

var errPushRefused = errors.New("push refused")

// refusingBackend fails every push to one queue inside Update, after the
// other writes of the transaction have been made.
type refusingBackend struct {
	queue.Backend
	refuse string
}

func (b refusingBackend) Update(ctx context.Context, fn func(queue.Tx) error) error {
	return b.Backend.Update(ctx, func(tx queue.Tx) error {
		return fn(refusingTx{Tx: tx, refuse: b.refuse})
	})
}

type refusingTx struct {
	queue.Tx
	refuse string
}

func (tx refusingTx) Push(q, key string, value []byte) error {
	if q == tx.refuse {
		return errPushRefused
	}
	return tx.Tx.Push(q, key, value)
}

func assertBackendError(t *testing.T, err error) {
	t.Helper()
	require.ErrorIs(t, err, errPushRefused)
	var ee *EventError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ErrCodeBackend, ee.Code)
	assert.False(t, IsFatal(err))
}

func TestEngine_FailedSuspendLeavesNoPartialState(t *testing.T) {
	for _, refuse := range []string{"priceCalc/invocations", "checkout/callbacks"} {
		for name, b := range testutil.Backends(t, nil) {
			t.Run(refuse+"/"+name, func(t *testing.T) {
				ctx := context.Background()
				e := New(refusingBackend{Backend: b, refuse: refuse}, checkout, quiet())

				require.NoError(t, Submit(ctx, b, checkout, "o1", order{Amount: 10}, Inbox("o1")))
				assertBackendError(t, mustPoll(t, e))

				items := scan(t, b, "checkout/invocations")
				require.Len(t, items, 1)
				assert.Equal(t, "o1", items[0].Key)
				assert.Equal(t, 1, items[0].Attempts)
				assert.False(t, items[0].Parked)

				assert.Empty(t, stepLog(t, b, "checkout", "o1"))
				assert.Empty(t, scan(t, b, "checkout/callbacks"))
				assert.Empty(t, scan(t, b, "priceCalc/invocations"))
			})
		}
	}
}

func TestEngine_FailedResultLeavesNoPartialState(t *testing.T) {
	for name, b := range testutil.Backends(t, nil) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e := New(b, checkout, quiet())

			require.NoError(t, Submit(ctx, b, checkout, "o1", order{Amount: 10}, Inbox("o1")))
			require.NoError(t, mustPoll(t, e))

			// Suspending again on riskCheck fails while pushing the call.
			deliver(t, b, "checkout", "o1", 1, "priceCalc", `12.5`)
			refusing := New(refusingBackend{Backend: b, refuse: "riskCheck/invocations"}, checkout, quiet())
			assertBackendError(t, mustPoll(t, refusing))

			results := scan(t, b, "checkout/results")
			require.Len(t, results, 1)
			assert.Equal(t, "1_o1", results[0].Key)
			assert.Equal(t, 1, results[0].Attempts)
			assert.Len(t, stepLog(t, b, "checkout", "o1"), 1)
			assert.Empty(t, scan(t, b, "riskCheck/invocations"))

			// Replace the deferred result and go on to step 2.
			require.NoError(t, b.Update(ctx, func(tx queue.Tx) error {
				_, err := tx.Pop("checkout/results", "1_o1")
				return err
			}))
			deliver(t, b, "checkout", "o1", 1, "priceCalc", `12.5`)
			require.NoError(t, mustPoll(t, e))

			// Completing fails while publishing the output.
			deliver(t, b, "checkout", "o1", 2, "riskCheck", `true`)
			refusing = New(refusingBackend{Backend: b, refuse: InboxStream}, checkout, quiet())
			assertBackendError(t, mustPoll(t, refusing))

			results = scan(t, b, "checkout/results")
			require.Len(t, results, 1)
			assert.Equal(t, "2_o1", results[0].Key)
			assert.Equal(t, 1, results[0].Attempts)
			assert.Len(t, stepLog(t, b, "checkout", "o1"), 2)
			assert.Len(t, scan(t, b, "checkout/callbacks"), 1)
			assert.Empty(t, scan(t, b, InboxStream))
		})
	}
}

func TestEngine_PayloadsStoredVerbatim(t *testing.T) {
	bigID := workflow.NewService("bigID", func(ctx context.Context, _ string) (uint64, error) {
		return math.MaxUint64 - 1, nil
	})
	label := workflow.NewService("label", func(ctx context.Context, id uint64) (string, error) {
		return "cafe\u0301", nil
	})
	tag := workflow.Define("tag", func(wc *workflow.Context, name string) (string, error) {
		id, err := workflow.Call(wc, bigID, name)
		if err != nil {
			return "", err
		}
		l, err := workflow.Call(wc, label, id)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d %s", id, l), nil
	})

	for name, b := range testutil.Backends(t, nil) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e := New(b, tag, quiet())
			ids := NewWorker(b, bigID, quiet())
			labels := NewWorker(b, label, quiet())

			require.NoError(t, Submit(ctx, b, tag, "t1", "x", Inbox("t1")))
			require.NoError(t, mustPoll(t, e))
			found, err := ids.Poll(ctx)
			require.True(t, found)
			require.NoError(t, err)
			require.NoError(t, mustPoll(t, e))

			records := stepLog(t, b, "tag", "t1")
			require.Len(t, records, 2)
			assert.Equal(t, `18446744073709551614`, string(records[1].Value))

			found, err = labels.Poll(ctx)
			require.True(t, found)
			require.NoError(t, err)
			require.NoError(t, mustPoll(t, e))

			out, err := Await[string](awaitCtx(t), b, 10*time.Millisecond, Inbox("t1"))
			require.NoError(t, err)
			assert.Equal(t, "18446744073709551614 cafe\u0301", out)
		})
	}
}
