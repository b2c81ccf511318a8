// Package storetest is the conformance suite every queue.Backend must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/durable/internal/queue"
)

// Opener returns a fresh, empty backend. The suite closes it.
type Opener func(t *testing.T) queue.Backend

// Run executes the suite against backends produced by open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, b queue.Backend)
	}{
		{"PushReadPop", testPushReadPop},
		{"PushIsIdempotent", testPushIsIdempotent},
		{"RollbackOnError", testRollbackOnError},
		{"ViewRejectsWrites", testViewRejectsWrites},
		{"PeekOldestAcrossQueues", testPeekOldestAcrossQueues},
		{"RetryDefersVisibility", testRetryDefersVisibility},
		{"ParkAndUnpark", testParkAndUnpark},
		{"ScanOrdersBySeq", testScanOrdersBySeq},
		{"LogAppendReadDelete", testLogAppendReadDelete},
		{"ChangedFiresOnCommit", testChangedFiresOnCommit},
		{"WaitAnyWakesOnPush", testWaitAnyWakesOnPush},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := open(t)
			t.Cleanup(func() { _ = b.Close() })
			tt.fn(t, b)
		})
	}
}

func push(t *testing.T, b queue.Backend, q, key, value string) {
	t.Helper()
	err := b.Update(context.Background(), func(tx queue.Tx) error {
		return tx.Push(q, key, []byte(value))
	})
	require.NoError(t, err)
}

func read(t *testing.T, b queue.Backend, q, key string) ([]byte, error) {
	t.Helper()
	var out []byte
	err := b.View(context.Background(), func(tx queue.Tx) error {
		v, err := tx.Read(q, key)
		out = v
		return err
	})
	return out, err
}

func testPushReadPop(t *testing.T, b queue.Backend) {
	ctx := context.Background()
	push(t, b, "q", "k1", `{"a":1}`)

	got, err := read(t, b, "q", "k1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(got))

	err = b.Update(ctx, func(tx queue.Tx) error {
		v, err := tx.Pop("q", "k1")
		if err != nil {
			return err
		}
		assert.JSONEq(t, `{"a":1}`, string(v))
		return nil
	})
	require.NoError(t, err)

	_, err = read(t, b, "q", "k1")
	assert.ErrorIs(t, err, queue.ErrNotFound)

	err = b.Update(ctx, func(tx queue.Tx) error {
		_, err := tx.Pop("q", "k1")
		return err
	})
	assert.ErrorIs(t, err, queue.ErrNotFound)

	// Delete of a missing key is not an error.
	err = b.Update(ctx, func(tx queue.Tx) error {
		return tx.Delete("q", "k1")
	})
	assert.NoError(t, err)
}

func testPushIsIdempotent(t *testing.T, b queue.Backend) {
	push(t, b, "q", "k1", `"first"`)
	push(t, b, "q", "k1", `"second"`)

	got, err := read(t, b, "q", "k1")
	require.NoError(t, err)
	assert.Equal(t, `"first"`, string(got))

	var items []queue.Item
	err = b.View(context.Background(), func(tx queue.Tx) error {
		var err error
		items, err = tx.Scan("q")
		return err
	})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func testRollbackOnError(t *testing.T, b queue.Backend) {
	ctx := context.Background()
	push(t, b, "q", "keep", `1`)

	boom := errors.New("boom")
	err := b.Update(ctx, func(tx queue.Tx) error {
		if _, err := tx.Pop("q", "keep"); err != nil {
			return err
		}
		if err := tx.Push("q", "new", []byte(`2`)); err != nil {
			return err
		}
		if err := tx.Append("log", "k", 0, []byte(`3`)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := read(t, b, "q", "keep")
	require.NoError(t, err)
	assert.Equal(t, `1`, string(got))

	_, err = read(t, b, "q", "new")
	assert.ErrorIs(t, err, queue.ErrNotFound)

	err = b.View(ctx, func(tx queue.Tx) error {
		entries, err := tx.ReadLog("log", "k")
		require.NoError(t, err)
		assert.Empty(t, entries)
		return nil
	})
	require.NoError(t, err)
}

func testViewRejectsWrites(t *testing.T, b queue.Backend) {
	err := b.View(context.Background(), func(tx queue.Tx) error {
		return tx.Push("q", "k", []byte(`1`))
	})
	assert.ErrorIs(t, err, queue.ErrReadOnly)
}

func testPeekOldestAcrossQueues(t *testing.T, b queue.Backend) {
	ctx := context.Background()

	_, err := b.Peek(ctx, "a", "b")
	assert.ErrorIs(t, err, queue.ErrNotFound)

	push(t, b, "b", "first", `1`)
	push(t, b, "a", "second", `2`)
	push(t, b, "c", "ignored", `3`)

	item, err := b.Peek(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, "b", item.Queue)
	assert.Equal(t, "first", item.Key)
	assert.Equal(t, `1`, string(item.Value))

	// Peek does not consume.
	again, err := b.Peek(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, item.Seq, again.Seq)

	require.NoError(t, b.Update(ctx, func(tx queue.Tx) error {
		_, err := tx.Pop("b", "first")
		return err
	}))

	item, err = b.Peek(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, "second", item.Key)
}

func testRetryDefersVisibility(t *testing.T, b queue.Backend) {
	ctx := context.Background()
	push(t, b, "q", "k", `1`)

	later := time.Now().Add(time.Hour)
	attempts, err := b.Retry(ctx, "q", "k", later, "transient")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	_, err = b.Peek(ctx, "q")
	assert.ErrorIs(t, err, queue.ErrNotFound)

	at, ok, err := b.NextVisible(ctx, "q")
	require.NoError(t, err)
	require.True(t, ok)
	assert.WithinDuration(t, later, at, time.Second)

	attempts, err = b.Retry(ctx, "q", "k", time.Now().Add(-time.Second), "again")
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	item, err := b.Peek(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, 2, item.Attempts)
	assert.Equal(t, "again", item.LastError)

	_, err = b.Retry(ctx, "q", "missing", later, "x")
	assert.ErrorIs(t, err, queue.ErrNotFound)
}

func testParkAndUnpark(t *testing.T, b queue.Backend) {
	ctx := context.Background()
	push(t, b, "q", "k", `1`)

	_, err := b.Retry(ctx, "q", "k", time.Now().Add(-time.Second), "first failure")
	require.NoError(t, err)
	require.NoError(t, b.Park(ctx, "q", "k", "fatal"))

	_, err = b.Peek(ctx, "q")
	assert.ErrorIs(t, err, queue.ErrNotFound)

	_, ok, err := b.NextVisible(ctx, "q")
	require.NoError(t, err)
	assert.False(t, ok, "parked items never become visible on their own")

	var items []queue.Item
	require.NoError(t, b.View(ctx, func(tx queue.Tx) error {
		items, err = tx.Scan("q")
		return err
	}))
	require.Len(t, items, 1)
	assert.True(t, items[0].Parked)
	assert.Equal(t, "fatal", items[0].LastError)

	require.NoError(t, b.Unpark(ctx, "q", "k"))
	item, err := b.Peek(ctx, "q")
	require.NoError(t, err)
	assert.False(t, item.Parked)
	assert.Equal(t, 0, item.Attempts)

	assert.ErrorIs(t, b.Park(ctx, "q", "missing", "x"), queue.ErrNotFound)
	assert.ErrorIs(t, b.Unpark(ctx, "q", "missing"), queue.ErrNotFound)
}

func testScanOrdersBySeq(t *testing.T, b queue.Backend) {
	push(t, b, "q", "z", `1`)
	push(t, b, "q", "a", `2`)
	push(t, b, "q", "m", `3`)

	var items []queue.Item
	require.NoError(t, b.View(context.Background(), func(tx queue.Tx) error {
		var err error
		items, err = tx.Scan("q")
		return err
	}))

	keys := make([]string, 0, len(items))
	for _, it := range items {
		keys = append(keys, it.Key)
	}
	assert.Equal(t, []string{"z", "a", "m"}, keys)
}

func testLogAppendReadDelete(t *testing.T, b queue.Backend) {
	ctx := context.Background()

	require.NoError(t, b.Update(ctx, func(tx queue.Tx) error {
		for _, idx := range []int{2, 0, 1} {
			if err := tx.Append("log", "k1", idx, []byte{'0' + byte(idx)}); err != nil {
				return err
			}
		}
		// Duplicate index keeps the first value.
		if err := tx.Append("log", "k1", 1, []byte(`9`)); err != nil {
			return err
		}
		return tx.Append("log", "k0", 0, []byte(`7`))
	}))

	require.NoError(t, b.View(ctx, func(tx queue.Tx) error {
		entries, err := tx.ReadLog("log", "k1")
		require.NoError(t, err)
		require.Len(t, entries, 3)
		for i, e := range entries {
			assert.Equal(t, i, e.Index)
			assert.Equal(t, "k1", e.Key)
			assert.Equal(t, string([]byte{'0' + byte(i)}), string(e.Value))
		}

		all, err := tx.ScanLog("log")
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, "k0", all[0].Key)

		missing, err := tx.ReadLog("log", "nope")
		require.NoError(t, err)
		assert.Empty(t, missing)
		return nil
	}))

	require.NoError(t, b.Update(ctx, func(tx queue.Tx) error {
		return tx.DeleteLog("log", "k1")
	}))

	require.NoError(t, b.View(ctx, func(tx queue.Tx) error {
		entries, err := tx.ReadLog("log", "k1")
		require.NoError(t, err)
		assert.Empty(t, entries)
		return nil
	}))
}

func testChangedFiresOnCommit(t *testing.T, b queue.Backend) {
	changed := b.Changed()
	push(t, b, "q", "k", `1`)

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("change notification not delivered after commit")
	}
}

func testWaitAnyWakesOnPush(t *testing.T, b queue.Backend) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan queue.Item, 1)
	errc := make(chan error, 1)
	go func() {
		item, err := queue.WaitAny(ctx, b, time.Second, "inbox")
		if err != nil {
			errc <- err
			return
		}
		done <- item
	}()

	time.Sleep(20 * time.Millisecond)
	push(t, b, "inbox", "k", `1`)

	select {
	case item := <-done:
		assert.Equal(t, "k", item.Key)
	case err := <-errc:
		t.Fatalf("WaitAny: %v", err)
	case <-ctx.Done():
		t.Fatal("WaitAny did not wake")
	}
}
