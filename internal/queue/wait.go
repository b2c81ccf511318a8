package queue

import (
	"context"
	"errors"
	"time"
)

// DefaultPollInterval bounds how long WaitAny sleeps without a change
// notification. Backends shared between processes only see their own writes
// through Changed, so the poll interval is the cross-process latency bound.
const DefaultPollInterval = 500 * time.Millisecond

// WaitAny blocks until one of queues holds a visible item and returns it
// without removing it. It returns ctx.Err() if ctx is cancelled first.
//
// The wait is context-aware: it selects on ctx, the backend's change channel
// and a timer set to the earlier of poll and the next deferred item's
// visible-at time.
func WaitAny(ctx context.Context, b Backend, poll time.Duration, queues ...string) (Item, error) {
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	for {
		// Fetch the change channel before peeking so a write landing between
		// the two is not missed.
		changed := b.Changed()

		item, err := b.Peek(ctx, queues...)
		if err == nil {
			return item, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Item{}, err
		}

		wait := poll
		at, ok, err := b.NextVisible(ctx, queues...)
		if err != nil {
			return Item{}, err
		}
		// An at already past by the wall clock means the backend keeps its
		// own time (a test clock); only a change or the poll can help then.
		if ok {
			if d := time.Until(at); d > 0 && d < wait {
				wait = d
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Item{}, ctx.Err()
		case <-changed:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// WaitKey blocks until (queue, key) holds an item and returns its value
// without removing it. Deferred and parked items count as present.
func WaitKey(ctx context.Context, b Backend, poll time.Duration, queue, key string) ([]byte, error) {
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	for {
		changed := b.Changed()

		var value []byte
		err := b.View(ctx, func(tx Tx) error {
			v, err := tx.Read(queue, key)
			value = v
			return err
		})
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}

		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-changed:
			timer.Stop()
		case <-timer.C:
		}
	}
}
