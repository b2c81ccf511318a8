package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/durable/internal/ir"
	"github.com/roach88/durable/internal/queue"
	"github.com/roach88/durable/internal/workflow"
)

// InboxStream is the public queue external callers hand out as their reply
// address. No loop consumes it; Await pops from it.
const InboxStream = "durable/inbox"

// Inbox returns the reply address key in the shared inbox.
func Inbox(key string) ir.Address {
	return ir.Address{Queue: InboxStream, Key: key}
}

// SubmitRaw pushes an invocation of target under key. The input is stored
// as given, minus insignificant whitespace. Submitting a key that is already
// pending is a no-op.
func SubmitRaw(ctx context.Context, b queue.Backend, target, key string, input json.RawMessage, replyTo ir.Address) error {
	if target == "" || key == "" {
		return fmt.Errorf("submit: target and key are required")
	}
	compact, err := ir.Compact(input)
	if err != nil {
		return fmt.Errorf("submit %s/%s: %w", target, key, err)
	}

	inv := ir.Invocation{Input: compact, ReplyTo: replyTo}
	err = b.Update(ctx, func(tx queue.Tx) error {
		return workflow.StreamsFor(target).InvocationStream().Push(tx, key, inv)
	})
	if err != nil {
		return fmt.Errorf("submit %s/%s: %w", target, key, err)
	}
	return nil
}

// Submit is the typed form of SubmitRaw. If t validates its input (a
// Definition or Service does), invalid input is rejected before anything is
// written.
func Submit[In, Out any](ctx context.Context, b queue.Backend, t workflow.Target[In, Out], key string, input In, replyTo ir.Address) error {
	raw, err := ir.Marshal(input)
	if err != nil {
		return fmt.Errorf("submit %s/%s: encode input: %w", t.Name(), key, err)
	}
	if v, ok := t.(interface{ ValidateInput(json.RawMessage) error }); ok {
		if err := v.ValidateInput(raw); err != nil {
			return fmt.Errorf("submit %s/%s: %w", t.Name(), key, err)
		}
	}
	return SubmitRaw(ctx, b, t.Name(), key, raw, replyTo)
}

// AwaitResult blocks until a result arrives at addr, removes it and returns
// it. It returns ctx.Err() if ctx is cancelled first.
func AwaitResult(ctx context.Context, b queue.Backend, poll time.Duration, addr ir.Address) (ir.Result, error) {
	inbox := queue.NewPublic[ir.Result](addr.Queue)

	for {
		if _, err := queue.WaitKey(ctx, b, poll, addr.Queue, addr.Key); err != nil {
			return ir.Result{}, err
		}

		var (
			res   ir.Result
			found bool
		)
		err := b.Update(ctx, func(tx queue.Tx) error {
			r, err := inbox.Pop(tx, addr.Key)
			if errors.Is(err, queue.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			res, found = r, true
			return nil
		})
		if err != nil {
			return ir.Result{}, fmt.Errorf("await %s: %w", addr, err)
		}
		if found {
			return res, nil
		}
		// Another waiter took it; keep waiting for the next one.
	}
}

// Await is the typed form of AwaitResult.
func Await[Out any](ctx context.Context, b queue.Backend, poll time.Duration, addr ir.Address) (Out, error) {
	var out Out
	res, err := AwaitResult(ctx, b, poll, addr)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(res.Output, &out); err != nil {
		return out, fmt.Errorf("await %s: decode output of %s: %w", addr, res.Source, err)
	}
	return out, nil
}

// Snapshot is a read-only view of everything a definition holds in the
// backend.
type Snapshot struct {
	Workflow    string        `json:"workflow"`
	Invocations []PendingItem `json:"invocations"`
	Results     []PendingItem `json:"results"`
	Instances   []Instance    `json:"instances"`
}

// PendingItem is an undelivered invocation or sub-call result.
type PendingItem struct {
	Key       string          `json:"key"`
	Seq       int64           `json:"seq"`
	Attempts  int             `json:"attempts"`
	Parked    bool            `json:"parked"`
	VisibleAt *time.Time      `json:"visible_at,omitempty"`
	LastError string          `json:"last_error,omitempty"`
	Value     json.RawMessage `json:"value"`
}

// Instance is a suspended workflow instance.
type Instance struct {
	Key      string          `json:"key"`
	Steps    []ir.StepRecord `json:"steps"`
	Callback *ir.Address     `json:"callback,omitempty"`
}

// Observe returns a snapshot of the streams owned by workflow in one
// read-only transaction.
func Observe(ctx context.Context, b queue.Backend, name string) (Snapshot, error) {
	streams := workflow.StreamsFor(name)
	snap := Snapshot{
		Workflow:    name,
		Invocations: []PendingItem{},
		Results:     []PendingItem{},
		Instances:   []Instance{},
	}

	err := b.View(ctx, func(tx queue.Tx) error {
		invs, err := tx.Scan(streams.InvocationStream().Name())
		if err != nil {
			return err
		}
		snap.Invocations = appendPending(snap.Invocations, invs)

		results, err := tx.Scan(streams.ResultsStream().Name())
		if err != nil {
			return err
		}
		snap.Results = appendPending(snap.Results, results)

		callbacks, err := tx.Scan(streams.Callbacks().Name())
		if err != nil {
			return err
		}
		byKey := make(map[string]ir.Address, len(callbacks))
		for _, it := range callbacks {
			var addr ir.Address
			if err := json.Unmarshal(it.Value, &addr); err != nil {
				return fmt.Errorf("decode callback %s: %w", it.Key, err)
			}
			byKey[it.Key] = addr
		}

		entries, err := tx.ScanLog(streams.StepLog().Name())
		if err != nil {
			return err
		}
		for _, e := range entries {
			var rec ir.StepRecord
			if err := json.Unmarshal(e.Value, &rec); err != nil {
				return fmt.Errorf("decode step %s[%d]: %w", e.Key, e.Index, err)
			}
			n := len(snap.Instances)
			if n == 0 || snap.Instances[n-1].Key != e.Key {
				inst := Instance{Key: e.Key}
				if addr, ok := byKey[e.Key]; ok {
					inst.Callback = &addr
				}
				snap.Instances = append(snap.Instances, inst)
				n++
			}
			snap.Instances[n-1].Steps = append(snap.Instances[n-1].Steps, rec)
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("observe %s: %w", name, err)
	}
	return snap, nil
}

func appendPending(dst []PendingItem, items []queue.Item) []PendingItem {
	for _, it := range items {
		p := PendingItem{
			Key:       it.Key,
			Seq:       it.Seq,
			Attempts:  it.Attempts,
			Parked:    it.Parked,
			LastError: it.LastError,
			Value:     json.RawMessage(it.Value),
		}
		if !it.VisibleAt.IsZero() {
			at := it.VisibleAt
			p.VisibleAt = &at
		}
		dst = append(dst, p)
	}
	return dst
}
