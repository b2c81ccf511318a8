package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/roach88/durable/internal/ir"
	"github.com/roach88/durable/internal/queue"
	"github.com/roach88/durable/internal/workflow"
)

// Engine is the run loop of one workflow definition.
//
// The engine processes the definition's invocations and sub-call results in
// the order they became visible, replays the workflow function for each and
// commits the outcome atomically with the pop of the triggering item.
//
// Thread-safety model:
//   - Run(): should be called from exactly one goroutine per definition
//   - Poll(): for tests and tools; must not run concurrently with Run
type Engine struct {
	def     workflow.Runnable
	streams workflow.Streams
	quota   *QuotaEnforcer
	d       *dispatcher
}

// New creates an Engine for def on backend b.
//
// Options can be passed to configure the engine (e.g., WithMaxSteps).
func New(b queue.Backend, def workflow.Runnable, opts ...Option) *Engine {
	o := newOptions(opts)
	streams := def.Streams()

	e := &Engine{
		def:     def,
		streams: streams,
		quota:   NewQuotaEnforcer(o.maxSteps),
	}
	e.d = newDispatcher(b, o, "engine", def.Name(), []string{
		streams.InvocationStream().Name(),
		streams.ResultsStream().Name(),
	})
	e.d.process = e.processEvent
	return e
}

// Name returns the definition's name.
func (e *Engine) Name() string {
	return e.def.Name()
}

// MaxSteps returns the step quota per instance.
func (e *Engine) MaxSteps() int {
	return e.quota.MaxSteps()
}

// Run starts the event loop. It blocks until ctx is cancelled and then
// returns ctx.Err(). Event failures never stop the loop.
func (e *Engine) Run(ctx context.Context) error {
	return e.d.run(ctx)
}

// Poll processes the oldest visible event, if any, and reports whether one
// was found. A returned error has already been logged and the event retried
// or parked.
func (e *Engine) Poll(ctx context.Context) (bool, error) {
	return e.d.poll(ctx)
}

// processEvent routes an item to the appropriate handler.
func (e *Engine) processEvent(ctx context.Context, item queue.Item) (string, error) {
	switch item.Queue {
	case e.streams.InvocationStream().Name():
		return e.processInvocation(ctx, item)
	case e.streams.ResultsStream().Name():
		return e.processResult(ctx, item)
	default:
		return "", e.d.eventError(ErrCodeMalformed, item, fmt.Errorf("unknown stream %q", item.Queue))
	}
}

// processInvocation starts a new instance.
//
// Completed: pop the invocation and publish the output, in one transaction.
// Suspended: pop the invocation, write step 0 and the callback, and push the
// outbound calls, in one transaction.
func (e *Engine) processInvocation(ctx context.Context, item queue.Item) (string, error) {
	key := item.Key

	var inv ir.Invocation
	if err := json.Unmarshal(item.Value, &inv); err != nil {
		return "", e.d.eventError(ErrCodeMalformed, item, fmt.Errorf("decode invocation: %w", err))
	}
	if err := e.def.ValidateInput(inv.Input); err != nil {
		return "", e.d.eventError(ErrCodeBadInput, item, err)
	}

	// An instance that already has a step log was started by an earlier
	// delivery of this key.
	existing, err := e.readLog(ctx, key)
	if err != nil {
		return "", e.d.eventError(ErrCodeBackend, item, err)
	}
	if len(existing) > 0 {
		e.d.log.Warn("duplicate invocation for running instance, dropping",
			"key", key,
			"steps", len(existing)-1,
		)
		return e.d.settle(item, outcomeDropped, e.d.commit(ctx, item, nil))
	}

	input := ir.StepRecord{Index: 0, Source: e.def.Name(), Value: inv.Input}
	attempt, err := e.def.Execute(key, []ir.StepRecord{input})
	if err != nil {
		return "", e.d.eventError(classify(err), item, err)
	}

	if out, ok := attempt.Outcome.Value(); ok {
		err := e.d.commit(ctx, item, func(tx queue.Tx) error {
			return publish(tx, inv.ReplyTo, ir.Result{Source: e.def.Name(), Output: out})
		})
		if err == nil {
			e.d.log.Info("instance completed",
				"key", key,
				"steps", 0,
				"reply_to", inv.ReplyTo.String(),
			)
		}
		return e.d.settle(item, outcomeCompleted, err)
	}

	err = e.d.commit(ctx, item, func(tx queue.Tx) error {
		if err := e.streams.StepLog().Append(tx, key, 0, input); err != nil {
			return fmt.Errorf("append input record: %w", err)
		}
		if !inv.ReplyTo.IsZero() {
			if err := e.streams.Callbacks().Push(tx, key, inv.ReplyTo); err != nil {
				return fmt.Errorf("write callback: %w", err)
			}
		}
		return e.pushCalls(tx, key, attempt.Calls)
	})
	if err == nil {
		e.logSuspended(key, 0, attempt.Calls)
	}
	return e.d.settle(item, outcomeSuspended, err)
}

// processResult folds a sub-call result into its instance's step log and
// replays the workflow from scratch.
//
// Completed: pop the result, delete the step log and callback and publish
// the output to the callback, in one transaction.
// Suspended: pop the result, append its record and push the new outbound
// calls, in one transaction.
func (e *Engine) processResult(ctx context.Context, item queue.Item) (string, error) {
	step, key, err := ir.ParseCompositeKey(item.Key)
	if err != nil {
		return "", e.d.eventError(ErrCodeMalformed, item, err)
	}
	if step == 0 {
		return "", e.d.eventError(ErrCodeMalformed, item, fmt.Errorf("result for step 0"))
	}

	var res ir.Result
	if err := json.Unmarshal(item.Value, &res); err != nil {
		return "", e.d.eventError(ErrCodeMalformed, item, fmt.Errorf("decode result: %w", err))
	}

	records, err := e.readLog(ctx, key)
	if err != nil {
		return "", e.d.eventError(ErrCodeBackend, item, err)
	}
	if len(records) == 0 {
		// The instance has completed (or never suspended): nothing waits
		// for this result.
		e.d.log.Warn("result for unknown instance, dropping",
			"key", key,
			"step", step,
			"source", res.Source,
		)
		return e.d.settle(item, outcomeDropped, e.d.commit(ctx, item, nil))
	}
	for _, r := range records {
		if r.Index == step {
			e.d.log.Warn("duplicate result for recorded step, dropping",
				"key", key,
				"step", step,
				"source", res.Source,
			)
			return e.d.settle(item, outcomeDropped, e.d.commit(ctx, item, nil))
		}
	}

	record := ir.StepRecord{Index: step, Source: res.Source, Value: res.Output}
	records = append(records, record)
	sort.Slice(records, func(i, j int) bool {
		return records[i].Index < records[j].Index
	})

	if err := e.quota.Check(e.def.Name(), key, len(records)-1); err != nil {
		e.d.log.Error("max steps quota exceeded",
			"key", key,
			"steps", len(records)-1,
			"limit", e.quota.MaxSteps(),
		)
		return "", e.d.eventError(ErrCodeQuotaExceeded, item, err)
	}

	e.d.log.Debug("replaying instance",
		"key", key,
		"step", step,
		"records", len(records),
	)

	attempt, err := e.def.Execute(key, records)
	if err != nil {
		return "", e.d.eventError(classify(err), item, err)
	}

	if out, ok := attempt.Outcome.Value(); ok {
		var replyTo ir.Address
		err := e.d.commit(ctx, item, func(tx queue.Tx) error {
			cb, err := e.streams.Callbacks().Read(tx, key)
			switch {
			case err == nil:
				replyTo = cb
			case !isNotFound(err):
				return fmt.Errorf("read callback: %w", err)
			}
			if err := e.streams.StepLog().Delete(tx, key); err != nil {
				return fmt.Errorf("delete step log: %w", err)
			}
			if err := e.streams.Callbacks().Delete(tx, key); err != nil {
				return fmt.Errorf("delete callback: %w", err)
			}
			return publish(tx, replyTo, ir.Result{Source: e.def.Name(), Output: out})
		})
		if err == nil {
			e.d.log.Info("instance completed",
				"key", key,
				"steps", len(records)-1,
				"reply_to", replyTo.String(),
			)
		}
		return e.d.settle(item, outcomeCompleted, err)
	}

	err = e.d.commit(ctx, item, func(tx queue.Tx) error {
		if err := e.streams.StepLog().Append(tx, key, step, record); err != nil {
			return fmt.Errorf("append step %d: %w", step, err)
		}
		return e.pushCalls(tx, key, attempt.Calls)
	})
	if err == nil {
		e.logSuspended(key, step, attempt.Calls)
	}
	return e.d.settle(item, outcomeSuspended, err)
}

// pushCalls schedules outbound calls on their targets' invocation streams.
//
// The callee key is derived from (definition, key, step) so a call re-issued
// after a crash lands on the same slot and the push is absorbed.
func (e *Engine) pushCalls(tx queue.Tx, key string, calls []ir.CallIntent) error {
	for _, c := range calls {
		inv := ir.Invocation{
			Input:   c.Input,
			ReplyTo: e.streams.ResultsStream().Address(ir.CompositeKey(c.Index, key)),
		}
		target := workflow.StreamsFor(c.Target).InvocationStream()
		if err := target.Push(tx, ir.CallKey(e.def.Name(), key, c.Index), inv); err != nil {
			return fmt.Errorf("push call %d to %s: %w", c.Index, c.Target, err)
		}
	}
	return nil
}

func (e *Engine) readLog(ctx context.Context, key string) ([]ir.StepRecord, error) {
	var records []ir.StepRecord
	err := e.d.backend.View(ctx, func(tx queue.Tx) error {
		var err error
		records, err = e.streams.StepLog().Read(tx, key)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read step log %s: %w", key, err)
	}
	return records, nil
}

func (e *Engine) logSuspended(key string, step int, calls []ir.CallIntent) {
	targets := make([]string, len(calls))
	for i, c := range calls {
		targets[i] = c.Target
		e.d.opts.metrics.observeCall(e.def.Name(), c.Target)
	}
	e.d.log.Info("instance suspended",
		"key", key,
		"step", step,
		"calls", targets,
	)
}
