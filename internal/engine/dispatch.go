package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/durable/internal/ir"
	"github.com/roach88/durable/internal/queue"
)

const outcomeInterrupted = "interrupted"

// errGone reports that the item was consumed by another loop between Peek
// and Pop. The transaction that saw it is rolled back and the event dropped.
var errGone = errors.New("item already consumed")

// Event describes one processed queue item.
type Event struct {
	Component string // workflow or service name
	Queue     string
	Key       string
	Attempt   int
	Value     []byte
	Outcome   string // completed, suspended, dropped, retried, parked or interrupted
	Err       error
}

// processFunc handles one item. It returns the outcome label; a non-nil
// error leaves the item in its stream.
type processFunc func(ctx context.Context, item queue.Item) (string, error)

// dispatcher is the delivery loop shared by engines and workers: wait for
// the oldest visible item, process it, and settle failures by retrying or
// parking the item.
type dispatcher struct {
	backend   queue.Backend
	opts      options
	kind      string // "engine" or "worker"
	component string
	queues    []string
	process   processFunc
	log       *slog.Logger
}

func newDispatcher(b queue.Backend, opts options, kind, component string, queues []string) *dispatcher {
	attr := "workflow"
	if kind == "worker" {
		attr = "service"
	}
	return &dispatcher{
		backend:   b,
		opts:      opts,
		kind:      kind,
		component: component,
		queues:    queues,
		log:       opts.logger.With(attr, component),
	}
}

// run blocks until ctx is cancelled.
//
// ERROR HANDLING: On event processing failure, the error is logged with the
// stream and key, the item is retried or parked, and processing continues.
func (d *dispatcher) run(ctx context.Context) error {
	d.log.Info(d.kind+" starting", "streams", d.queues)

	for {
		item, err := queue.WaitAny(ctx, d.backend, d.opts.poll, d.queues...)
		if err != nil {
			if ctx.Err() != nil {
				d.log.Info(d.kind + " stopping: context cancelled")
				return ctx.Err()
			}
			d.log.Error("wait for event failed", "error", err)

			select {
			case <-ctx.Done():
				d.log.Info(d.kind + " stopping: context cancelled")
				return ctx.Err()
			case <-time.After(d.opts.poll):
			}
			continue
		}

		_ = d.handle(ctx, item)
	}
}

// poll processes the oldest visible item, if any, and reports whether one
// was found. The error is the processing error, after the item was settled.
func (d *dispatcher) poll(ctx context.Context) (bool, error) {
	item, err := d.backend.Peek(ctx, d.queues...)
	if errors.Is(err, queue.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, d.handle(ctx, item)
}

func (d *dispatcher) handle(ctx context.Context, item queue.Item) error {
	start := time.Now()
	ctx, span := startEventSpan(ctx, d.opts.tracer, d.component, item)

	d.log.Debug("processing event",
		"stream", item.Queue,
		"key", item.Key,
		"attempt", item.Attempts+1,
	)

	outcome, err := d.process(ctx, item)
	if err != nil {
		outcome = d.fail(ctx, item, err)
	}

	d.opts.metrics.observeEvent(d.component, streamKind(item.Queue), outcome, time.Since(start))
	endEventSpan(span, outcome, err)
	if d.opts.hook != nil {
		d.opts.hook(Event{
			Component: d.component,
			Queue:     item.Queue,
			Key:       item.Key,
			Attempt:   item.Attempts + 1,
			Value:     item.Value,
			Outcome:   outcome,
			Err:       err,
		})
	}
	return err
}

// fail settles a failed item: park it if the failure is fatal or the retry
// budget is spent, otherwise hide it for the policy's backoff delay.
func (d *dispatcher) fail(ctx context.Context, item queue.Item, err error) string {
	attempts := item.Attempts + 1
	log := d.log.With(
		"stream", item.Queue,
		"key", item.Key,
		"attempt", attempts,
		"error", err,
	)

	if ctx.Err() != nil {
		log.Info("event interrupted by shutdown")
		return outcomeInterrupted
	}

	var ee *EventError
	if errors.As(err, &ee) {
		log = log.With("code", ee.Code)
	}

	if IsFatal(err) || d.opts.retry.Exhausted(attempts) {
		if perr := d.backend.Park(ctx, item.Queue, item.Key, err.Error()); perr != nil && !errors.Is(perr, queue.ErrNotFound) {
			log.Error("park event failed", "park_error", perr)
		}
		log.Error("event parked")
		return outcomeParked
	}

	at := d.opts.now().Add(d.opts.retry.Delay(attempts))
	if _, rerr := d.backend.Retry(ctx, item.Queue, item.Key, at, err.Error()); rerr != nil && !errors.Is(rerr, queue.ErrNotFound) {
		log.Error("schedule retry failed", "retry_error", rerr)
	}
	log.Warn("event failed, will retry", "retry_at", at)
	return outcomeRetried
}

func (d *dispatcher) eventError(code EventErrorCode, item queue.Item, err error) *EventError {
	return &EventError{
		Code:      code,
		Component: d.component,
		Stream:    item.Queue,
		Key:       item.Key,
		Err:       err,
	}
}

// commit runs fn in a write transaction that first pops item. It returns
// errGone if the item is no longer there.
func (d *dispatcher) commit(ctx context.Context, item queue.Item, fn func(queue.Tx) error) error {
	return d.backend.Update(ctx, func(tx queue.Tx) error {
		if _, err := tx.Pop(item.Queue, item.Key); err != nil {
			if errors.Is(err, queue.ErrNotFound) {
				return errGone
			}
			return err
		}
		if fn == nil {
			return nil
		}
		return fn(tx)
	})
}

// settle maps the result of commit onto an outcome.
func (d *dispatcher) settle(item queue.Item, outcome string, err error) (string, error) {
	if errors.Is(err, errGone) {
		d.log.Debug("event already consumed, skipping",
			"stream", item.Queue,
			"key", item.Key,
		)
		return outcomeDropped, nil
	}
	if err != nil {
		return "", d.eventError(ErrCodeBackend, item, err)
	}
	return outcome, nil
}

// publish pushes res to the reply address. A zero address means nobody is
// waiting and the result is discarded.
func publish(tx queue.Tx, to ir.Address, res ir.Result) error {
	if to.IsZero() {
		return nil
	}
	return queue.NewPublic[ir.Result](to.Queue).Push(tx, to.Key, res)
}

// streamKind is the metric label for a stream: the part after the owner's
// name, e.g. "invocations" or "results".
func streamKind(q string) string {
	if i := strings.LastIndex(q, "/"); i >= 0 {
		return q[i+1:]
	}
	return q
}

func isNotFound(err error) bool {
	return errors.Is(err, queue.ErrNotFound)
}
