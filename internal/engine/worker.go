package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/durable/internal/ir"
	"github.com/roach88/durable/internal/queue"
	"github.com/roach88/durable/internal/workflow"
)

// Worker is the run loop of one leaf service.
//
// Services are not replayed: each invocation runs the handler once and the
// result is published to the reply address in the transaction that pops the
// invocation. A crash between the handler and the commit runs the handler
// again on redelivery, so handlers with external side effects should be
// idempotent per key.
type Worker struct {
	handler workflow.Handler
	stream  queue.Public[ir.Invocation]
	d       *dispatcher
}

// NewWorker creates a Worker for h on backend b.
func NewWorker(b queue.Backend, h workflow.Handler, opts ...Option) *Worker {
	o := newOptions(opts)
	w := &Worker{
		handler: h,
		stream:  h.Streams().InvocationStream(),
	}
	w.d = newDispatcher(b, o, "worker", h.Name(), []string{w.stream.Name()})
	w.d.process = w.processInvocation
	return w
}

// Name returns the service's name.
func (w *Worker) Name() string {
	return w.handler.Name()
}

// Run starts the worker loop. It blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.d.run(ctx)
}

// Poll processes the oldest visible invocation, if any.
func (w *Worker) Poll(ctx context.Context) (bool, error) {
	return w.d.poll(ctx)
}

func (w *Worker) processInvocation(ctx context.Context, item queue.Item) (string, error) {
	var inv ir.Invocation
	if err := json.Unmarshal(item.Value, &inv); err != nil {
		return "", w.d.eventError(ErrCodeMalformed, item, fmt.Errorf("decode invocation: %w", err))
	}
	if err := w.handler.ValidateInput(inv.Input); err != nil {
		return "", w.d.eventError(ErrCodeBadInput, item, err)
	}

	out, err := w.handler.Handle(ctx, inv.Input)
	if err != nil {
		code := ErrCodeFailed
		if errors.Is(err, workflow.ErrBadInput) {
			code = ErrCodeBadInput
		}
		return "", w.d.eventError(code, item, err)
	}

	err = w.d.commit(ctx, item, func(tx queue.Tx) error {
		return publish(tx, inv.ReplyTo, ir.Result{Source: w.handler.Name(), Output: out})
	})
	if err == nil {
		w.d.log.Info("invocation handled",
			"key", item.Key,
			"reply_to", inv.ReplyTo.String(),
		)
	}
	return w.d.settle(item, outcomeCompleted, err)
}
