package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/durable/internal/engine"
	"github.com/roach88/durable/internal/ir"
	"github.com/roach88/durable/internal/queue"
	"github.com/roach88/durable/internal/store/memory"
	"github.com/roach88/durable/internal/testutil"
)

// Registrar adds the workflows and services a scenario needs to rt.
type Registrar func(rt *engine.Runtime) error

// Harness is the test execution engine for one scenario.
type Harness struct {
	backend   *memory.Backend
	runtime   *engine.Runtime
	clock     *testutil.ManualClock
	workflows map[string]bool

	mu     sync.Mutex
	result *Result
}

// Run executes a test scenario and returns the result.
//
// Execution flow:
//  1. Create a fresh in-memory backend on a frozen clock
//  2. Register the scenario's targets through register
//  3. Submit every invocation, checking rejections
//  4. Drain the runtime until no event is visible
//  5. Collect inbox outputs and check expect clauses
//  6. Evaluate assertions
//
// The returned error is reserved for failures of the harness itself;
// scenario failures are reported in Result.Errors.
func Run(s *Scenario, register Registrar) (*Result, error) {
	ctx := context.Background()

	h := &Harness{
		clock:  testutil.NewManualClock(time.Time{}),
		result: NewResult(),
	}
	h.backend = memory.New(memory.WithNow(h.clock.Now))
	defer h.backend.Close()

	h.runtime = engine.NewRuntime(h.backend,
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithEventHook(h.record),
	)
	if err := register(h.runtime); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	h.workflows = make(map[string]bool)
	for _, name := range h.runtime.Workflows() {
		h.workflows[name] = true
	}

	for i, sub := range s.Submit {
		input, err := json.Marshal(sub.Input)
		if err != nil {
			return nil, fmt.Errorf("submit[%d]: encode input: %w", i, err)
		}
		err = h.runtime.Submit(ctx, sub.Target, sub.Key, input, engine.Inbox(sub.Key))
		switch {
		case sub.Rejected && err == nil:
			h.result.AddError(fmt.Sprintf("submit[%d] %s/%s: expected rejection, was accepted", i, sub.Target, sub.Key))
		case sub.Rejected:
		case err != nil:
			return nil, fmt.Errorf("submit[%d]: %w", i, err)
		}
	}

	if _, err := h.runtime.Drain(ctx); err != nil {
		return nil, fmt.Errorf("drain: %w", err)
	}

	if err := h.collectOutputs(ctx); err != nil {
		return nil, err
	}
	h.checkExpectations(s.Expect)

	for i, a := range s.Assertions {
		if err := h.evaluate(ctx, a); err != nil {
			h.result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}

	return h.result, nil
}

// record appends a processed event to the trace.
func (h *Harness) record(ev engine.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	te := TraceEvent{
		Seq:       len(h.result.Trace) + 1,
		Component: ev.Component,
		Stream:    ev.Queue[strings.LastIndex(ev.Queue, "/")+1:],
		Outcome:   ev.Outcome,
	}
	if ev.Err != nil {
		te.Error = ev.Err.Error()
	}

	switch te.Stream {
	case "invocations":
		var inv ir.Invocation
		if err := json.Unmarshal(ev.Value, &inv); err == nil {
			te.Payload = inv.Input
			if !inv.ReplyTo.IsZero() {
				te.ReplyTo = inv.ReplyTo.String()
			}
		}
		if h.workflows[ev.Component] {
			te.Key = ev.Key
		}
	case "results":
		var res ir.Result
		if err := json.Unmarshal(ev.Value, &res); err == nil {
			te.Payload = res.Output
		}
		te.Key = ev.Key
	}

	h.result.Trace = append(h.result.Trace, te)
}

// collectOutputs reads every result waiting in the inbox.
func (h *Harness) collectOutputs(ctx context.Context) error {
	return h.backend.View(ctx, func(tx queue.Tx) error {
		items, err := tx.Scan(engine.InboxStream)
		if err != nil {
			return fmt.Errorf("scan inbox: %w", err)
		}
		for _, it := range items {
			var res ir.Result
			if err := json.Unmarshal(it.Value, &res); err != nil {
				return fmt.Errorf("decode inbox %s: %w", it.Key, err)
			}
			h.result.Outputs[it.Key] = res.Output
		}
		return nil
	})
}

func (h *Harness) checkExpectations(expect []Expectation) {
	for i, exp := range expect {
		want, err := ir.MarshalCanonical(exp.Output)
		if err != nil {
			h.result.AddError(fmt.Sprintf("expect[%d]: encode output: %v", i, err))
			continue
		}
		got, ok := h.result.Outputs[exp.Key]
		if !ok {
			h.result.AddError(fmt.Sprintf("expect[%d]: no output for %s", i, exp.Key))
			continue
		}
		if canonical, err := ir.Canonicalize(got); err == nil {
			got = canonical
		}
		if !bytes.Equal(want, got) {
			h.result.AddError(fmt.Sprintf("expect[%d]: output for %s: want %s, got %s", i, exp.Key, want, got))
		}
	}
}
