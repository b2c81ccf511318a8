package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/durable/internal/ir"
)

// Target is anything a workflow can call: another Definition, a Service, or a
// Ref naming one that lives elsewhere. The type parameters tie the call's
// input and output types to the target at compile time.
type Target[In, Out any] interface {
	Name() string
	signature(In) Out
}

// Ref names a target by identity alone, for callees defined in another
// binary or package.
type Ref[In, Out any] struct {
	name string
}

// NewRef returns a typed reference to the target called name.
func NewRef[In, Out any](name string) Ref[In, Out] {
	return Ref[In, Out]{name: name}
}

func (r Ref[In, Out]) Name() string { return r.name }

func (Ref[In, Out]) signature(In) Out {
	var zero Out
	return zero
}

// Context is one attempt's view of an instance's step log.
//
// The cursor is an explicit field: it starts at 0 (the input record) and
// every Call advances it by one, every All by the group size. Nothing here
// writes to storage; the attempt only proposes CallIntents.
//
// A Context is used by a single goroutine and lives for a single attempt.
type Context struct {
	workflow string
	key      string
	records  map[int]ir.StepRecord
	last     int // highest recorded index
	cursor   int

	calls     []ir.CallIntent
	suspended bool
	diverged  error
}

func newContext(workflow, key string, records []ir.StepRecord) *Context {
	c := &Context{
		workflow: workflow,
		key:      key,
		records:  make(map[int]ir.StepRecord, len(records)),
	}
	for _, r := range records {
		c.records[r.Index] = r
		if r.Index > c.last {
			c.last = r.Index
		}
	}
	return c
}

// Key returns the instance key.
func (c *Context) Key() string { return c.key }

// Workflow returns the definition name.
func (c *Context) Workflow() string { return c.workflow }

// Step returns the index of the most recently issued call (0 before any).
func (c *Context) Step() int { return c.cursor }

// Replaying reports whether the next call will be served from history.
// Useful to keep logging quiet on replayed steps.
func (c *Context) Replaying() bool { return c.cursor < c.last }

func (c *Context) diverge(step int, expected, recorded string, err error) error {
	de := &DivergenceError{
		Workflow: c.workflow,
		Key:      c.key,
		Step:     step,
		Expected: expected,
		Recorded: recorded,
		Err:      err,
	}
	if c.diverged == nil {
		c.diverged = de
	}
	return de
}

// replay decodes the record at idx into out, checking its producer.
func (c *Context) replay(idx int, target string, rec ir.StepRecord, out any) error {
	if rec.Source != target {
		return c.diverge(idx, target, rec.Source, nil)
	}
	if err := decodeStrict(rec.Value, out); err != nil {
		return c.diverge(idx, fmt.Sprintf("%s output %T", target, out), string(rec.Value), err)
	}
	return nil
}

func (c *Context) issue(idx int, target string, input json.RawMessage) {
	c.calls = append(c.calls, ir.CallIntent{Index: idx, Target: target, Input: input})
}

// Call invokes t with input.
//
// If the step log holds the result for this step, Call decodes and returns
// it without side effects. If the step is past the recorded frontier, Call
// records the intent and returns ErrSuspended; the workflow function should
// return that error unchanged. Once an attempt is suspended every later Call
// returns ErrSuspended without recording anything.
func Call[In, Out any](wc *Context, t Target[In, Out], input In) (Out, error) {
	var out Out
	if wc.diverged != nil {
		return out, wc.diverged
	}
	if wc.suspended {
		return out, ErrSuspended
	}

	wc.cursor++
	idx := wc.cursor

	if rec, ok := wc.records[idx]; ok {
		if err := wc.replay(idx, t.Name(), rec, &out); err != nil {
			return out, err
		}
		return out, nil
	}

	if idx <= wc.last {
		// A later step is recorded but this one is not: history holds a
		// fan-out group here, not a single call.
		return out, wc.diverge(idx, t.Name(), "gap in step log", nil)
	}

	raw, err := ir.Marshal(input)
	if err != nil {
		return out, fmt.Errorf("encode input for %s: %w", t.Name(), err)
	}
	wc.issue(idx, t.Name(), raw)
	wc.suspended = true
	return out, ErrSuspended
}

// Branch is one member of a fan-out group passed to All.
type Branch interface {
	target() string
	input() (json.RawMessage, error)
	resolve(wc *Context, idx int, rec ir.StepRecord) error
}

// Future is a call prepared for All. Its value is available after All
// returns nil.
type Future[Out any] struct {
	name   string
	raw    json.RawMessage
	encErr error
	value  Out
	done   bool
}

// Async prepares a call to t for a fan-out group.
func Async[In, Out any](t Target[In, Out], input In) *Future[Out] {
	raw, err := ir.Marshal(input)
	return &Future[Out]{name: t.Name(), raw: raw, encErr: err}
}

// Value returns the call's result. It is the zero value until All resolves
// the group.
func (f *Future[Out]) Value() Out { return f.value }

// Done reports whether the result has been resolved.
func (f *Future[Out]) Done() bool { return f.done }

func (f *Future[Out]) target() string { return f.name }

func (f *Future[Out]) input() (json.RawMessage, error) {
	if f.encErr != nil {
		return nil, fmt.Errorf("encode input for %s: %w", f.name, f.encErr)
	}
	return f.raw, nil
}

func (f *Future[Out]) resolve(wc *Context, idx int, rec ir.StepRecord) error {
	var v Out
	if err := wc.replay(idx, f.name, rec, &v); err != nil {
		return err
	}
	f.value = v
	f.done = true
	return nil
}

// All runs branches as one fan-out group occupying steps cursor+1..cursor+N.
//
// The group is resolved all at once or not at all:
//   - every step recorded: all futures resolve and All returns nil;
//   - no step recorded and the group starts past the recorded frontier:
//     all N calls are issued and All returns ErrSuspended;
//   - some steps recorded: the recorded ones are checked against their
//     branches and All returns ErrSuspended without re-issuing anything.
//
// Results may be recorded in any order; only the set of recorded steps
// matters.
func All(wc *Context, branches ...Branch) error {
	if wc.diverged != nil {
		return wc.diverged
	}
	if wc.suspended {
		return ErrSuspended
	}
	if len(branches) == 0 {
		return nil
	}

	first := wc.cursor + 1
	last := wc.cursor + len(branches)
	wc.cursor = last

	present := 0
	for i, b := range branches {
		idx := first + i
		rec, ok := wc.records[idx]
		if !ok {
			continue
		}
		present++
		if err := b.resolve(wc, idx, rec); err != nil {
			return err
		}
	}

	switch {
	case present == len(branches):
		return nil

	case present == 0 && first > wc.last:
		for i, b := range branches {
			raw, err := b.input()
			if err != nil {
				return err
			}
			wc.issue(first+i, b.target(), raw)
		}
		wc.suspended = true
		return ErrSuspended

	case present == 0:
		return wc.diverge(first, fmt.Sprintf("fan-out of %d", len(branches)), "gap in step log", nil)

	case wc.last > last:
		// Part of the group is outstanding, yet later steps are recorded.
		return wc.diverge(last+1, "outstanding fan-out", wc.records[wc.last].Source, nil)

	default:
		wc.suspended = true
		return ErrSuspended
	}
}
