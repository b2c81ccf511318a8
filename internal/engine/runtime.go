package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/durable/internal/ir"
	"github.com/roach88/durable/internal/queue"
	"github.com/roach88/durable/internal/workflow"
)

// ErrUnknownTarget is returned for a name no definition or service was
// registered under.
var ErrUnknownTarget = errors.New("engine: unknown target")

// ErrDuplicateName is returned when a name is registered twice.
var ErrDuplicateName = errors.New("engine: name already registered")

// loop is what Runtime drives: an Engine or a Worker.
type loop interface {
	Name() string
	Run(ctx context.Context) error
	Poll(ctx context.Context) (bool, error)
}

// Runtime hosts the engines and workers sharing one backend.
//
// Thread-safety model:
//   - Register/RegisterService: before Run
//   - Submit/Observe/Requeue/NewKey: safe from any goroutine
type Runtime struct {
	backend queue.Backend
	opts    []Option
	o       options

	mu         sync.Mutex
	loops      []loop // registration order
	validators map[string]func(json.RawMessage) error
	workflows  map[string]workflow.Runnable
}

// NewRuntime creates a Runtime on b. The options are passed on to every
// engine and worker it creates.
func NewRuntime(b queue.Backend, opts ...Option) *Runtime {
	return &Runtime{
		backend:    b,
		opts:       opts,
		o:          newOptions(opts),
		validators: make(map[string]func(json.RawMessage) error),
		workflows:  make(map[string]workflow.Runnable),
	}
}

// Backend returns the shared backend.
func (r *Runtime) Backend() queue.Backend {
	return r.backend
}

// Register adds an engine for each definition.
func (r *Runtime) Register(defs ...workflow.Runnable) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, def := range defs {
		if err := r.claim(def.Name(), def.ValidateInput); err != nil {
			return err
		}
		r.workflows[def.Name()] = def
		r.loops = append(r.loops, New(r.backend, def, r.opts...))
	}
	return nil
}

// RegisterService adds a worker for each service.
func (r *Runtime) RegisterService(handlers ...workflow.Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range handlers {
		if err := r.claim(h.Name(), h.ValidateInput); err != nil {
			return err
		}
		r.loops = append(r.loops, NewWorker(r.backend, h, r.opts...))
	}
	return nil
}

func (r *Runtime) claim(name string, validate func(json.RawMessage) error) error {
	if name == "" {
		return fmt.Errorf("register: empty name")
	}
	if _, ok := r.validators[name]; ok {
		return fmt.Errorf("register %s: %w", name, ErrDuplicateName)
	}
	r.validators[name] = validate
	return nil
}

// Names returns every registered name, sorted.
func (r *Runtime) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.loops))
	for _, l := range r.loops {
		names = append(names, l.Name())
	}
	sort.Strings(names)
	return names
}

// Workflows returns the names of registered definitions, sorted.
func (r *Runtime) Workflows() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.workflows))
	for name := range r.workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definition returns the registered definition called name.
func (r *Runtime) Definition(name string) (workflow.Runnable, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, ok := r.workflows[name]
	return def, ok
}

// Run runs every loop until ctx is cancelled. It returns nil on
// cancellation and the first other error a loop returns.
func (r *Runtime) Run(ctx context.Context) error {
	r.mu.Lock()
	loops := append([]loop(nil), r.loops...)
	r.mu.Unlock()

	if len(loops) == 0 {
		return fmt.Errorf("run: nothing registered")
	}

	r.o.logger.Info("runtime starting", "loops", len(loops))

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range loops {
		l := l
		g.Go(func() error {
			err := l.Run(gctx)
			if gctx.Err() != nil {
				return nil
			}
			return err
		})
	}
	err := g.Wait()

	r.o.logger.Info("runtime stopped")
	return err
}

// Drain processes visible events across all loops until none is left and
// returns how many were processed. Failed events are settled as in Run;
// only backend errors while looking for work are returned.
func (r *Runtime) Drain(ctx context.Context) (int, error) {
	r.mu.Lock()
	loops := append([]loop(nil), r.loops...)
	r.mu.Unlock()

	n := 0
	for {
		progressed := false
		for _, l := range loops {
			found, err := l.Poll(ctx)
			if err != nil && !found {
				return n, err
			}
			if found {
				n++
				progressed = true
			}
		}
		if !progressed {
			return n, nil
		}
	}
}

// Submit validates input against the registered target and pushes an
// invocation under key.
func (r *Runtime) Submit(ctx context.Context, target, key string, input json.RawMessage, replyTo ir.Address) error {
	if err := r.Validate(target, input); err != nil {
		return fmt.Errorf("submit %s/%s: %w", target, key, err)
	}
	return SubmitRaw(ctx, r.backend, target, key, input, replyTo)
}

// Validate checks input against the registered target without submitting
// anything.
func (r *Runtime) Validate(target string, input json.RawMessage) error {
	r.mu.Lock()
	validate, ok := r.validators[target]
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%s: %w", target, ErrUnknownTarget)
	}
	return validate(input)
}

// Observe returns a snapshot of a registered definition's streams.
func (r *Runtime) Observe(ctx context.Context, name string) (Snapshot, error) {
	r.mu.Lock()
	_, ok := r.workflows[name]
	r.mu.Unlock()

	if !ok {
		return Snapshot{}, fmt.Errorf("observe %s: %w", name, ErrUnknownTarget)
	}
	return Observe(ctx, r.backend, name)
}

// Requeue makes a parked (or deferred) item in stream visible again with a
// fresh retry budget.
func (r *Runtime) Requeue(ctx context.Context, stream, key string) error {
	if err := r.backend.Unpark(ctx, stream, key); err != nil {
		return fmt.Errorf("requeue %s#%s: %w", stream, key, err)
	}
	r.o.logger.Info("event requeued", "stream", stream, "key", key)
	return nil
}

// NewKey generates a fresh instance key.
func (r *Runtime) NewKey() string {
	return r.o.keys.Generate()
}
