package engine

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/durable/internal/queue"
)

// Option configures an Engine, Worker or Runtime.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	maxSteps int
	retry    RetryPolicy
	poll     time.Duration
	metrics  *Metrics
	tracer   trace.Tracer
	keys     KeyGenerator
	now      func() time.Time
	hook     func(Event)
}

func newOptions(opts []Option) options {
	o := options{
		logger:   slog.Default(),
		maxSteps: DefaultMaxSteps,
		retry:    DefaultRetryPolicy(),
		poll:     queue.DefaultPollInterval,
		tracer:   otel.Tracer(tracerName),
		keys:     UUIDv7Generator{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMaxSteps sets the maximum step quota per instance.
//
// Default: 1000 steps (DefaultMaxSteps)
// Use WithMaxSteps(0) to disable the quota.
// Use WithMaxSteps(2) for testing quota enforcement.
func WithMaxSteps(maxSteps int) Option {
	return func(o *options) {
		o.maxSteps = maxSteps
	}
}

// WithRetryPolicy sets how failed events are redelivered.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) {
		o.retry = p
	}
}

// WithPollInterval bounds how long a loop sleeps without a change
// notification from the backend.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.poll = d
		}
	}
}

// WithMetrics records event metrics. Without it no metrics are recorded.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithTracer sets the tracer used for per-event spans.
// Default: the global OpenTelemetry tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithKeyGenerator sets the generator behind Runtime.NewKey.
func WithKeyGenerator(g KeyGenerator) Option {
	return func(o *options) {
		if g != nil {
			o.keys = g
		}
	}
}

// WithEventHook calls fn after each processed event, on the goroutine of
// the loop that processed it.
func WithEventHook(fn func(Event)) Option {
	return func(o *options) {
		o.hook = fn
	}
}

// withClock replaces the wall clock used to schedule retries.
func withClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}
