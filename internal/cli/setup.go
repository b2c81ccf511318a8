package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/durable/internal/config"
	"github.com/roach88/durable/internal/demo"
	"github.com/roach88/durable/internal/engine"
	"github.com/roach88/durable/internal/queue"
	"github.com/roach88/durable/internal/store"
	"github.com/roach88/durable/internal/store/memory"
	"github.com/roach88/durable/internal/store/postgres"
)

// loadConfig reads the config file and environment, then applies the
// global flags on top.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}

	if opts.Backend != "" {
		cfg.Backend = opts.Backend
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the slog logger described by cfg.
func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// openBackend opens the queue store cfg selects.
func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (queue.Backend, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		logger.Info("opening database", "path", cfg.Database)
		return store.Open(cfg.Database)
	case config.BackendPostgres:
		logger.Info("connecting to postgres")
		return postgres.New(ctx, cfg.PostgresDSN, postgres.WithLogger(logger))
	case config.BackendMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// engineOptions maps cfg onto engine options.
func engineOptions(cfg config.Config, logger *slog.Logger) []engine.Option {
	return []engine.Option{
		engine.WithLogger(logger),
		engine.WithMaxSteps(cfg.MaxSteps),
		engine.WithPollInterval(cfg.PollInterval),
		engine.WithRetryPolicy(engine.RetryPolicy{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
			Multiplier:      cfg.Retry.Multiplier,
		}),
	}
}

// session is what every command but test works with: the resolved config,
// an open backend and a runtime with the demo workflows registered.
type session struct {
	cfg     config.Config
	logger  *slog.Logger
	backend queue.Backend
	runtime *engine.Runtime
}

// openSession reports failures through f; the returned error is ready to be
// returned from a RunE.
func openSession(ctx context.Context, opts *RootOptions, f *OutputFormatter, logw io.Writer, extra ...engine.Option) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, f.Fail(ExitCommandError, CodeConfig, "failed to load config", err)
	}
	logger := newLogger(cfg, logw)

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, f.Fail(ExitCommandError, CodeBackend, "failed to open backend", err)
	}

	rt := engine.NewRuntime(b, append(engineOptions(cfg, logger), extra...)...)
	if err := demo.Register(rt); err != nil {
		b.Close()
		return nil, f.Fail(ExitCommandError, CodeConfig, "failed to register workflows", err)
	}

	return &session{cfg: cfg, logger: logger, backend: b, runtime: rt}, nil
}

func (s *session) Close() {
	if err := s.backend.Close(); err != nil {
		s.logger.Error("error closing backend", "error", err)
	}
}
