package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskmaster/internal/config"
	"github.com/fyrsmithlabs/taskmaster/internal/events"
	"github.com/fyrsmithlabs/taskmaster/internal/logging"
	"github.com/fyrsmithlabs/taskmaster/internal/orchestrator"
	"github.com/fyrsmithlabs/taskmaster/internal/review"
	"github.com/fyrsmithlabs/taskmaster/internal/secrets"
	"github.com/fyrsmithlabs/taskmaster/internal/store"
	"github.com/fyrsmithlabs/taskmaster/internal/telemetry"
	"github.com/fyrsmithlabs/taskmaster/internal/validation"
)

// app holds the wired dependencies of one process.
type app struct {
	cfg        *config.Config
	logger     *logging.Logger
	telemetry  *telemetry.Telemetry
	store      store.Store
	publisher  events.Publisher
	dispatcher *orchestrator.Dispatcher
}

// appOptions selects the optional parts of newApp.
type appOptions struct {
	// stderrLogs keeps stdout free for the stdio transport.
	stderrLogs bool
	// quiet logs warnings and above only, for offline commands.
	quiet bool
	// telemetry and events are only started by serve.
	telemetry bool
	events    bool
}

func loadConfig() (*config.Config, error) {
	return config.LoadWithFile(configPath)
}

// newApp wires config, logging, telemetry, storage, the redactor, events and
// the dispatcher.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, publisher: events.Noop{}}

	if opts.telemetry {
		tel, err := telemetry.New(ctx, &cfg.Telemetry)
		if err != nil {
			return nil, fmt.Errorf("initializing telemetry: %w", err)
		}
		a.telemetry = tel
	}

	// The log scrubber gets its own redactor; one that logs through the
	// logger it scrubs for could re-enter itself.
	logScrubber, err := secrets.New(&cfg.Secrets, nil)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("initializing redactor: %w", err)
	}
	logger, err := newLogger(cfg, opts, a.telemetry, logScrubber)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	a.logger = logger
	zl := logger.Underlying()

	st, err := openStore(cfg.Storage, zl)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.store = st

	redactor, err := secrets.New(&cfg.Secrets, zl)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("initializing redactor: %w", err)
	}

	if opts.events && cfg.NATS.Enabled {
		pub, err := events.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, zl)
		if err != nil {
			// Events are advisory; the supervisor runs without them.
			zl.Warn("nats unavailable, events disabled", zap.String("url", cfg.NATS.URL), zap.Error(err))
		} else {
			a.publisher = pub
		}
	}

	a.dispatcher = orchestrator.New(st,
		orchestrator.WithLogger(logger),
		orchestrator.WithEngine(validation.NewEngine(
			validation.WithStrictUnknownRules(cfg.Validation.StrictUnknownRules),
			validation.WithLogger(zl),
		)),
		orchestrator.WithReviewController(review.NewController(
			review.WithMaxCorrectionCycles(cfg.Review.MaxCorrectionCycles),
			review.WithLogger(zl),
		)),
		orchestrator.WithRedactor(redactor),
		orchestrator.WithPublisher(a.publisher),
		orchestrator.WithMetrics(orchestrator.NewMetrics(zl)),
	)
	return a, nil
}

func newLogger(cfg *config.Config, opts appOptions, tel *telemetry.Telemetry, scrubber logging.Scrubber) (*logging.Logger, error) {
	lc, err := logging.ParseConfig(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	if opts.quiet && lc.Level < zap.WarnLevel {
		lc.Level = zap.WarnLevel
	}
	lc.Output = logging.OutputConfig{
		Stdout: !opts.stderrLogs,
		Stderr: opts.stderrLogs,
		OTEL:   tel.IsEnabled(),
	}
	lc.Scrubber = scrubber
	return logging.NewLogger(lc, tel.LoggerProvider())
}

// openStore opens the configured backend under cfg.Path.
func openStore(cfg config.StorageConfig, logger *zap.Logger) (store.Store, error) {
	if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
		return nil, fmt.Errorf("creating storage dir: %w", err)
	}
	opts := []store.Option{
		store.WithLogger(logger),
		store.WithRetention(store.RetentionPolicy{MaxSnapshots: cfg.MaxSnapshots}),
	}

	switch cfg.Backend {
	case config.BackendSQLite:
		st, err := store.NewSQLiteStore(filepath.Join(cfg.Path, "taskmaster.db"), opts...)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return st, nil
	default:
		st, err := store.NewFileStore(cfg.Path, opts...)
		if err != nil {
			return nil, fmt.Errorf("opening file store: %w", err)
		}
		return st, nil
	}
}

// Close releases everything newApp opened. Safe on a partially built app.
func (a *app) Close(ctx context.Context) {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil && a.logger != nil {
		a.logger.Warn(ctx, "shutdown incomplete", zap.Error(err))
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
