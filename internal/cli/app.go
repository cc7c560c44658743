package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/prepchain/internal/config"
	"github.com/roach88/prepchain/internal/dataset"
	"github.com/roach88/prepchain/internal/service"
	"github.com/roach88/prepchain/internal/store"
	"github.com/roach88/prepchain/internal/store/badgerstore"
	"github.com/roach88/prepchain/internal/telemetry"
)

// app is everything one command invocation needs.
type app struct {
	cfg      config.Config
	svc      *service.Service
	datasets dataset.Source
	repo     store.Repository
	logger   *slog.Logger
	user     string

	shutdown func(context.Context) error
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if opts.Database != "" {
		cfg.DBPath = opts.Database
	}
	if opts.Store != "" {
		cfg.Store = opts.Store
	}
	if opts.Datasets != "" {
		cfg.DatasetDir = opts.Datasets
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// openApp wires config, logging, tracing, the store, the dataset catalog
// and the service.
func openApp(ctx context.Context, opts *RootOptions, stderr io.Writer) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	level := cfg.SlogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "prepchain",
		ServiceVersion: Version,
		Exporter:       cfg.TraceExporter,
		Writer:         stderr,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to start tracing", err)
	}

	repo, err := openStore(cfg, logger)
	if err != nil {
		_ = shutdown(ctx)
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}

	datasets := openDatasets(cfg, logger)
	svc, err := service.New(service.Config{
		Store:          repo,
		Datasets:       datasets,
		LockTTL:        cfg.LockTTL,
		SampleSize:     cfg.SampleSize,
		PreviewTimeout: cfg.PreviewTimeout,
		Logger:         logger,
	})
	if err != nil {
		repo.Close()
		_ = shutdown(ctx)
		return nil, WrapExitError(ExitCommandError, "failed to start service", err)
	}

	return &app{
		cfg:      cfg,
		svc:      svc,
		datasets: datasets,
		repo:     repo,
		logger:   logger,
		user:     opts.User,
		shutdown: shutdown,
	}, nil
}

func openStore(cfg config.Config, logger *slog.Logger) (store.Repository, error) {
	switch cfg.Store {
	case config.StoreBadger:
		bcfg := badgerstore.DefaultConfig(cfg.DBPath)
		bcfg.Logger = logger
		return badgerstore.Open(bcfg)
	case config.StoreSQLite:
		return store.Open(cfg.DBPath)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// openDatasets serves the CSV catalog behind the resilient wrapper. Without
// a directory the catalog is empty.
func openDatasets(cfg config.Config, logger *slog.Logger) dataset.Source {
	if cfg.DatasetDir == "" {
		return dataset.NewMemory()
	}
	return dataset.NewResilient(dataset.NewCSVDir(cfg.DatasetDir), dataset.ResilienceConfig{
		Timeout:          cfg.DatasetTimeout,
		Retries:          uint(cfg.DatasetRetries),
		FailureThreshold: cfg.BreakerThreshold,
		ResetAfter:       cfg.BreakerReset,
		Logger:           logger,
	})
}

// Close releases the store and flushes spans.
func (a *app) Close(ctx context.Context) error {
	return errors.Join(a.repo.Close(), a.shutdown(ctx))
}

// execute opens the app, runs fn and reports its outcome in the configured
// format. fn's result is printed on success.
func execute(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, a *app) (any, error)) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := openApp(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return f.Fail(err)
	}
	defer func() {
		if cerr := a.Close(ctx); cerr != nil {
			a.logger.Warn("shutdown failed", "error", cerr)
		}
	}()

	data, err := fn(ctx, a)
	if err != nil {
		return f.Fail(err)
	}
	return f.Success(data)
}
