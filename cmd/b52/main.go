package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/b52/internal/config"
	"github.com/torosent/b52/internal/logging"
	"github.com/torosent/b52/internal/output"
	"github.com/torosent/b52/internal/queue"
	"github.com/torosent/b52/internal/runlock"
	"github.com/torosent/b52/internal/runner"
	"github.com/torosent/b52/internal/source"
	"github.com/torosent/b52/internal/tracing"
	"github.com/torosent/b52/internal/transfer"
)

const tracingShutdownTimeout = 5 * time.Second

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	start := time.Now()

	loader := config.NewLoader()
	loader.Stdout = stdout
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	runID := ulid.Make().String()
	logger = logger.With(zap.String("run_id", runID))
	for _, warning := range cfg.Warnings() {
		logger.Warn(warning)
	}

	lock, err := runlock.Acquire(cfg.LockFile)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("release run lock", zap.String("path", lock.Path()), zap.Error(err))
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	provider, err := tracing.Init(ctx, cfg.Tracing, tracing.Run{
		ID:          runID,
		Total:       cfg.Total,
		Concurrency: cfg.Concurrency,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), tracingShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("flush traces", zap.Error(err))
		}
	}()

	b := &bomber{
		cfg:       cfg,
		runID:     runID,
		logger:    logger,
		tracer:    provider.Tracer(),
		propagate: provider.ShouldPropagate(),
		stdout:    stdout,
		start:     start,
	}
	return b.bomb(ctx)
}

// bomber holds what one invocation needs once configuration is settled.
type bomber struct {
	cfg       *config.Config
	runID     string
	logger    *zap.Logger
	tracer    trace.Tracer
	propagate bool
	stdout    io.Writer
	start     time.Time
}

func (b *bomber) bomb(ctx context.Context) (err error) {
	ctx, span := tracing.StartRunSpan(ctx, b.tracer, b.runID, b.cfg.Total, b.cfg.Concurrency)
	defer func() { tracing.EndSpan(span, err) }()

	urls, err := b.loadURLs(ctx)
	if err != nil {
		return err
	}
	b.logger.Info("urls loaded",
		zap.Int("requested", b.cfg.Total),
		zap.Int("loaded", len(urls)),
		zap.Int("concurrency", b.cfg.Concurrency),
	)

	reporter := b.reporter()
	client := transfer.NewClient(transfer.ClientOptions{
		InsecureSkipVerify: b.cfg.Transport.InsecureSkipVerify,
	})
	mux := transfer.NewMultiplexer(transfer.Options{
		Client:    client,
		UserAgent: b.cfg.Transport.UserAgent,
		Logger:    b.logger,
		Tracer:    b.tracer,
		Propagate: b.propagate,
	})

	r, err := runner.New(runner.Options{
		Concurrency: b.cfg.Concurrency,
		BatchRate:   b.cfg.BatchRate,
		Executor:    mux,
		Reporter:    reporter,
		Tracer:      b.tracer,
		Logger:      b.logger,
	})
	if err != nil {
		return err
	}
	result := r.Run(ctx, queue.New(urls))

	reporter.RunComplete(time.Since(b.start))
	b.logger.Debug("run finished",
		zap.Int("batches", result.Batches),
		zap.Int("dispatched", result.Dispatched),
		zap.Int("completed", result.Completed),
		zap.Int("aborted_batches", result.Aborted),
		zap.Bool("interrupted", result.Interrupted),
		zap.Duration("duration", result.Duration),
	)
	return nil
}

// loadURLs materializes the whole URL list before any request is sent.
func (b *bomber) loadURLs(ctx context.Context) ([]string, error) {
	if b.cfg.Total <= 0 {
		return nil, nil
	}
	src, err := source.New(ctx, b.cfg.Source, b.logger)
	if err != nil {
		return nil, fmt.Errorf("open url source: %w", err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			b.logger.Warn("close url source", zap.Error(err))
		}
	}()

	urls, err := src.Fetch(ctx, b.cfg.Total)
	if err != nil {
		return nil, fmt.Errorf("load urls: %w", err)
	}
	return urls, nil
}

func (b *bomber) reporter() output.Reporter {
	var primary output.Reporter
	if b.cfg.JSONOutput {
		primary = output.NewJSONReporter(b.stdout, b.runID)
	} else {
		primary = output.NewTextReporter(b.stdout)
	}
	if !b.cfg.LogErrors {
		return primary
	}
	return output.Tee(primary, output.NewLogReporter(b.logger))
}
