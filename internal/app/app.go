package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"blob2dicomweb/internal/checkpoint"
	"blob2dicomweb/internal/config"
	"blob2dicomweb/internal/dicomweb"
	"blob2dicomweb/internal/metrics"
	"blob2dicomweb/internal/progress"
	"blob2dicomweb/internal/retry"
	"blob2dicomweb/internal/storage"
	"blob2dicomweb/internal/worker"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Migrator represents the main migration application
type Migrator struct {
	cfg        *config.Config
	logger     *zap.Logger
	source     storage.Source
	checkpoint checkpoint.Store
	metrics    *metrics.Collector
	tracker    *progress.Tracker
	reporter   *progress.Reporter
	workers    *worker.Pool
	dispatcher *Dispatcher
	closers    []func() error
}

// New creates a new migrator instance
func New(cfg *config.Config, logger *zap.Logger) (*Migrator, error) {
	// Create source client
	source, err := storage.New(storage.Config{
		Kind:        cfg.Source.Kind,
		URL:         cfg.Source.URL,
		Auth:        cfg.Source.Auth,
		AccountName: cfg.Source.AccountName,
		AccountKey:  cfg.Source.AccountKey,
		Bucket:      cfg.Source.Bucket,
		AccessKey:   cfg.Source.AccessKey,
		SecretKey:   cfg.Source.SecretKey,
		Secure:      cfg.Source.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create source client: %w", err)
	}

	// Create DICOMweb client; a dry run never uploads
	var ingester worker.Ingester
	var closers []func() error
	if !cfg.Migration.DryRun {
		client, err := dicomweb.NewClient(dicomweb.Config{
			URL:         cfg.Target.URL,
			Path:        cfg.Target.Path,
			BearerToken: cfg.Target.BearerToken,
			Timeout:     cfg.Target.Timeout(),
		}, cfg.Migration.Concurrency)
		if err != nil {
			return nil, fmt.Errorf("failed to create DICOMweb client: %w", err)
		}
		ingester = client
		closers = append(closers, func() error {
			client.CloseIdleConnections()
			return nil
		})
	}

	// Create checkpoint store
	var store checkpoint.Store
	if cfg.Migration.Checkpoint != "" {
		sqliteStore, err := checkpoint.NewSQLiteStore(cfg.Migration.Checkpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
		}
		store = sqliteStore
	}

	m := newMigrator(cfg, logger, source, ingester, store)
	m.closers = append(m.closers, closers...)
	return m, nil
}

func newMigrator(cfg *config.Config, logger *zap.Logger, source storage.Source, ingester worker.Ingester, store checkpoint.Store) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}

	metricsCollector := metrics.New()
	rate := metrics.NewRate(cfg.Migration.ReportEvery(), nil)
	tracker := progress.NewTracker()

	policy := retry.New(retry.Config{
		Schedule:   retry.NewSchedule(cfg.Migration.RetryDelays(), cfg.Migration.RetryJitter(), nil),
		Classifier: retry.Classifier{
			ConflictStatus: cfg.Target.ConflictStatus,
			FatalStatuses:  cfg.Target.FatalStatuses,
		},
		LogAfter:   cfg.Migration.RetryLogAfter,
		OnRetry: func(int, time.Duration, int) {
			metricsCollector.IncRetries()
		},
	}, logger)

	processor := worker.NewTaskProcessor(worker.Config{
		Source:        source.Name(),
		StartupJitter: cfg.Migration.StartupJitter(),
		Resume:        cfg.Migration.Resume,
	}, worker.ProcessorDeps{
		Fetcher:    source,
		Ingester:   ingester,
		Policy:     policy,
		Rate:       rate,
		Metrics:    metricsCollector,
		Tracker:    tracker,
		Checkpoint: store,
		Logger:     logger,
	})

	m := &Migrator{
		cfg:        cfg,
		logger:     logger,
		source:     source,
		checkpoint: store,
		metrics:    metricsCollector,
		tracker:    tracker,
		reporter:   progress.NewReporter(rate, tracker, cfg.Migration.ReportEvery(), logger),
	}

	m.workers = worker.NewPool(cfg.Migration.Concurrency, processor.Process, worker.PoolOptions{
		FailFast:  cfg.Migration.FailFast,
		OnFailure: m.onFailure,
		Metrics:   metricsCollector,
		Logger:    logger,
	})

	m.dispatcher = &Dispatcher{
		lister:   source,
		poster:   m.workers,
		tracker:  tracker,
		pageSize: cfg.Migration.PageSize,
		logger:   logger,
	}
	return m
}

// Run executes the migration process
func (m *Migrator) Run(ctx context.Context) error {
	m.logger.Info("Starting migration",
		zap.String("source", m.source.Name()),
		zap.String("prefix", m.cfg.Migration.Prefix),
		zap.String("object", m.cfg.Migration.Object),
		zap.Int("concurrency", m.cfg.Migration.Concurrency),
		zap.Bool("fail_fast", m.cfg.Migration.FailFast),
		zap.Bool("resume", m.cfg.Migration.Resume),
		zap.Bool("dry_run", m.cfg.Migration.DryRun),
	)

	opts := DispatchOptions{
		Prefix: m.cfg.Migration.Prefix,
		Object: m.cfg.Migration.Object,
		DryRun: m.cfg.Migration.DryRun,
	}
	if opts.DryRun {
		return m.dispatcher.Dispatch(ctx, opts)
	}

	if m.cfg.Migration.Resume && m.checkpoint != nil {
		completed, err := m.checkpoint.CountItems(m.source.Name(), checkpoint.StatusCompleted)
		if err != nil {
			return fmt.Errorf("failed to read checkpoint: %w", err)
		}
		failed, err := m.checkpoint.CountItems(m.source.Name(), checkpoint.StatusFailed)
		if err != nil {
			return fmt.Errorf("failed to read checkpoint: %w", err)
		}
		m.logger.Info("Resuming from checkpoint",
			zap.Int("previously_completed", completed),
			zap.Int("previously_failed", failed),
		)
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if addr := m.cfg.Migration.MetricsAddr; addr != "" {
		served := make(chan struct{})
		defer func() {
			cancel(nil)
			<-served
		}()
		go func() {
			defer close(served)
			if err := m.metrics.Serve(runCtx, addr); err != nil {
				m.logger.Error("Metrics server failed", zap.String("addr", addr), zap.Error(err))
			}
		}()
		m.logger.Info("Metrics server listening", zap.String("addr", addr))
	}

	m.reporter.Start(runCtx)
	m.workers.Start(runCtx)

	dispatchErr := m.dispatcher.Dispatch(runCtx, opts)
	var listErr *ListingError
	if errors.As(dispatchErr, &listErr) {
		cancel(dispatchErr)
	}

	m.workers.Complete()
	waitErr := m.workers.Wait()
	m.reporter.Stop()

	switch {
	case listErr != nil:
		return fmt.Errorf("failed to list objects: %w", dispatchErr)
	case waitErr != nil:
		return fmt.Errorf("migration aborted: %w", waitErr)
	case dispatchErr != nil:
		return dispatchErr
	case ctx.Err() != nil:
		return ctx.Err()
	}

	if failed := m.tracker.GetStatus().Failed; failed > 0 {
		return fmt.Errorf("%d objects failed to migrate", failed)
	}

	m.logger.Info("Migration completed")
	return nil
}

// onFailure records a failed object in isolated mode and keeps the run going.
func (m *Migrator) onFailure(task worker.Task, err error) {
	if retry.IsCanceled(err) {
		return
	}
	m.logger.Warn("Continuing after failed object", zap.String("key", task.Key), zap.Error(err))
}

// Close cleans up resources
func (m *Migrator) Close() error {
	var err error
	for _, closeFn := range m.closers {
		err = multierr.Append(err, closeFn())
	}
	if m.checkpoint != nil {
		err = multierr.Append(err, m.checkpoint.Close())
	}
	return err
}
