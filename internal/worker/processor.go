package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"blob2dicomweb/internal/checkpoint"
	"blob2dicomweb/internal/metrics"
	"blob2dicomweb/internal/progress"
	"blob2dicomweb/internal/retry"
	"blob2dicomweb/internal/storage"
)

// Ingester uploads one object to the destination server.
type Ingester interface {
	Store(ctx context.Context, data []byte) (retry.Response, error)
}

// TaskProcessor fetches one object and uploads it with retries.
type TaskProcessor struct {
	config     Config
	fetcher    storage.Fetcher
	ingester   Ingester
	policy     *retry.Policy
	rate       *metrics.Rate
	metrics    *metrics.Collector
	tracker    *progress.Tracker
	checkpoint checkpoint.Store
	logger     *zap.Logger
	now        func() time.Time
}

// ProcessorDeps groups the collaborators of a TaskProcessor. Metrics,
// Tracker and Checkpoint are optional.
type ProcessorDeps struct {
	Fetcher    storage.Fetcher
	Ingester   Ingester
	Policy     *retry.Policy
	Rate       *metrics.Rate
	Metrics    *metrics.Collector
	Tracker    *progress.Tracker
	Checkpoint checkpoint.Store
	Logger     *zap.Logger
}

// NewTaskProcessor creates a processor.
func NewTaskProcessor(cfg Config, deps ProcessorDeps) *TaskProcessor {
	if cfg.Rand == nil {
		cfg.Rand = retry.GlobalRand()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskProcessor{
		config:     cfg,
		fetcher:    deps.Fetcher,
		ingester:   deps.Ingester,
		policy:     deps.Policy,
		rate:       deps.Rate,
		metrics:    deps.Metrics,
		tracker:    deps.Tracker,
		checkpoint: deps.Checkpoint,
		logger:     logger,
		now:        time.Now,
	}
}

// Process migrates one object. It returns a *FetchError or *UploadError when
// the object could not be ingested, or the context error on cancellation.
func (p *TaskProcessor) Process(ctx context.Context, task Task) error {
	startTime := p.now()

	if p.config.Resume && p.isCompleted(task) {
		p.logger.Debug("Skipping completed object", zap.String("key", task.Key))
		if p.metrics != nil {
			p.metrics.IncObjects(metrics.StatusSkipped)
		}
		if p.tracker != nil {
			p.tracker.AddSkipped()
		}
		return nil
	}

	if err := p.startupDelay(ctx); err != nil {
		return err
	}

	data, err := p.fetcher.Fetch(ctx, task.Key)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fetchErr := &FetchError{Key: task.Key, Err: err}
		p.fail(task, 0, 0, fetchErr)
		return fetchErr
	}

	outcome, err := p.policy.Do(ctx, func(ctx context.Context) (retry.Response, error) {
		return p.ingester.Store(ctx, data)
	})
	if err != nil {
		return err
	}

	if !outcome.Succeeded() {
		body := string(outcome.Body)
		p.logger.Error("Upload failed",
			zap.String("key", task.Key),
			zap.Int("status", outcome.StatusCode),
			zap.Int("retries", outcome.Retries),
			zap.String("response", body),
			zap.Error(outcome.Err),
		)
		uploadErr := &UploadError{
			Key:        task.Key,
			StatusCode: outcome.StatusCode,
			Body:       body,
			Retries:    outcome.Retries,
			Err:        outcome.Err,
		}
		p.fail(task, outcome.StatusCode, outcome.Retries+1, uploadErr)
		return uploadErr
	}

	completedAt := p.now()
	p.rate.Collect(completedAt)

	status := metrics.StatusSuccess
	if outcome.AlreadyExisted {
		status = metrics.StatusAlreadyExists
		p.logger.Info("Ignoring conflict, object already on server", zap.String("key", task.Key))
	}

	if p.metrics != nil {
		p.metrics.IncObjects(status)
		p.metrics.AddBytes(len(data))
		p.metrics.ObserveDuration(completedAt.Sub(startTime))
	}
	if p.tracker != nil {
		if outcome.AlreadyExisted {
			p.tracker.AddAlreadyExisted(len(data))
		} else {
			p.tracker.AddSuccess(len(data))
		}
	}
	p.save(&checkpoint.ItemRecord{
		Source:     p.config.Source,
		Key:        task.Key,
		Size:       int64(len(data)),
		Status:     checkpoint.StatusCompleted,
		Attempts:   outcome.Retries + 1,
		StatusCode: outcome.StatusCode,
	})

	p.logger.Debug("Object uploaded",
		zap.String("key", task.Key),
		zap.Int("size", len(data)),
		zap.Int("retries", outcome.Retries),
		zap.Duration("duration", completedAt.Sub(startTime)),
	)
	return nil
}

// startupDelay sleeps a random fraction of StartupJitter to spread the
// first requests of concurrent workers.
func (p *TaskProcessor) startupDelay(ctx context.Context) error {
	if p.config.StartupJitter <= 0 {
		return ctx.Err()
	}
	d := time.Duration(p.config.Rand.Int64N(int64(p.config.StartupJitter)))

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *TaskProcessor) isCompleted(task Task) bool {
	if p.checkpoint == nil {
		return false
	}
	record, err := p.checkpoint.GetItem(p.config.Source, task.Key)
	if err != nil {
		p.logger.Warn("Failed to read checkpoint", zap.String("key", task.Key), zap.Error(err))
		return false
	}
	return record != nil && record.Status == checkpoint.StatusCompleted
}

func (p *TaskProcessor) fail(task Task, statusCode, attempts int, err error) {
	if p.metrics != nil {
		p.metrics.IncObjects(metrics.StatusFailed)
	}
	if p.tracker != nil {
		p.tracker.AddFailed(progress.Failure{
			Key:        task.Key,
			StatusCode: statusCode,
			Error:      err.Error(),
		})
	}
	p.save(&checkpoint.ItemRecord{
		Source:     p.config.Source,
		Key:        task.Key,
		Size:       task.Size,
		Status:     checkpoint.StatusFailed,
		Attempts:   attempts,
		StatusCode: statusCode,
		LastError:  err.Error(),
	})
}

func (p *TaskProcessor) save(record *checkpoint.ItemRecord) {
	if p.checkpoint == nil {
		return
	}
	if err := p.checkpoint.SaveItem(record); err != nil {
		p.logger.Error("Failed to save checkpoint",
			zap.String("key", record.Key),
			zap.String("status", string(record.Status)),
			zap.Error(err),
		)
	}
}
