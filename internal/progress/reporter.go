package progress

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// RateSource provides the current throughput.
type RateSource interface {
	EventsPerSecond() float64
}

// Reporter periodically logs the throughput and run totals.
type Reporter struct {
	rate     RateSource
	tracker  *Tracker
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// NewReporter creates a reporter emitting every interval.
func NewReporter(rate RateSource, tracker *Tracker, interval time.Duration, logger *zap.Logger) *Reporter {
	return &Reporter{
		rate:     rate,
		tracker:  tracker,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the report loop. It stops when ctx is done or Stop is
// called. Calling Start twice has no effect.
func (r *Reporter) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.loop(ctx, r.done)
}

// Stop ends the report loop, waits for it to exit, and logs the final
// summary.
func (r *Reporter) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	if cancel == nil || r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	cancel()
	<-done

	r.summary()
}

func (r *Reporter) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.report()
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reporter) report() {
	status := r.tracker.GetStatus()
	r.logger.Info("Objects per second",
		zap.Float64("rate", r.rate.EventsPerSecond()),
		zap.Int64("succeeded", status.Succeeded),
		zap.Int64("already_existed", status.AlreadyExisted),
		zap.Int64("failed", status.Failed),
		zap.Int64("skipped", status.Skipped),
		zap.String("uploaded", humanize.Bytes(uint64(status.UploadedBytes))),
	)
}

func (r *Reporter) summary() {
	status := r.tracker.GetStatus()
	elapsed := time.Since(status.StartTime)

	var average float64
	if elapsed > 0 {
		average = float64(status.Succeeded+status.AlreadyExisted) / elapsed.Seconds()
	}

	r.logger.Info("Migration summary",
		zap.Int64("listed", status.Listed),
		zap.Int64("succeeded", status.Succeeded),
		zap.Int64("already_existed", status.AlreadyExisted),
		zap.Int64("failed", status.Failed),
		zap.Int64("skipped", status.Skipped),
		zap.String("uploaded", humanize.Bytes(uint64(status.UploadedBytes))),
		zap.Duration("elapsed", elapsed.Round(time.Millisecond)),
		zap.Float64("average_rate", average),
	)

	for _, f := range r.tracker.Failures() {
		r.logger.Error("Object failed",
			zap.String("key", f.Key),
			zap.Int("status", f.StatusCode),
			zap.String("error", f.Error),
		)
	}
}
