package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// DefaultLogAfter is the number of retries that pass silently before each
// further retry is logged.
const DefaultLogAfter = 3

// AttemptFunc performs one upload attempt.
type AttemptFunc func(ctx context.Context) (Response, error)

// Config configures a Policy.
type Config struct {
	// Schedule holds the wait before each retry; its length is the maximum
	// number of retries.
	Schedule   []time.Duration
	Classifier Classifier
	// LogAfter is the retry ordinal after which every retry is logged.
	LogAfter int
	// OnRetry, if set, is called before each wait.
	OnRetry func(retry int, wait time.Duration, status int)
}

// Policy runs attempts with a fixed backoff schedule.
type Policy struct {
	schedule   []time.Duration
	classifier Classifier
	logAfter   int
	onRetry    func(int, time.Duration, int)
	logger     *zap.Logger
	// newTimer builds the timer for the waits; nil uses the library default.
	newTimer func() backoff.Timer
}

// New creates a retry policy.
func New(cfg Config, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	schedule := make([]time.Duration, len(cfg.Schedule))
	copy(schedule, cfg.Schedule)

	return &Policy{
		schedule:   schedule,
		classifier: cfg.Classifier,
		logAfter:   cfg.LogAfter,
		onRetry:    cfg.OnRetry,
		logger:     logger,
	}
}

// Schedule returns a copy of the backoff schedule.
func (p *Policy) Schedule() []time.Duration {
	out := make([]time.Duration, len(p.schedule))
	copy(out, p.schedule)
	return out
}

// scheduleBackOff walks a precomputed list of waits, then stops.
type scheduleBackOff struct {
	waits []time.Duration
	next  int
}

func (b *scheduleBackOff) NextBackOff() time.Duration {
	if b.next >= len(b.waits) {
		return backoff.Stop
	}
	d := b.waits[b.next]
	b.next++
	return d
}

func (b *scheduleBackOff) Reset() {
	b.next = 0
}

// errUploadFailed marks an attempt that did not ingest the object. The
// details travel in the Outcome.
var errUploadFailed = errors.New("upload attempt failed")

// Do runs attempt until it succeeds, fails fatally, or the schedule is
// exhausted. The returned error is non-nil only when ctx ends; upload
// failures are reported through the Outcome.
func (p *Policy) Do(ctx context.Context, attempt AttemptFunc) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	var out Outcome
	retries := 0

	operation := func() error {
		resp, err := attempt(ctx)
		if err != nil && ctx.Err() != nil {
			out = Outcome{Retries: retries, Err: err}
			return backoff.Permanent(ctx.Err())
		}

		out = Outcome{
			Kind:       p.classifier.Classify(resp.StatusCode, err),
			StatusCode: resp.StatusCode,
			Body:       resp.Body,
			Retries:    retries,
			Err:        err,
		}

		switch out.Kind {
		case KindSuccess:
			return nil
		case KindAlreadyExists:
			out.Kind = KindSuccess
			out.AlreadyExisted = true
			return nil
		case KindFatal:
			return backoff.Permanent(fmt.Errorf("%w: status %d", errUploadFailed, resp.StatusCode))
		default:
			return fmt.Errorf("%w: status %d", errUploadFailed, resp.StatusCode)
		}
	}

	notify := func(_ error, wait time.Duration) {
		retries++
		if retries > p.logAfter {
			p.logger.Warn("Upload attempt failed, waiting before next retry",
				zap.Int("status", out.StatusCode),
				zap.Duration("wait", wait),
				zap.Int("retry", retries),
				zap.Error(out.Err),
			)
		}
		if p.onRetry != nil {
			p.onRetry(retries, wait, out.StatusCode)
		}
	}

	var timer backoff.Timer
	if p.newTimer != nil {
		timer = p.newTimer()
	}

	b := backoff.WithContext(&scheduleBackOff{waits: p.schedule}, ctx)
	if err := backoff.RetryNotifyWithTimer(operation, b, notify, timer); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			out.Retries = retries
			return out, cerr
		}
	}
	return out, nil
}

// IsCanceled reports whether err comes from context cancellation or expiry.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
