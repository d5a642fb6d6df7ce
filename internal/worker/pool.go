package worker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"blob2dicomweb/internal/metrics"
)

// Handler processes one task.
type Handler func(ctx context.Context, task Task) error

// PoolOptions configures failure handling and instrumentation of a Pool.
type PoolOptions struct {
	// FailFast aborts the whole pool on the first handler error. When
	// false, errors go to OnFailure and the pool keeps running.
	FailFast  bool
	OnFailure func(task Task, err error)
	Metrics   *metrics.Collector
	Logger    *zap.Logger
}

// Pool runs a handler on a fixed number of concurrent workers. Post blocks
// while every worker is busy.
type Pool struct {
	size    int
	handler Handler
	opts    PoolOptions
	logger  *zap.Logger

	tasks chan Task
	group *errgroup.Group
	ctx   context.Context

	mu       sync.RWMutex
	started  bool
	complete bool
}

// NewPool creates a pool of size workers.
func NewPool(size int, handler Handler, opts PoolOptions) *Pool {
	if size <= 0 {
		size = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		size:    size,
		handler: handler,
		opts:    opts,
		logger:  logger,
		// Unbuffered: a send completes only when a worker is free to take it.
		tasks: make(chan Task),
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Start launches the workers. Handlers run with a context derived from ctx
// that is cancelled when the pool aborts.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	p.group, p.ctx = errgroup.WithContext(ctx)
	for i := 0; i < p.size; i++ {
		id := i
		p.group.Go(func() error {
			return p.worker(id)
		})
	}
}

// Post hands task to an idle worker, blocking until one is available. It
// fails once the pool has aborted, after Complete, or when ctx ends.
func (p *Pool) Post(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started {
		return fmt.Errorf("worker pool not started")
	}
	if p.complete {
		return ErrPoolClosed
	}
	if p.ctx.Err() != nil {
		return fmt.Errorf("worker pool aborted: %w", context.Cause(p.ctx))
	}

	select {
	case p.tasks <- task:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("worker pool aborted: %w", context.Cause(p.ctx))
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Complete signals that no more tasks will be posted. It is safe to call
// more than once.
func (p *Pool) Complete() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.complete {
		return
	}
	p.complete = true
	close(p.tasks)
}

// Wait blocks until every posted task has finished and returns the error
// that aborted the pool, if any.
func (p *Pool) Wait() error {
	p.mu.RLock()
	group := p.group
	p.mu.RUnlock()

	if group == nil {
		return nil
	}
	return group.Wait()
}

func (p *Pool) worker(id int) error {
	logger := p.logger.With(zap.Int("worker_id", id))
	logger.Debug("Worker started")

	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				logger.Debug("Worker finished - no more tasks")
				return nil
			}
			if err := p.run(task); err != nil {
				if p.opts.FailFast {
					logger.Debug("Worker stopping pool", zap.String("key", task.Key), zap.Error(err))
					return err
				}
				if p.opts.OnFailure != nil {
					p.opts.OnFailure(task, err)
				}
			}

		case <-p.ctx.Done():
			logger.Debug("Worker stopped - context cancelled")
			return nil
		}
	}
}

// run executes one task while holding a slot.
func (p *Pool) run(task Task) error {
	if p.opts.Metrics != nil {
		p.opts.Metrics.IncInflight()
		defer p.opts.Metrics.DecInflight()
	}
	return p.handler(p.ctx, task)
}
