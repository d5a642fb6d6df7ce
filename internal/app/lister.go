package app

import (
	"context"
	"fmt"

	"blob2dicomweb/internal/progress"
	"blob2dicomweb/internal/storage"
	"blob2dicomweb/internal/worker"

	"go.uber.org/zap"
)

// ListingError reports a failed listing call. Token is the continuation
// token the failing page was requested with.
type ListingError struct {
	Prefix string
	Token  string
	Err    error
}

func (e *ListingError) Error() string {
	return fmt.Sprintf("error listing objects with prefix %q: %v", e.Prefix, e.Err)
}

func (e *ListingError) Unwrap() error {
	return e.Err
}

// Poster accepts tasks for processing.
type Poster interface {
	Post(ctx context.Context, task worker.Task) error
}

// Dispatcher lists source objects and posts them to the pool
type Dispatcher struct {
	lister   storage.Lister
	poster   Poster
	tracker  *progress.Tracker
	pageSize int
	logger   *zap.Logger
}

// DispatchOptions selects what Dispatch posts.
type DispatchOptions struct {
	Prefix string
	Object string
	DryRun bool
}

// Dispatch posts every object under opts.Prefix, or only opts.Object when
// set. In dry-run mode objects are logged instead of posted.
func (d *Dispatcher) Dispatch(ctx context.Context, opts DispatchOptions) error {
	if opts.Object != "" {
		// Single object mode
		return d.dispatch(ctx, worker.Task{Key: opts.Object}, opts.DryRun)
	}

	var totalObjects int64
	var totalSize int64
	token := ""

	for {
		page, err := d.lister.ListPage(ctx, opts.Prefix, token, d.pageSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &ListingError{Prefix: opts.Prefix, Token: token, Err: err}
		}

		d.logger.Debug("Listed page",
			zap.Int("objects", len(page.Objects)),
			zap.Bool("last", page.ContinuationToken == ""),
		)

		for _, obj := range page.Objects {
			if err := d.dispatch(ctx, worker.Task{Key: obj.Key, Size: obj.Size}, opts.DryRun); err != nil {
				return err
			}
			totalObjects++
			totalSize += obj.Size
		}

		if page.ContinuationToken == "" {
			break
		}
		token = page.ContinuationToken
	}

	d.logger.Info("Finished listing objects",
		zap.Int64("total_objects", totalObjects),
		zap.Int64("total_size_bytes", totalSize),
		zap.Bool("dry_run", opts.DryRun),
	)
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, task worker.Task, dryRun bool) error {
	if d.tracker != nil {
		d.tracker.AddListed()
	}

	if dryRun {
		d.logger.Info("Would migrate object",
			zap.String("key", task.Key),
			zap.Int64("size", task.Size),
		)
		return nil
	}

	if err := d.poster.Post(ctx, task); err != nil {
		return err
	}
	d.logger.Debug("Enqueued object", zap.String("key", task.Key))
	return nil
}
