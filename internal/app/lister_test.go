package app

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"blob2dicomweb/internal/progress"
	"blob2dicomweb/internal/worker"
)

type recordingPoster struct {
	tasks []worker.Task
	err   error
}

func (p *recordingPoster) Post(_ context.Context, task worker.Task) error {
	if p.err != nil {
		return p.err
	}
	p.tasks = append(p.tasks, task)
	return nil
}

func keysOf(tasks []worker.Task) []string {
	keys := make([]string, len(tasks))
	for i, task := range tasks {
		keys[i] = task.Key
	}
	return keys
}

func TestDispatchWalksEveryPage(t *testing.T) {
	src := memorySource()
	for i := 0; i < 7; i++ {
		src.Put(fmt.Sprintf("study/%02d.dcm", i), []byte("x"))
	}
	src.Put("other/skip.dcm", []byte("x"))

	poster := &recordingPoster{}
	tracker := progress.NewTracker()
	d := &Dispatcher{lister: src, poster: poster, tracker: tracker, pageSize: 3, logger: zap.NewNop()}

	require.NoError(t, d.Dispatch(context.Background(), DispatchOptions{Prefix: "study/"}))

	assert.Equal(t, []string{
		"study/00.dcm", "study/01.dcm", "study/02.dcm", "study/03.dcm",
		"study/04.dcm", "study/05.dcm", "study/06.dcm",
	}, keysOf(poster.tasks))
	assert.Equal(t, int64(1), poster.tasks[0].Size)
	assert.Equal(t, int64(7), tracker.GetStatus().Listed)
}

func TestDispatchEmptyListing(t *testing.T) {
	poster := &recordingPoster{}
	d := &Dispatcher{lister: memorySource(), poster: poster, pageSize: 10, logger: zap.NewNop()}

	require.NoError(t, d.Dispatch(context.Background(), DispatchOptions{}))
	assert.Empty(t, poster.tasks)
}

func TestDispatchSingleObjectSkipsListing(t *testing.T) {
	src := memorySource("A")
	src.ListErr = errors.New("listing must not be called")
	poster := &recordingPoster{}
	d := &Dispatcher{lister: src, poster: poster, pageSize: 10, logger: zap.NewNop()}

	require.NoError(t, d.Dispatch(context.Background(), DispatchOptions{Object: "A"}))
	assert.Equal(t, []string{"A"}, keysOf(poster.tasks))
}

func TestDispatchDryRunLogsWithoutPosting(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	poster := &recordingPoster{}
	d := &Dispatcher{lister: memorySource("A", "B"), poster: poster, pageSize: 1, logger: zap.New(core)}

	require.NoError(t, d.Dispatch(context.Background(), DispatchOptions{DryRun: true}))

	assert.Empty(t, poster.tasks)
	assert.Equal(t, 2, logs.FilterMessage("Would migrate object").Len())
	finished := logs.FilterMessage("Finished listing objects").All()
	require.Len(t, finished, 1)
	assert.Equal(t, int64(2), finished[0].ContextMap()["total_objects"])
}

func TestDispatchStopsOnPostError(t *testing.T) {
	postErr := errors.New("worker pool aborted")
	poster := &recordingPoster{err: postErr}
	d := &Dispatcher{lister: memorySource("A", "B"), poster: poster, pageSize: 10, logger: zap.NewNop()}

	err := d.Dispatch(context.Background(), DispatchOptions{})
	assert.ErrorIs(t, err, postErr)

	var listErr *ListingError
	assert.False(t, errors.As(err, &listErr))
}

func TestListingErrorWrapsCause(t *testing.T) {
	cause := errors.New("403 forbidden")
	src := memorySource("A")
	src.ListErr = cause
	d := &Dispatcher{lister: src, poster: &recordingPoster{}, pageSize: 10, logger: zap.NewNop()}

	err := d.Dispatch(context.Background(), DispatchOptions{Prefix: "2024/"})

	var listErr *ListingError
	require.True(t, errors.As(err, &listErr))
	assert.Equal(t, "2024/", listErr.Prefix)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), `prefix "2024/"`)
}
