package progress

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackerCounts(t *testing.T) {
	tr := NewTracker()

	tr.AddListed()
	tr.AddListed()
	tr.AddListed()
	tr.AddListed()
	tr.AddSuccess(100)
	tr.AddAlreadyExisted(50)
	tr.AddSkipped()
	tr.AddFailed(Failure{Key: "d", StatusCode: 400, Error: "bad request"})

	s := tr.GetStatus()
	assert.Equal(t, int64(4), s.Listed)
	assert.Equal(t, int64(1), s.Succeeded)
	assert.Equal(t, int64(1), s.AlreadyExisted)
	assert.Equal(t, int64(1), s.Skipped)
	assert.Equal(t, int64(1), s.Failed)
	assert.Equal(t, int64(150), s.UploadedBytes)
	assert.Equal(t, int64(4), s.Processed())
	assert.Equal(t, []Failure{{Key: "d", StatusCode: 400, Error: "bad request"}}, tr.Failures())
}

func TestTrackerBoundsFailures(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < maxFailures*2; i++ {
		tr.AddFailed(Failure{Key: fmt.Sprintf("k%d", i)})
	}

	assert.Equal(t, int64(maxFailures*2), tr.GetStatus().Failed)
	assert.Len(t, tr.Failures(), maxFailures)
}

func TestTrackerConcurrent(t *testing.T) {
	tr := NewTracker()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				tr.AddSuccess(1)
			}
		}()
	}
	wg.Wait()

	s := tr.GetStatus()
	assert.Equal(t, int64(8000), s.Succeeded)
	assert.Equal(t, int64(8000), s.UploadedBytes)
}
