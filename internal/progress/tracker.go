package progress

import (
	"sync"
	"time"
)

// maxFailures bounds the number of failure records kept for the summary.
const maxFailures = 100

// Status is a snapshot of run totals.
type Status struct {
	Succeeded      int64
	AlreadyExisted int64
	Failed         int64
	Skipped        int64
	Listed         int64
	UploadedBytes  int64
	StartTime      time.Time
}

// Processed returns the number of objects that reached a final state.
func (s Status) Processed() int64 {
	return s.Succeeded + s.AlreadyExisted + s.Failed + s.Skipped
}

// Failure describes one object that could not be migrated.
type Failure struct {
	Key        string
	StatusCode int
	Error      string
}

// Tracker accumulates run totals. It is safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	status   Status
	failures []Failure
}

// NewTracker creates a tracker starting now.
func NewTracker() *Tracker {
	return &Tracker{
		status: Status{StartTime: time.Now()},
	}
}

// AddListed counts one object handed to the pipeline.
func (t *Tracker) AddListed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Listed++
}

// AddSuccess counts one uploaded object.
func (t *Tracker) AddSuccess(bytes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Succeeded++
	t.status.UploadedBytes += int64(bytes)
}

// AddAlreadyExisted counts one object the server already had.
func (t *Tracker) AddAlreadyExisted(bytes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.AlreadyExisted++
	t.status.UploadedBytes += int64(bytes)
}

// AddSkipped counts one object skipped from the checkpoint.
func (t *Tracker) AddSkipped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Skipped++
}

// AddFailed counts one failed object and keeps its record for the summary.
func (t *Tracker) AddFailed(f Failure) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Failed++
	if len(t.failures) < maxFailures {
		t.failures = append(t.failures, f)
	}
}

// GetStatus returns the current totals.
func (t *Tracker) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Failures returns the recorded failures, oldest first.
func (t *Tracker) Failures() []Failure {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Failure, len(t.failures))
	copy(out, t.failures)
	return out
}
