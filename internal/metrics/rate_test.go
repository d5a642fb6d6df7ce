package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRateEventsPerSecond(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	r := NewRate(5*time.Second, clock.Now)

	assert.Equal(t, 0.0, r.EventsPerSecond())

	for i := 0; i < 10; i++ {
		r.Collect(clock.Now())
	}
	assert.Equal(t, 2.0, r.EventsPerSecond())

	clock.Advance(3 * time.Second)
	for i := 0; i < 5; i++ {
		r.Collect(clock.Now())
	}
	assert.Equal(t, 3.0, r.EventsPerSecond())

	// The first ten events fall out of the window.
	clock.Advance(2500 * time.Millisecond)
	assert.Equal(t, 1.0, r.EventsPerSecond())

	clock.Advance(time.Minute)
	assert.Equal(t, 0.0, r.EventsPerSecond())
	assert.Equal(t, int64(15), r.Count())
}

func TestRatePrunesOldEvents(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	r := NewRate(time.Second, clock.Now)

	for i := 0; i < 10000; i++ {
		r.Collect(clock.Now())
		clock.Advance(10 * time.Millisecond)
	}

	r.mu.Lock()
	held := len(r.events)
	r.mu.Unlock()
	assert.LessOrEqual(t, held, 101)
	assert.Equal(t, int64(10000), r.Count())
}

func TestRateConcurrentCollect(t *testing.T) {
	r := NewRate(time.Hour, nil)

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				r.Collect(time.Now())
				_ = r.EventsPerSecond()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(8000), r.Count())
	assert.InDelta(t, 8000/time.Hour.Seconds(), r.EventsPerSecond(), 1e-9)
}

func TestNewRateDefaults(t *testing.T) {
	r := NewRate(0, nil)
	assert.Equal(t, time.Second, r.Window())
}
