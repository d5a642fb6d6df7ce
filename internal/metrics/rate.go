package metrics

import (
	"sync"
	"time"
)

// Rate counts completion events and reports how many happened per second
// over a trailing window.
type Rate struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	events []time.Time // ascending in practice; pruned from the front
	total  int64
}

// NewRate creates a rate over the given window. now may be nil.
func NewRate(window time.Duration, now func() time.Time) *Rate {
	if window <= 0 {
		window = time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &Rate{
		window: window,
		now:    now,
	}
}

// Collect records one event at ts.
func (r *Rate) Collect(ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ts)
	r.total++
	r.prune(ts)
}

// EventsPerSecond returns the number of events inside the window ending now,
// divided by the window length.
func (r *Rate) EventsPerSecond() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.prune(now)

	n := 0
	for _, ts := range r.events {
		if !ts.After(now) {
			n++
		}
	}
	return float64(n) / r.window.Seconds()
}

// Count returns the number of events collected since creation.
func (r *Rate) Count() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Window returns the averaging window.
func (r *Rate) Window() time.Duration {
	return r.window
}

// prune drops leading events older than the window. Must be called with the
// lock held.
func (r *Rate) prune(now time.Time) {
	cutoff := now.Add(-r.window)

	i := 0
	for i < len(r.events) && !r.events[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return
	}

	// Reuse the backing array once more than half of it is dead.
	if i > cap(r.events)/2 {
		r.events = append(r.events[:0], r.events[i:]...)
		return
	}
	r.events = r.events[i:]
}
