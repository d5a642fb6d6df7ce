package retry

import (
	"math/rand/v2"
	"time"
)

// DefaultBaseDelays are the backoff steps before jitter is applied.
var DefaultBaseDelays = []time.Duration{
	2 * time.Second,
	3 * time.Second,
	5 * time.Second,
	8 * time.Second,
	12 * time.Second,
	16 * time.Second,
}

// DefaultJitter is the upper bound of the random delay added to each step.
const DefaultJitter = 50 * time.Millisecond

// Rand is the source of randomness for jitter. *rand.Rand from math/rand/v2
// satisfies it.
type Rand interface {
	Int64N(n int64) int64
}

type globalRand struct{}

func (globalRand) Int64N(n int64) int64 { return rand.Int64N(n) }

// GlobalRand returns a Rand backed by the math/rand/v2 package functions.
// It is safe for concurrent use.
func GlobalRand() Rand {
	return globalRand{}
}

// NewSchedule returns a copy of base with an independent random jitter in
// [0, maxJitter) added to each step. The jitter is fixed for the lifetime of
// the returned schedule.
func NewSchedule(base []time.Duration, maxJitter time.Duration, rnd Rand) []time.Duration {
	if rnd == nil {
		rnd = GlobalRand()
	}

	schedule := make([]time.Duration, len(base))
	for i, d := range base {
		schedule[i] = d
		if maxJitter > 0 {
			schedule[i] += time.Duration(rnd.Int64N(int64(maxJitter)))
		}
	}
	return schedule
}
