package worker

import (
	"time"

	"blob2dicomweb/internal/retry"
)

// Task is one object handed to the pool.
type Task struct {
	Key string `json:"key"`
	// Size is the listing-reported size; 0 when unknown.
	Size int64 `json:"size"`
}

// Config contains processor configuration.
type Config struct {
	// Source names the source in checkpoint records.
	Source string
	// StartupJitter bounds the random delay before each task starts.
	StartupJitter time.Duration
	// Resume skips tasks the checkpoint records as completed.
	Resume bool
	// Rand drives the startup jitter. Defaults to retry.GlobalRand.
	Rand retry.Rand
}
