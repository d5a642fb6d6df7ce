package retry

import (
	"fmt"
	"net/http"
	"slices"
)

// Kind classifies the result of one upload attempt.
type Kind int

const (
	KindSuccess Kind = iota
	KindAlreadyExists
	KindRetryable
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindAlreadyExists:
		return "already_exists"
	case KindRetryable:
		return "retryable"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Response is the raw result of one call to the ingestion server.
type Response struct {
	StatusCode int
	Body       []byte
}

// Outcome is the final result of Policy.Do.
type Outcome struct {
	Kind       Kind
	StatusCode int
	Body       []byte
	// AlreadyExisted is set when the server answered with the conflict
	// status. Kind is KindSuccess in that case.
	AlreadyExisted bool
	// Retries is the number of waits taken before the final attempt.
	Retries int
	// Err is the transport error of the last attempt, if any.
	Err error
}

// Succeeded reports whether the outcome counts as an ingested object.
func (o Outcome) Succeeded() bool {
	return o.Kind == KindSuccess
}

// Classifier maps response status codes to outcome kinds.
type Classifier struct {
	// ConflictStatus is the status meaning the object is already on the
	// server. Defaults to 409.
	ConflictStatus int
	// FatalStatuses are failure statuses that are never retried. Every other
	// non-success status is retried.
	FatalStatuses []int
}

// Classify returns the kind for an attempt. A non-nil err is a transport
// failure and is always retryable.
func (c Classifier) Classify(status int, err error) Kind {
	if err != nil {
		return KindRetryable
	}

	conflict := c.ConflictStatus
	if conflict == 0 {
		conflict = http.StatusConflict
	}

	switch {
	case status >= 200 && status <= 299:
		return KindSuccess
	case status == conflict:
		return KindAlreadyExists
	case slices.Contains(c.FatalStatuses, status):
		return KindFatal
	default:
		return KindRetryable
	}
}
