package worker

import (
	"errors"
	"fmt"
)

// ErrPoolClosed is returned by Post after Complete.
var ErrPoolClosed = errors.New("worker pool is closed")

// FetchError reports that an object could not be read from the source.
type FetchError struct {
	Key string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// UploadError reports that an object was not ingested, either because the
// server rejected it or because retries ran out.
type UploadError struct {
	Key        string
	StatusCode int
	Body       string
	Retries    int
	Err        error
}

func (e *UploadError) Error() string {
	if e.StatusCode == 0 && e.Err != nil {
		return fmt.Sprintf("unable to upload %s after %d retries: %v", e.Key, e.Retries, e.Err)
	}
	return fmt.Sprintf("unable to upload %s to server: status %d after %d retries", e.Key, e.StatusCode, e.Retries)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}
