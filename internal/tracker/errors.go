package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable marks a tracker call that kept failing after the retry
	// budget was spent.
	ErrUnavailable = errors.New("tracker unavailable")

	// ErrAuth marks missing or rejected credentials.
	ErrAuth = errors.New("tracker authentication failed")

	// ErrNotFound is returned when the tracker does not know the requested
	// user or issue.
	ErrNotFound = errors.New("not found")
)

// UnavailableError carries the request that exhausted its retries.
type UnavailableError struct {
	Op  string
	URL string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.URL, ErrUnavailable, e.Err)
}

func (e *UnavailableError) Unwrap() []error {
	return []error{ErrUnavailable, e.Err}
}

// HTTPError is a non-retryable HTTP failure.
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// ErrNotInitialized is returned when an adapter is used before Init is called.
type ErrNotInitialized struct {
	Tracker string
}

func (e *ErrNotInitialized) Error() string {
	return e.Tracker + " tracker not initialized; call Init() first"
}
