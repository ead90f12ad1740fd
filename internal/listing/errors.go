package listing

import (
	"errors"
	"fmt"
)

// ErrCycleRunning is returned when a cycle is requested while another one
// is still in flight. The caller treats it as a no-op, not a failure.
var ErrCycleRunning = errors.New("monitoring cycle already running")

// ErrNotFound is returned by stores when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// InvalidListingError rejects a candidate that cannot be normalized.
// It is isolated to the single candidate; the rest of the batch proceeds.
type InvalidListingError struct {
	Field  string
	Reason string
}

func (e *InvalidListingError) Error() string {
	return fmt.Sprintf("invalid listing: %s %s", e.Field, e.Reason)
}

// AdapterError wraps a transport or parse failure inside a source adapter.
// It is isolated to one (source, topic) pair.
type AdapterError struct {
	Source string
	Err    error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter %s: %v", e.Source, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// SourceUnavailableError marks a source whose adapter could not even be
// constructed (missing credentials, bad config). The source is skipped
// for the whole cycle.
type SourceUnavailableError struct {
	Source string
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Source, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }
