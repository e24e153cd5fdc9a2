package store

import "github.com/pkg/errors"

var (
	// ErrNotFound reports a key that was never set, was removed, evicted or
	// has expired. It is an expected outcome and is never logged.
	ErrNotFound = errors.New("store: key not found")
	// ErrTimeout reports that a request was not answered within
	// Options.RequestTimeout. The operation may still complete later.
	ErrTimeout = errors.New("store: request timed out")
	// ErrInternal wraps an unexpected failure inside a worker.
	ErrInternal = errors.New("store: internal error")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("store: closed")
	// ErrInvalidTTL rejects a negative time-to-live.
	ErrInvalidTTL = errors.New("store: ttl must not be negative")
)
