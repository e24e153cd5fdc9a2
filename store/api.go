package store

import (
	"context"
	"time"

	"github.com/IJSK10/fastkv/internal/pipeline"
)

// Store is a concurrent in-memory key/value store with per-key TTL and
// bounded capacity. All methods are safe for concurrent use.
//
// Get, Set and Remove are executed by the worker pipeline and wait for the
// result for at most Options.RequestTimeout.
type Store interface {
	// Set inserts or overwrites key. ttl == 0 means no expiry; a negative
	// ttl fails with ErrInvalidTTL.
	Set(key, value string, ttl time.Duration) error

	// Get returns the live value for key or ErrNotFound.
	Get(key string) (string, error)

	// Remove deletes key. It reports whether a live entry existed.
	Remove(key string) (bool, error)

	// SetAsync and RemoveAsync enqueue the operation and return at once.
	// The returned Future may be waited on or dropped.
	SetAsync(key, value string, ttl time.Duration) *Future
	RemoveAsync(key string) *Future

	// Snapshot returns every live entry, sorted by key.
	Snapshot() []Entry

	// Len returns the number of resident entries, including entries whose
	// deadline passed but which the expiry loop has not removed yet.
	Len() int

	Stats() Stats

	// Close drains the pipeline, stops background loops and runs a final
	// reclamation pass. Further calls fail with ErrClosed.
	Close() error
}

// Entry is one live key/value pair. A zero ExpiresAt means no expiry.
type Entry struct {
	Key          string
	Value        string
	ExpiresAt    time.Time
	LastAccessed time.Time
}

// Stats is a point-in-time view of store counters.
type Stats struct {
	Entries        int
	Buckets        int
	Hits           uint64
	Misses         uint64
	Evictions      uint64
	Expirations    uint64
	Reclaimed      uint64
	PendingReclaim int
	Workers        int
	Queued         int
}

// Future is the handle of an asynchronous mutation.
type Future struct {
	ticket *pipeline.Ticket[response]
	err    error
	s      *store
}

// Wait blocks until the operation completes or ctx is done. existed reports
// whether a live entry for the key was present before the operation.
func (f *Future) Wait(ctx context.Context) (existed bool, err error) {
	if f.err != nil {
		return false, f.err
	}
	res, err := f.ticket.Wait(ctx)
	if err != nil {
		return false, f.s.translate(err)
	}
	return res.found, nil
}
