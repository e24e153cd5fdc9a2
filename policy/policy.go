// Package policy defines the recency tracker used for capacity eviction.
package policy

// Tracker keeps keys in recency order and supplies eviction victims.
//
// Concurrency: implementations are safe for concurrent use and guard their
// list and index with one dedicated lock. That lock is independent of the
// store's table; callers never hold it across a table operation, so the key
// set may briefly lag the live table. The store reconciles the two.
type Tracker interface {
	// Touch records a use of key (insert if new).
	Touch(key string)
	// Forget drops key from the order (no-op if absent).
	Forget(key string)
	// Victim pops the next key to evict. ok is false when empty.
	Victim() (key string, ok bool)
	// Keys returns the tracked keys, most-recently-used first.
	Keys() []string
	// Len returns the number of tracked keys.
	Len() int
}

// Policy is a factory that builds a Tracker sized for a store's capacity.
type Policy interface {
	New(capacity int) Tracker
}
