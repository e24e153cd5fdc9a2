// Package store provides a concurrent in-memory key/value store with per-key
// TTL expiry and bounded-capacity eviction.
//
// Design
//
//   - Table: a bucketed hash table (power-of-two buckets, FNV-1a) whose
//     chains are copy-on-write. Lookups take no lock and pin nodes with a
//     reference count while walking. Every mutation publishes through one
//     CAS on the bucket head and retries on conflict; the last successful
//     CAS wins.
//
//   - Reclamation: nodes cut out of a chain are retired, not dropped. A
//     sweep frees a retired node only once no reader holds it. Close runs
//     a final pass and logs any node a reader never released.
//
//   - Resize: the capacity monitor grows the bucket array above the GrowAt
//     load factor and shrinks it below ShrinkAt. Resize briefly excludes
//     writers; readers keep going on the generation they started with.
//
//   - Recency: a policy.Tracker (LRU by default, 2Q optional) orders keys.
//     When the table holds more than Capacity entries the monitor evicts
//     tracker victims.
//
//   - TTL: an expiry scheduler removes entries proactively at their
//     deadline. Lookups also treat lapsed entries as absent, so an entry
//     is never served past its deadline.
//
//   - Requests: Get, Set and Remove run on a fixed worker pool fed by a
//     bounded queue. Callers block for at most Options.RequestTimeout and
//     get ErrTimeout past it. SetAsync and RemoveAsync return a Future.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/Size/Reclaimed
//     signals. NoopMetrics is the default; metrics/prom exports them.
//
// Basic usage
//
//	s := store.New(store.Options{Capacity: 10_000})
//	defer s.Close()
//
//	_ = s.Set("a", "1", 0)
//	_ = s.Set("session", "tok", 30*time.Second)
//	v, err := s.Get("a") // "1", nil
//	ok, _ := s.Remove("a")
//	_, err = s.Get("a") // ErrNotFound
//
// Using 2Q and Prometheus
//
//	s := store.New(store.Options{
//	    Capacity: 50_000,
//	    Policy:   twoq.New(12_500, 25_000),
//	    Metrics:  prom.New(nil, "fastkv", "store", nil),
//	})
package store
