package store

import (
	"time"

	"go.uber.org/zap"

	"github.com/IJSK10/fastkv/policy"
)

// EvictReason explains why an entry was removed by the store itself.
type EvictReason int

const (
	// EvictCapacity: removed by the recency tracker to respect Capacity.
	EvictCapacity EvictReason = iota
	// EvictTTL: removed by the expiry scheduler after its deadline.
	EvictTTL
)

func (r EvictReason) String() string {
	switch r {
	case EvictCapacity:
		return "capacity"
	case EvictTTL:
		return "ttl"
	default:
		return "unknown"
	}
}

// Metrics exposes store-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	// Size reports the resident entry count and the bucket count.
	Size(entries, buckets int)
	// Reclaimed reports nodes freed by a reclamation pass and nodes still
	// waiting for their readers.
	Reclaimed(freed, pending int)
}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

type wallClock struct{}

func (wallClock) NowUnixNano() int64 { return time.Now().UnixNano() }

// Defaults applied by New.
const (
	DefaultBuckets        = 64
	DefaultMinBuckets     = 16
	DefaultMaxBuckets     = 1 << 20
	DefaultGrowAt         = 0.75
	DefaultShrinkAt       = 0.25
	DefaultRequestTimeout = 5 * time.Second
	DefaultSweepInterval  = time.Second
)

// Options configures the store. Zero values are safe;
// sane defaults are applied in New():
//   - Buckets <= 0        => DefaultBuckets, clamped to [MinBuckets, MaxBuckets]
//   - GrowAt/ShrinkAt     => 0.75 / 0.25
//   - Workers <= 0        => GOMAXPROCS (minimum 2)
//   - RequestTimeout <= 0 => 5s
//   - nil Policy          => LRU
//   - nil Metrics         => NoopMetrics
//   - nil Clock           => wall clock
//   - nil Logger          => zap.NewNop()
type Options struct {
	// Capacity is the maximum number of resident entries. Required.
	Capacity int

	// Buckets is the initial bucket count (rounded up to a power of two).
	// The capacity monitor grows the table above GrowAt load and shrinks it
	// below ShrinkAt, never leaving [MinBuckets, MaxBuckets].
	Buckets    int
	MinBuckets int
	MaxBuckets int
	GrowAt     float64
	ShrinkAt   float64

	// Worker pipeline.
	Workers        int
	QueueSize      int
	RequestTimeout time.Duration

	// SweepInterval paces the capacity monitor.
	SweepInterval time.Duration
	// MaxExpiryWait bounds how long the expiry loop sleeps, and so how
	// quickly it notices shutdown.
	MaxExpiryWait time.Duration

	// Policy builds the recency tracker; nil => LRU.
	Policy policy.Policy

	Metrics Metrics
	Clock   Clock
	Logger  *zap.Logger
}
