// Package expiry drives proactive removal of entries whose TTL has lapsed.
//
// A Scheduler keeps a min-heap of (deadline, key) pairs and a loop that
// sleeps until the earliest deadline, waking early when a sooner one is
// scheduled. Popped keys are handed to an expire callback, which must be
// idempotent: heap entries are hints, not facts.
package expiry

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxWait bounds one sleep of the loop. Shutdown is observed within it.
const DefaultMaxWait = time.Second

// Options configures a Scheduler. Zero values are safe.
type Options struct {
	// MaxWait caps a single wait (<= 0 => DefaultMaxWait).
	MaxWait time.Duration
	// Now returns the current time in UnixNano (nil => time.Now).
	Now func() int64
	// Logger receives recovered callback panics (nil => no-op).
	Logger *zap.Logger
}

// Scheduler is a deadline-ordered expiry queue with a background loop.
// Schedule is safe for concurrent use; Run must be called once.
type Scheduler struct {
	mu sync.Mutex
	h  deadlines // guarded by mu; never held across expire

	wake   chan struct{} // capacity 1; coalesces early wake-ups
	expire func(key string)

	maxWait time.Duration
	now     func() int64
	log     *zap.Logger
}

// New builds a Scheduler that calls expire for every popped key.
func New(expire func(key string), opt Options) *Scheduler {
	if opt.MaxWait <= 0 {
		opt.MaxWait = DefaultMaxWait
	}
	if opt.Now == nil {
		opt.Now = func() int64 { return time.Now().UnixNano() }
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	return &Scheduler{
		wake:    make(chan struct{}, 1),
		expire:  expire,
		maxWait: opt.MaxWait,
		now:     opt.Now,
		log:     opt.Logger,
	}
}

// Schedule registers key to be expired at (UnixNano). If at is earlier than
// every pending deadline, the loop is woken so it can shorten its sleep.
func (s *Scheduler) Schedule(key string, at int64) {
	s.mu.Lock()
	sooner := len(s.h) == 0 || at < s.h[0].at
	heap.Push(&s.h, item{at: at, key: key})
	s.mu.Unlock()

	if sooner {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

// Len returns the number of pending (possibly stale) deadlines.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.h)
}

// Run sleeps until the earliest deadline, pops everything due, and expires
// it. It returns nil when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(s.maxWait)
	defer timer.Stop()

	for {
		wait := s.nextWait()
		if wait > 0 {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(wait)

			select {
			case <-ctx.Done():
				return nil
			case <-s.wake:
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		for _, k := range s.popDue() {
			if ctx.Err() != nil {
				return nil
			}
			s.safeExpire(k)
		}
	}
}

// nextWait returns how long to sleep before the earliest deadline, capped
// at maxWait. Zero or less means something is already due.
func (s *Scheduler) nextWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.h) == 0 {
		return s.maxWait
	}
	d := time.Duration(s.h[0].at - s.now())
	if d > s.maxWait {
		return s.maxWait
	}
	return d
}

// popDue removes and returns every key whose deadline has passed. The clock
// is read only when something is queued.
func (s *Scheduler) popDue() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.h) == 0 {
		return nil
	}
	now := s.now()
	var due []string
	for len(s.h) > 0 && s.h[0].at <= now {
		due = append(due, heap.Pop(&s.h).(item).key)
	}
	return due
}

func (s *Scheduler) safeExpire(key string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("expiry callback panicked",
				zap.String("key", key),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	s.expire(key)
}
