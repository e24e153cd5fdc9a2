package expiry

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

// recorder collects expired keys.
type recorder struct {
	mu   sync.Mutex
	keys []string
}

func newRecorder() *recorder { return &recorder{} }

func (r *recorder) expire(k string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, k)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func start(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var g errgroup.Group
	g.Go(func() error { return s.Run(ctx) })
	t.Cleanup(func() {
		cancel()
		if err := g.Wait(); err != nil {
			t.Errorf("Run: %v", err)
		}
	})
}

// Keys are expired in deadline order, not scheduling order.
func TestScheduler_ExpiresInDeadlineOrder(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	s := New(rec.expire, Options{MaxWait: 50 * time.Millisecond})
	start(t, s)

	now := time.Now()
	s.Schedule("late", now.Add(120*time.Millisecond).UnixNano())
	s.Schedule("early", now.Add(40*time.Millisecond).UnixNano())

	waitFor(t, 2*time.Second, func() bool { return len(rec.snapshot()) == 2 })

	got := rec.snapshot()
	if got[0] != "early" || got[1] != "late" {
		t.Fatalf("order: got %v", got)
	}
	if s.Len() != 0 {
		t.Fatalf("heap must be empty, Len=%d", s.Len())
	}
}

// A sooner deadline wakes a loop that is sleeping on a later one.
func TestScheduler_EarlyWake(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	s := New(rec.expire, Options{MaxWait: 10 * time.Second})
	start(t, s)

	s.Schedule("far", time.Now().Add(time.Hour).UnixNano())
	time.Sleep(20 * time.Millisecond) // loop is now parked on the long wait

	begin := time.Now()
	s.Schedule("near", time.Now().Add(30*time.Millisecond).UnixNano())

	waitFor(t, 2*time.Second, func() bool { return len(rec.snapshot()) == 1 })
	if took := time.Since(begin); took > time.Second {
		t.Fatalf("early wake too slow: %v", took)
	}
	if got := rec.snapshot(); got[0] != "near" {
		t.Fatalf("expired %v, want [near]", got)
	}
}

// Already-lapsed deadlines are processed immediately.
func TestScheduler_PastDeadline(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	s := New(rec.expire, Options{MaxWait: time.Second})
	start(t, s)

	s.Schedule("gone", time.Now().Add(-time.Second).UnixNano())
	waitFor(t, time.Second, func() bool { return len(rec.snapshot()) == 1 })
}

// A panicking callback does not stop the loop.
func TestScheduler_CallbackPanicIsContained(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	s := New(func(k string) {
		if k == "bad" {
			panic("boom")
		}
		rec.expire(k)
	}, Options{MaxWait: 20 * time.Millisecond})
	start(t, s)

	now := time.Now().UnixNano()
	s.Schedule("bad", now)
	s.Schedule("good", now+int64(10*time.Millisecond))

	waitFor(t, time.Second, func() bool { return len(rec.snapshot()) == 1 })
}

// Cancellation is observed within one bounded wait.
func TestScheduler_ShutdownIsBounded(t *testing.T) {
	t.Parallel()

	s := New(func(string) {}, Options{MaxWait: 50 * time.Millisecond})
	s.Schedule("far", time.Now().Add(time.Hour).UnixNano())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// An injected clock decides what is due.
func TestScheduler_InjectedClock(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var fake int64 = 1_000

	rec := newRecorder()
	s := New(rec.expire, Options{
		MaxWait: 10 * time.Millisecond,
		Now: func() int64 {
			mu.Lock()
			defer mu.Unlock()
			return fake
		},
	})
	start(t, s)

	deadline := int64(1_000) + int64(time.Hour)
	s.Schedule("k", deadline)
	time.Sleep(50 * time.Millisecond)
	if len(rec.snapshot()) != 0 {
		t.Fatal("must not expire before the clock reaches the deadline")
	}

	mu.Lock()
	fake = deadline
	mu.Unlock()
	waitFor(t, time.Second, func() bool { return len(rec.snapshot()) == 1 })
}
