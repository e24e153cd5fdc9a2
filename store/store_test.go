package store

import (
	"context"
	"errors"
	"math"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IJSK10/fastkv/policy/twoq"
)

type fakeClock struct{ t atomic.Int64 }

func newFakeClock() *fakeClock {
	c := &fakeClock{}
	c.t.Store(int64(time.Hour))
	return c
}

func (f *fakeClock) NowUnixNano() int64  { return f.t.Load() }
func (f *fakeClock) add(d time.Duration) { f.t.Add(int64(d)) }

// gateClock blocks (or panics) inside workers on demand.
type gateClock struct {
	block atomic.Bool
	boom  atomic.Bool
	gate  chan struct{}
}

func (g *gateClock) NowUnixNano() int64 {
	if g.boom.Load() {
		panic("clock failure")
	}
	if g.block.Load() {
		<-g.gate
	}
	return time.Now().UnixNano()
}

func newTestStore(t *testing.T, opt Options) *store {
	t.Helper()
	s := New(opt).(*store)
	t.Cleanup(func() { _ = s.Close() })
	return s
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

func TestStore_SetGetRemove(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, Options{Capacity: 8})

	if err := s.Set("a", "1", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, err := s.Get("a"); err != nil || v != "1" {
		t.Fatalf("Get a = %q, %v", v, err)
	}
	if err := s.Set("a", "11", 0); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.Get("a"); v != "11" {
		t.Fatalf("overwrite: got %q", v)
	}

	if ok, err := s.Remove("a"); err != nil || !ok {
		t.Fatalf("Remove a = %v, %v", ok, err)
	}
	if _, err := s.Get("a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d", s.Len())
	}
}

func TestStore_GetNeverSet(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, Options{Capacity: 8})
	if _, err := s.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if st := s.Stats(); st.Misses != 1 || st.Hits != 0 {
		t.Fatalf("stats: %+v", st)
	}
}

// Removing twice yields true then false with identical final state.
func TestStore_RemoveIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, Options{Capacity: 8})
	_ = s.Set("k", "v", 0)

	first, _ := s.Remove("k")
	second, _ := s.Remove("k")
	if !first || second {
		t.Fatalf("Remove twice = %v, %v; want true, false", first, second)
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d", s.Len())
	}
}


// Repeating an identical Set leaves one entry.
func TestStore_SetIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, Options{Capacity: 8})
	for i := 0; i < 5; i++ {
		if err := s.Set("k", "v", 0); err != nil {
			t.Fatal(err)
		}
		if s.Len() != 1 {
			t.Fatalf("after Set #%d: Len = %d", i+1, s.Len())
		}
	}
	if st := s.Stats(); st.Entries != 1 {
		t.Fatalf("stats entries = %d", st.Entries)
	}
}
func TestStore_NegativeTTL(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, Options{Capacity: 8})
	if err := s.Set("k", "v", -time.Second); !errors.Is(err, ErrInvalidTTL) {
		t.Fatalf("want ErrInvalidTTL, got %v", err)
	}
	if _, err := s.SetAsync("k", "v", -1).Wait(context.Background()); !errors.Is(err, ErrInvalidTTL) {
		t.Fatalf("async: want ErrInvalidTTL, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatal("rejected Set must not store")
	}
}


// A TTL past the int64 deadline range saturates instead of wrapping into
// the past.
func TestStore_HugeTTL(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	s := newTestStore(t, Options{Capacity: 8, Clock: clk})

	if err := s.Set("a", "x", time.Duration(math.MaxInt64)); err != nil {
		t.Fatal(err)
	}
	if v, err := s.Get("a"); err != nil || v != "x" {
		t.Fatalf("Get a = %q, %v", v, err)
	}
	clk.add(200 * 365 * 24 * time.Hour)
	if v, err := s.Get("a"); err != nil || v != "x" {
		t.Fatalf("Get a after 200y = %q, %v", v, err)
	}
	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].ExpiresAt.UnixNano() != math.MaxInt64 {
		t.Fatalf("snapshot = %+v", snap)
	}

	if d := deadline(100, time.Duration(math.MaxInt64-50)); d != math.MaxInt64 {
		t.Fatalf("deadline saturates: got %d", d)
	}
	if d := deadline(100, time.Second); d != 100+int64(time.Second) {
		t.Fatalf("deadline = %d", d)
	}
	if d := deadline(100, 0); d != 0 {
		t.Fatalf("zero ttl deadline = %d", d)
	}
}
// Uses a fake clock to avoid timing flakiness.
// A lapsed entry is invisible at once and removed by the expiry loop.
func TestStore_TTL_FakeClock(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	s := newTestStore(t, Options{Capacity: 8, Clock: clk, MaxExpiryWait: 10 * time.Millisecond})

	_ = s.Set("x", "v", 100*time.Millisecond)
	_ = s.Set("keep", "v", 0)
	if _, err := s.Get("x"); err != nil {
		t.Fatalf("fresh miss: %v", err)
	}

	clk.add(200 * time.Millisecond)
	if _, err := s.Get("x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired hit: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return s.Len() == 1 })

	if st := s.Stats(); st.Expirations != 1 {
		t.Fatalf("expirations = %d", st.Expirations)
	}
	if _, err := s.Get("keep"); err != nil {
		t.Fatalf("untimed key lost: %v", err)
	}
}

// Wall-clock TTL: a 1s entry is gone after 1.5s.
func TestStore_TTL_WallClock(t *testing.T) {
	t.Parallel()
	if testing.Short() {
		t.Skip("sleeps 1.5s")
	}

	s := newTestStore(t, Options{Capacity: 8})
	_ = s.Set("k", "v", time.Second)
	time.Sleep(1500 * time.Millisecond)

	if _, err := s.Get("k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound after 1.5s, got %v", err)
	}
}

// A key refreshed after its TTL was scheduled survives the stale deadline.
func TestStore_RefreshBeatsStaleDeadline(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	s := newTestStore(t, Options{Capacity: 8, Clock: clk})

	_ = s.Set("k", "old", 100*time.Millisecond)
	_ = s.Set("k", "new", 0)
	clk.add(time.Second)

	s.expire("k") // the stale heap entry firing
	if v, err := s.Get("k"); err != nil || v != "new" {
		t.Fatalf("refreshed key: %q, %v", v, err)
	}
}

// Deterministic LRU eviction: inserting C+1 keys leaves C after one pass,
// and the least recently used key goes.
func TestStore_EvictionLRU(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, Options{Capacity: 2})

	_ = s.Set("a", "1", 0) // LRU = a
	_ = s.Set("b", "2", 0) // MRU = b
	if _, err := s.Get("a"); err != nil { // promote a -> MRU
		t.Fatal("expect hit for a")
	}
	_ = s.Set("c", "3", 0) // overflow

	s.maintain()
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
	if _, err := s.Get("b"); !errors.Is(err, ErrNotFound) {
		t.Fatal("b must be evicted")
	}
	if _, err := s.Get("a"); err != nil {
		t.Fatal("a must survive (promoted)")
	}
	if v, err := s.Get("c"); err != nil || v != "3" {
		t.Fatal("c must be present")
	}
	if st := s.Stats(); st.Evictions != 1 {
		t.Fatalf("evictions = %d", st.Evictions)
	}
}

// The monitor enforces capacity on its own once kicked.
func TestStore_MonitorEnforcesCapacity(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, Options{Capacity: 10, SweepInterval: time.Hour})
	for i := 0; i < 50; i++ {
		_ = s.Set("k"+strconv.Itoa(i), "v", 0)
	}
	waitFor(t, 2*time.Second, func() bool { return s.Len() <= 10 })
}

// With 2Q, a scan of one-hit keys is absorbed by A1in and the promoted
// working set survives.
func TestStore_TwoQPolicy(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, Options{Capacity: 5, Policy: twoq.New(1, 4)})
	for i := 0; i < 4; i++ {
		_ = s.Set("hot"+strconv.Itoa(i), "v", 0)
		_, _ = s.Get("hot" + strconv.Itoa(i)) // promote to Am
	}
	for i := 0; i < 8; i++ {
		_ = s.Set("scan"+strconv.Itoa(i), "v", 0)
	}
	s.maintain()

	if s.Len() > 5 {
		t.Fatalf("Len = %d", s.Len())
	}
	for i := 0; i < 4; i++ {
		if _, err := s.Get("hot" + strconv.Itoa(i)); err != nil {
			t.Fatalf("hot%d evicted by a scan", i)
		}
	}
}

func TestStore_ResizeWatermarks(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, Options{
		Capacity:      10_000,
		Buckets:       16,
		MinBuckets:    16,
		SweepInterval: time.Hour,
	})
	for i := 0; i < 1000; i++ {
		_ = s.Set("k"+strconv.Itoa(i), "v", 0)
	}
	s.maintain()
	if b := s.Stats().Buckets; float64(1000)/float64(b) > DefaultGrowAt {
		t.Fatalf("buckets = %d, load above grow watermark", b)
	}
	for i := 0; i < 1000; i++ {
		if v, err := s.Get("k" + strconv.Itoa(i)); err != nil || v != "v" {
			t.Fatalf("k%d after grow: %q, %v", i, v, err)
		}
	}

	for i := 0; i < 1000; i++ {
		_, _ = s.Remove("k" + strconv.Itoa(i))
	}
	for i := 0; i < 20; i++ {
		s.maintain()
	}
	if b := s.Stats().Buckets; b != 16 {
		t.Fatalf("buckets = %d, want shrink to 16", b)
	}
}

func TestStore_Snapshot(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	s := newTestStore(t, Options{Capacity: 8, Clock: clk})

	_ = s.Set("b", "2", time.Minute)
	_ = s.Set("a", "1", 0)
	_ = s.Set("gone", "x", time.Millisecond)
	clk.add(time.Second)

	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].Key != "a" || snap[1].Key != "b" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if !snap[0].ExpiresAt.IsZero() {
		t.Fatal("a has no expiry")
	}
	if want := time.Unix(0, int64(time.Hour)+int64(time.Minute)); !snap[1].ExpiresAt.Equal(want) {
		t.Fatalf("b expires %v, want %v", snap[1].ExpiresAt, want)
	}
}

func TestStore_Async(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, Options{Capacity: 8})
	ctx := context.Background()

	if existed, err := s.SetAsync("a", "1", 0).Wait(ctx); err != nil || existed {
		t.Fatalf("SetAsync new: %v, %v", existed, err)
	}
	if existed, err := s.SetAsync("a", "2", 0).Wait(ctx); err != nil || !existed {
		t.Fatalf("SetAsync overwrite: %v, %v", existed, err)
	}
	if removed, err := s.RemoveAsync("a").Wait(ctx); err != nil || !removed {
		t.Fatalf("RemoveAsync: %v, %v", removed, err)
	}

	// Fire-and-forget still lands.
	s.SetAsync("b", "x", 0)
	waitFor(t, time.Second, func() bool { _, err := s.Get("b"); return err == nil })
}

func TestStore_Timeout(t *testing.T) {
	t.Parallel()

	clk := &gateClock{gate: make(chan struct{})}
	s := newTestStore(t, Options{Capacity: 8, Clock: clk, RequestTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { close(clk.gate) })

	clk.block.Store(true)
	if _, err := s.Get("k"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("want ErrTimeout, got %v", err)
	}
	clk.block.Store(false)
}

func TestStore_InternalFailure(t *testing.T) {
	t.Parallel()

	clk := &gateClock{gate: make(chan struct{})}
	s := newTestStore(t, Options{Capacity: 8, Clock: clk})

	clk.boom.Store(true)
	if err := s.Set("k", "v", 0); !errors.Is(err, ErrInternal) {
		t.Fatalf("want ErrInternal, got %v", err)
	}
	clk.boom.Store(false)

	// Workers survive the failure.
	if err := s.Set("k", "v", 0); err != nil {
		t.Fatalf("Set after failure: %v", err)
	}
}

func TestStore_Closed(t *testing.T) {
	t.Parallel()

	s := New(Options{Capacity: 8})
	_ = s.Set("a", "1", 0)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := s.Get("a"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Get after Close: %v", err)
	}
	if err := s.Set("a", "2", 0); !errors.Is(err, ErrClosed) {
		t.Fatalf("Set after Close: %v", err)
	}
	if _, err := s.Remove("a"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Remove after Close: %v", err)
	}
	if _, err := s.SetAsync("a", "2", 0).Wait(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("SetAsync after Close: %v", err)
	}
	// Snapshot stays readable for a final save.
	if snap := s.Snapshot(); len(snap) != 1 {
		t.Fatalf("snapshot after Close: %+v", snap)
	}
}

func TestStore_ZeroCapacityPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("New with zero capacity must panic")
		}
	}()
	New(Options{})
}

// Tracker keys left behind by erases that raced a touch are pruned, and
// table keys the tracker lost are adopted.
func TestStore_Reconcile(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, Options{Capacity: 8, SweepInterval: time.Hour})
	_ = s.Set("a", "1", 0)
	_ = s.Set("b", "2", 0)

	s.trk.Touch("ghost1")
	s.trk.Touch("ghost2")
	s.trk.Forget("b")

	pruned, adopted := s.reconcile(false)
	if pruned != 2 || adopted != 1 {
		t.Fatalf("pruned=%d adopted=%d", pruned, adopted)
	}
	if s.trk.Len() != 2 {
		t.Fatalf("tracker Len = %d", s.trk.Len())
	}
}

// A lost key and a ghost cancel out in the counts; the periodic full
// comparison still repairs the tracker.
func TestStore_ReconcileEqualCounts(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, Options{Capacity: 8, SweepInterval: time.Hour})
	_ = s.Set("live", "1", 0)

	s.trk.Forget("live")
	s.trk.Touch("ghost")
	if s.trk.Len() != s.tbl.len() {
		t.Fatal("setup: counts must match")
	}
	if pruned, adopted := s.reconcile(false); pruned != 0 || adopted != 0 {
		t.Fatalf("count-only check must skip: pruned=%d adopted=%d", pruned, adopted)
	}

	for i := 0; i < reconcileEvery; i++ {
		s.maintain()
	}
	keys := s.trk.Keys()
	if len(keys) != 1 || keys[0] != "live" {
		t.Fatalf("tracker keys = %v, want [live]", keys)
	}

	// The repaired tracker drives eviction again.
	if k, ok := s.trk.Victim(); !ok || k != "live" {
		t.Fatalf("Victim = %q, %v", k, ok)
	}
}
