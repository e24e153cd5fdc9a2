package store

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/IJSK10/fastkv/internal/expiry"
	"github.com/IJSK10/fastkv/internal/pipeline"
	"github.com/IJSK10/fastkv/internal/util"
	"github.com/IJSK10/fastkv/policy"
	"github.com/IJSK10/fastkv/policy/lru"
)

type opKind uint8

const (
	opGet opKind = iota + 1
	opSet
	opRemove
)

func (o opKind) String() string {
	switch o {
	case opGet:
		return "get"
	case opSet:
		return "set"
	case opRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// request is one task for the worker pipeline.
type request struct {
	op    opKind
	key   string
	value string
	ttl   time.Duration
}

// response carries the value for gets; found reports a live entry (for
// mutations: a live entry existed before the operation).
type response struct {
	value string
	found bool
}

// store wires the table, tracker, expiry scheduler and capacity monitor
// behind the worker pipeline.
type store struct {
	opt Options
	log *zap.Logger

	tbl  *table
	rc   *reclaimer
	trk  policy.Tracker
	exp  *expiry.Scheduler
	pipe *pipeline.Pipeline[request, response]

	closed atomic.Bool
	kick   chan struct{}
	maint  sync.Mutex // serializes maintenance passes
	passes uint64     // guarded by maint
	cancel context.CancelFunc
	bg     errgroup.Group

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_           util.CacheLinePad
	hits        util.PaddedAtomicUint64
	misses      util.PaddedAtomicUint64
	evictions   util.PaddedAtomicUint64
	expirations util.PaddedAtomicUint64
}

// New constructs a store and starts its workers, expiry loop and capacity
// monitor. It panics if Capacity is not positive.
func New(opt Options) Store {
	if opt.Capacity <= 0 {
		panic("store: Capacity must be > 0")
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Policy == nil {
		opt.Policy = lru.New()
	}
	if opt.Clock == nil {
		opt.Clock = wallClock{}
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	if opt.MinBuckets <= 0 {
		opt.MinBuckets = DefaultMinBuckets
	}
	if opt.MaxBuckets <= 0 {
		opt.MaxBuckets = DefaultMaxBuckets
	}
	opt.MinBuckets = int(util.NextPow2(uint64(opt.MinBuckets)))
	opt.MaxBuckets = util.ClampPow2(opt.MaxBuckets, opt.MinBuckets, opt.MaxBuckets)
	if opt.Buckets <= 0 {
		opt.Buckets = DefaultBuckets
	}
	opt.Buckets = util.ClampPow2(opt.Buckets, opt.MinBuckets, opt.MaxBuckets)
	if opt.GrowAt <= 0 {
		opt.GrowAt = DefaultGrowAt
	}
	if opt.ShrinkAt <= 0 || opt.ShrinkAt >= opt.GrowAt {
		opt.ShrinkAt = min(DefaultShrinkAt, opt.GrowAt/2)
	}
	if opt.RequestTimeout <= 0 {
		opt.RequestTimeout = DefaultRequestTimeout
	}
	if opt.SweepInterval <= 0 {
		opt.SweepInterval = DefaultSweepInterval
	}
	if opt.MaxExpiryWait <= 0 {
		opt.MaxExpiryWait = expiry.DefaultMaxWait
	}

	log := opt.Logger.Named("store")
	rc := newReclaimer(log)
	s := &store{
		opt:  opt,
		log:  log,
		tbl:  newTable(opt.Buckets, rc),
		rc:   rc,
		trk:  opt.Policy.New(opt.Capacity),
		kick: make(chan struct{}, 1),
	}
	s.exp = expiry.New(s.expire, expiry.Options{
		MaxWait: opt.MaxExpiryWait,
		Now:     opt.Clock.NowUnixNano,
		Logger:  log,
	})
	s.pipe = pipeline.New(s.handle, pipeline.Options{
		Workers:   opt.Workers,
		QueueSize: opt.QueueSize,
		Logger:    log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.bg.Go(func() error { return s.exp.Run(ctx) })
	s.bg.Go(func() error { return s.monitor(ctx) })

	log.Info("store started",
		zap.Int("capacity", opt.Capacity),
		zap.Int("buckets", opt.Buckets),
		zap.Int("workers", s.pipe.Workers()))
	return s
}

// ---- Store implementation ----

// Set inserts or overwrites key with an optional TTL.
func (s *store) Set(key, value string, ttl time.Duration) error {
	if ttl < 0 {
		return ErrInvalidTTL
	}
	_, err := s.call(request{op: opSet, key: key, value: value, ttl: ttl})
	return err
}

// Get returns the live value for key.
func (s *store) Get(key string) (string, error) {
	res, err := s.call(request{op: opGet, key: key})
	if err != nil {
		return "", err
	}
	if !res.found {
		return "", ErrNotFound
	}
	return res.value, nil
}

// Remove deletes key and reports whether a live entry existed.
func (s *store) Remove(key string) (bool, error) {
	res, err := s.call(request{op: opRemove, key: key})
	if err != nil {
		return false, err
	}
	return res.found, nil
}

func (s *store) SetAsync(key, value string, ttl time.Duration) *Future {
	if ttl < 0 {
		return &Future{err: ErrInvalidTTL}
	}
	return s.submit(request{op: opSet, key: key, value: value, ttl: ttl})
}

func (s *store) RemoveAsync(key string) *Future {
	return s.submit(request{op: opRemove, key: key})
}

// Snapshot returns every live entry, sorted by key.
func (s *store) Snapshot() []Entry {
	recs := s.tbl.snapshot(s.now())
	out := make([]Entry, len(recs))
	for i, r := range recs {
		e := Entry{Key: r.key, Value: r.val, LastAccessed: time.Unix(0, r.accessed)}
		if r.exp != 0 {
			e.ExpiresAt = time.Unix(0, r.exp)
		}
		out[i] = e
	}
	return out
}

// Len returns the number of resident entries.
func (s *store) Len() int { return s.tbl.len() }

func (s *store) Stats() Stats {
	return Stats{
		Entries:        s.tbl.len(),
		Buckets:        s.tbl.buckets(),
		Hits:           s.hits.Load(),
		Misses:         s.misses.Load(),
		Evictions:      s.evictions.Load(),
		Expirations:    s.expirations.Load(),
		Reclaimed:      s.rc.freed.Load(),
		PendingReclaim: s.rc.pending(),
		Workers:        s.pipe.Workers(),
		Queued:         s.pipe.Pending(),
	}
}

// Close stops intake, drains queued requests, stops the background loops
// and runs the final reclamation pass.
func (s *store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opt.RequestTimeout)
	defer cancel()
	err := s.pipe.Close(ctx)

	s.cancel()
	_ = s.bg.Wait()

	leaked := s.rc.drain()
	s.log.Info("store closed",
		zap.Int("entries", s.tbl.len()),
		zap.Uint64("reclaimed", s.rc.freed.Load()),
		zap.Int("leaked", leaked))
	if err != nil {
		return errors.Wrap(err, "store: close")
	}
	return nil
}

// ---- pipeline plumbing ----

// call runs req on a worker and waits at most RequestTimeout.
func (s *store) call(req request) (response, error) {
	if s.closed.Load() {
		return response{}, ErrClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opt.RequestTimeout)
	defer cancel()
	res, err := s.pipe.Do(ctx, req)
	if err != nil {
		return response{}, s.translate(err)
	}
	return res, nil
}

// submit enqueues req without waiting for its result.
func (s *store) submit(req request) *Future {
	if s.closed.Load() {
		return &Future{err: ErrClosed}
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opt.RequestTimeout)
	defer cancel()
	tk, err := s.pipe.Submit(ctx, req)
	if err != nil {
		return &Future{err: s.translate(err)}
	}
	return &Future{ticket: tk, s: s}
}

// translate maps pipeline and context errors onto the store taxonomy.
func (s *store) translate(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrTimeout
	case errors.Is(err, pipeline.ErrClosed):
		return ErrClosed
	case errors.Is(err, ErrInternal):
		return err
	default:
		return errors.WithMessage(ErrInternal, err.Error())
	}
}

// handle executes one request on a worker.
func (s *store) handle(req request) (response, error) {
	switch req.op {
	case opGet:
		v, ok := s.get(req.key)
		return response{value: v, found: ok}, nil
	case opSet:
		return response{found: s.set(req.key, req.value, req.ttl)}, nil
	case opRemove:
		return response{found: s.remove(req.key)}, nil
	default:
		return response{}, errors.Wrapf(ErrInternal, "unknown operation %d", req.op)
	}
}

// ---- internal operations ----

func (s *store) now() int64 { return s.opt.Clock.NowUnixNano() }

func (s *store) get(key string) (string, bool) {
	v, _, st := s.tbl.lookup(key, s.now())
	if st != hit {
		s.misses.Add(1)
		s.opt.Metrics.Miss()
		return "", false
	}
	s.trk.Touch(key)
	s.hits.Add(1)
	s.opt.Metrics.Hit()
	return v, true
}

// set reports whether a live entry was overwritten.
func (s *store) set(key, value string, ttl time.Duration) bool {
	now := s.now()
	exp := deadline(now, ttl)
	replaced, prev := s.tbl.upsert(key, value, exp, now)
	s.trk.Touch(key)
	if exp != 0 {
		s.exp.Schedule(key, exp)
	}
	if !replaced && s.pressured() {
		s.wake()
	}
	return replaced && (prev == 0 || prev > now)
}

// deadline returns the absolute expiry for ttl, 0 for none. Deadlines past
// the int64 range saturate at math.MaxInt64.
func deadline(now int64, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	if int64(ttl) > math.MaxInt64-now {
		return math.MaxInt64
	}
	return now + int64(ttl)
}

// remove reports whether a live entry was deleted.
func (s *store) remove(key string) bool {
	now := s.now()
	_, exp, ok := s.tbl.erase(key, nil)
	if !ok {
		return false
	}
	s.trk.Forget(key)
	return exp == 0 || exp > now
}

// expire is the expiry callback. The heap entry is only a hint: the node is
// erased only if it is still lapsed, so a key refreshed since is left alone.
func (s *store) expire(key string) {
	if s.closed.Load() {
		return
	}
	now := s.now()
	if _, _, ok := s.tbl.erase(key, func(n *node) bool { return n.lapsed(now) }); !ok {
		return
	}
	s.trk.Forget(key)
	s.expirations.Add(1)
	s.opt.Metrics.Evict(EvictTTL)
}

// pressured reports whether the table is over capacity or above the grow
// watermark.
func (s *store) pressured() bool {
	n := s.tbl.len()
	if n > s.opt.Capacity {
		return true
	}
	b := s.tbl.buckets()
	return b < s.opt.MaxBuckets && float64(n)/float64(b) > s.opt.GrowAt
}
