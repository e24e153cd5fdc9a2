package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/IJSK10/fastkv/internal/util"
)

// pass summarizes one maintenance pass.
type pass struct {
	evicted int
	resized int // new bucket count, 0 if unchanged
	pruned  int
	adopted int
	freed   int
	pending int
}

// monitor runs maintenance every SweepInterval and whenever a write kicks it.
func (s *store) monitor(ctx context.Context) error {
	t := time.NewTicker(s.opt.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		case <-s.kick:
		}
		s.maintain()
	}
}

// wake requests a maintenance pass without blocking.
func (s *store) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// maintain enforces capacity, rebalances the bucket count, reconciles the
// tracker with the table and sweeps the reclaimer.
func (s *store) maintain() pass {
	s.maint.Lock()
	defer s.maint.Unlock()

	var p pass
	p.evicted = s.enforceCapacity()
	p.resized = s.rebalance()
	p.pruned, p.adopted = s.reconcile(s.passes%reconcileEvery == 0)
	s.passes++
	p.freed, p.pending = s.rc.sweep()

	s.opt.Metrics.Reclaimed(p.freed, p.pending)
	s.opt.Metrics.Size(s.tbl.len(), s.tbl.buckets())

	if p.evicted > 0 || p.resized > 0 || p.pruned > 0 || p.adopted > 0 {
		s.log.Debug("maintenance pass",
			zap.Int("evicted", p.evicted),
			zap.Int("buckets", s.tbl.buckets()),
			zap.Int("pruned", p.pruned),
			zap.Int("adopted", p.adopted),
			zap.Int("freed", p.freed),
			zap.Int("pending", p.pending))
	}
	return p
}

// enforceCapacity erases tracker victims until the table fits Capacity.
// A victim already gone from the table only shrinks the tracker.
func (s *store) enforceCapacity() (evicted int) {
	for s.tbl.len() > s.opt.Capacity {
		k, ok := s.trk.Victim()
		if !ok {
			return evicted
		}
		if _, _, ok := s.tbl.erase(k, nil); ok {
			evicted++
			s.evictions.Add(1)
			s.opt.Metrics.Evict(EvictCapacity)
		}
	}
	return evicted
}

// targetBuckets returns the bucket count for the current load, or 0 when
// the load factor is within the watermarks.
func (s *store) targetBuckets() int {
	n, b := s.tbl.len(), s.tbl.buckets()
	load := float64(n) / float64(b)
	switch {
	case load > s.opt.GrowAt && b < s.opt.MaxBuckets:
		want := util.ClampPow2(int(float64(n)/s.opt.GrowAt)+1, s.opt.MinBuckets, s.opt.MaxBuckets)
		if want > b {
			return want
		}
	case load < s.opt.ShrinkAt && b > s.opt.MinBuckets:
		want := util.ClampPow2(b/2, s.opt.MinBuckets, s.opt.MaxBuckets)
		if want < b {
			return want
		}
	}
	return 0
}

func (s *store) rebalance() int {
	want := s.targetBuckets()
	if want == 0 {
		return 0
	}
	from := s.tbl.buckets()
	s.tbl.resize(want)
	s.log.Debug("table resized", zap.Int("from", from), zap.Int("to", want), zap.Int("entries", s.tbl.len()))
	return want
}

// reconcileEvery is how often (in passes) reconcile compares key sets even
// when the tracker and table counts agree.
const reconcileEvery = 4

// reconcile brings the tracker back in line with the table after writes
// and erases raced on their tracker updates. Keys the tracker holds but the
// table lacks are forgotten; linked keys the tracker lost are touched.
//
// Equal counts do not prove equal key sets: a lost key and a ghost can
// cancel out. Unless full is set, a pass with equal counts is skipped.
func (s *store) reconcile(full bool) (pruned, adopted int) {
	if !full && s.trk.Len() == s.tbl.len() {
		return 0, 0
	}
	tracked := s.trk.Keys()
	linked := s.tbl.keys()

	inTable := make(map[string]struct{}, len(linked))
	for _, k := range linked {
		inTable[k] = struct{}{}
	}
	inTracker := make(map[string]struct{}, len(tracked))
	for _, k := range tracked {
		inTracker[k] = struct{}{}
		if _, ok := inTable[k]; ok {
			continue
		}
		// Recheck: the key may have been written since the walk.
		if !s.tbl.contains(k) {
			s.trk.Forget(k)
			pruned++
		}
	}
	for _, k := range linked {
		if _, ok := inTracker[k]; !ok {
			s.trk.Touch(k)
			adopted++
		}
	}
	return pruned, adopted
}
