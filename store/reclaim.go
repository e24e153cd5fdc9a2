package store

import (
	"sync"

	"go.uber.org/zap"

	"github.com/IJSK10/fastkv/internal/util"
)

// retireBatch is the retired-list length at which retire triggers a sweep.
const retireBatch = 256

// reclaimer defers freeing of unlinked nodes until no reader holds them.
//
// Readers pin a node with acquire before touching its fields and unpin it
// with release. Writers hand over nodes with retire only after the bucket
// CAS that unlinked them succeeded. sweep frees a retired node by moving its
// count from 0 to -1, after which acquire refuses it and the reader restarts
// from the current bucket head. A linked node with a zero count is normal;
// only retired nodes are ever freed.
type reclaimer struct {
	mu      sync.Mutex
	retired []*node

	log *zap.Logger

	_     util.CacheLinePad
	freed util.PaddedAtomicUint64
}

func newReclaimer(log *zap.Logger) *reclaimer {
	return &reclaimer{log: log}
}

// acquire pins n. It fails if n has already been freed.
func (r *reclaimer) acquire(n *node) bool {
	for {
		c := n.refs.Load()
		if c < 0 {
			return false
		}
		if n.refs.CompareAndSwap(c, c+1) {
			return true
		}
	}
}

func (r *reclaimer) release(n *node) {
	n.refs.Add(-1)
}

func (r *reclaimer) releaseAll(ns []*node) {
	for _, n := range ns {
		n.refs.Add(-1)
	}
}

// retire queues nodes that are no longer reachable from the live table.
func (r *reclaimer) retire(ns ...*node) {
	if len(ns) == 0 {
		return
	}
	r.mu.Lock()
	r.retired = append(r.retired, ns...)
	full := len(r.retired) >= retireBatch
	r.mu.Unlock()

	if full {
		r.sweep()
	}
}

// sweep frees every retired node nobody holds and keeps the rest queued.
func (r *reclaimer) sweep() (freed, pending int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.retired[:0]
	for _, n := range r.retired {
		if n.refs.CompareAndSwap(0, -1) {
			n.key, n.val = "", ""
			n.next.Store(nil)
			freed++
			continue
		}
		kept = append(kept, n)
	}
	clear(r.retired[len(kept):])
	r.retired = kept

	r.freed.Add(uint64(freed))
	return freed, len(kept)
}

// pending returns the number of retired nodes not yet freed.
func (r *reclaimer) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.retired)
}

// drain is the final pass at shutdown. Every node still held afterwards
// belongs to a reader that never released it; it is logged and dropped.
func (r *reclaimer) drain() (leaked int) {
	r.sweep()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.retired {
		r.log.Error("retired node still referenced at shutdown",
			zap.String("key", n.key),
			zap.Int32("refs", n.refs.Load()))
	}
	leaked = len(r.retired)
	r.retired = nil
	return leaked
}
