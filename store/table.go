package store

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/IJSK10/fastkv/internal/util"
)

// lookupState classifies the outcome of a table lookup.
type lookupState uint8

const (
	absent lookupState = iota
	hit
	lapsed // present but past its deadline; invisible to callers
)

// version is one generation of the bucket array. Its size never changes;
// resize publishes a new version.
type version struct {
	buckets []atomic.Pointer[node] // power-of-two length
}

func newVersion(n int) *version {
	if !util.IsPowerOfTwo(uint64(n)) {
		panic("store: bucket count must be a power of two")
	}
	return &version{buckets: make([]atomic.Pointer[node], n)}
}

func (v *version) slot(h uint64) *atomic.Pointer[node] {
	return &v.buckets[util.BucketIndex(h, len(v.buckets))]
}

// table is a bucketed hash table with copy-on-write chains.
//
// Every mutation publishes through a single CAS on the bucket head: the
// writer pins the chain it read, builds a replacement (new or copied nodes
// in front, untouched suffix shared), and swaps the head. A failed CAS means
// the chain changed underneath; the attempt is discarded and retried, so
// the last successful CAS wins. Nodes cut out by a successful CAS are handed
// to the reclaimer.
//
// Readers take no lock. Writers hold mu shared for one operation; resize
// holds it exclusively, so a writer always mutates the current version.
type table struct {
	mu  sync.RWMutex
	cur atomic.Pointer[version]
	rc  *reclaimer

	_     util.CacheLinePad
	count util.PaddedAtomicInt64
}

func newTable(buckets int, rc *reclaimer) *table {
	t := &table{rc: rc}
	t.cur.Store(newVersion(buckets))
	return t
}

// len returns the number of linked entries, lapsed ones included.
func (t *table) len() int { return int(t.count.Load()) }

// buckets returns the current bucket count.
func (t *table) buckets() int { return len(t.cur.Load().buckets) }

// lookup finds key in the current version, walking hand over hand. A hit
// refreshes the node's access time.
func (t *table) lookup(key string, now int64) (val string, exp int64, st lookupState) {
	return t.find(key, now, true)
}

// contains reports whether key is linked, lapsed or not.
func (t *table) contains(key string) bool {
	_, _, st := t.find(key, 0, false)
	return st != absent
}

func (t *table) find(key string, now int64, touch bool) (val string, exp int64, st lookupState) {
	h := util.Fnv64a(key)
restart:
	for {
		n := t.cur.Load().slot(h).Load()
		if n == nil {
			return "", 0, absent
		}
		if !t.rc.acquire(n) {
			continue
		}
		for {
			if n.key == key {
				val, exp = n.val, n.exp
				st = hit
				if n.lapsed(now) {
					st = lapsed
				} else if touch {
					n.accessed.Store(now)
				}
				t.rc.release(n)
				return val, exp, st
			}
			next := n.next.Load()
			if next == nil {
				t.rc.release(n)
				return "", 0, absent
			}
			if !t.rc.acquire(next) {
				t.rc.release(n)
				continue restart
			}
			t.rc.release(n)
			n = next
		}
	}
}

// pin walks the chain from head, pinning every node up to and including
// the one holding key. found is nil if key is not in the chain. ok is false
// when a node was freed during the walk; nothing is left pinned then.
func (t *table) pin(head *node, key string) (path []*node, found *node, ok bool) {
	for n := head; n != nil; n = n.next.Load() {
		if !t.rc.acquire(n) {
			t.rc.releaseAll(path)
			return nil, nil, false
		}
		path = append(path, n)
		if n.key == key {
			return path, n, true
		}
	}
	return path, nil, true
}

// rebuild returns copies of prefix linked in order, ending at tail.
func rebuild(prefix []*node, tail *node) *node {
	next := tail
	for i := len(prefix) - 1; i >= 0; i-- {
		c := prefix[i].clone()
		c.next.Store(next)
		next = c
	}
	return next
}

// upsert inserts or replaces key. The new node goes to the bucket front,
// followed by copies of the nodes that preceded the old one. replaced
// reports whether a node for key was unlinked; prev is that node's expiry.
func (t *table) upsert(key, val string, exp, now int64) (replaced bool, prevExp int64) {
	h := util.Fnv64a(key)

	t.mu.RLock()
	defer t.mu.RUnlock()

	slot := t.cur.Load().slot(h)
	for {
		head := slot.Load()
		path, found, ok := t.pin(head, key)
		if !ok {
			continue
		}

		fresh := newNode(key, val, exp, now)
		if found == nil {
			fresh.next.Store(head)
		} else {
			fresh.next.Store(rebuild(path[:len(path)-1], found.next.Load()))
			prevExp = found.exp
		}

		swapped := slot.CompareAndSwap(head, fresh)
		t.rc.releaseAll(path)
		if !swapped {
			continue
		}
		if found == nil {
			t.count.Add(1)
			return false, 0
		}
		t.rc.retire(path...)
		return true, prevExp
	}
}

// erase unlinks key if cond accepts its node (nil cond accepts any). It
// returns the removed value and expiry; ok is false if nothing was unlinked.
func (t *table) erase(key string, cond func(n *node) bool) (val string, exp int64, ok bool) {
	h := util.Fnv64a(key)

	t.mu.RLock()
	defer t.mu.RUnlock()

	slot := t.cur.Load().slot(h)
	for {
		head := slot.Load()
		path, found, pinned := t.pin(head, key)
		if !pinned {
			continue
		}
		if found == nil || (cond != nil && !cond(found)) {
			t.rc.releaseAll(path)
			return "", 0, false
		}

		val, exp = found.val, found.exp
		repl := rebuild(path[:len(path)-1], found.next.Load())

		swapped := slot.CompareAndSwap(head, repl)
		t.rc.releaseAll(path)
		if !swapped {
			continue
		}
		t.count.Add(-1)
		t.rc.retire(path...)
		return val, exp, true
	}
}

// resize rehashes every entry into a new version of n buckets and retires
// the old nodes. Readers still walking the old version finish on it or
// restart on the new one once their nodes are freed.
func (t *table) resize(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.cur.Load()
	if len(old.buckets) == n {
		return
	}
	nv := newVersion(n)
	var retired []*node
	for i := range old.buckets {
		for o := old.buckets[i].Load(); o != nil; o = o.next.Load() {
			c := o.clone()
			s := nv.slot(util.Fnv64a(c.key))
			c.next.Store(s.Load())
			s.Store(c)
			retired = append(retired, o)
		}
	}
	t.cur.Store(nv)
	t.rc.retire(retired...)
}

// record is a detached copy of one entry.
type record struct {
	key      string
	val      string
	exp      int64
	accessed int64
}

// snapshot copies every entry that is live at now, sorted by key.
func (t *table) snapshot(now int64) []record {
	for {
		out, ok := t.walk(t.cur.Load(), now, true)
		if ok {
			sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
			return out
		}
	}
}

// keys returns the keys of every linked entry, lapsed ones included.
func (t *table) keys() []string {
	for {
		recs, ok := t.walk(t.cur.Load(), 0, false)
		if !ok {
			continue
		}
		out := make([]string, len(recs))
		for i, r := range recs {
			out[i] = r.key
		}
		return out
	}
}

// walk collects the entries of every bucket of v. It fails when v was
// replaced by a resize and its nodes are being freed.
func (t *table) walk(v *version, now int64, liveOnly bool) ([]record, bool) {
	out := make([]record, 0, t.len())
	for i := range v.buckets {
		for {
			var ok bool
			out, ok = t.collectBucket(&v.buckets[i], now, liveOnly, out)
			if ok {
				break
			}
			if t.cur.Load() != v {
				return nil, false
			}
		}
	}
	return out, true
}

// collectBucket appends the entries of one bucket. On a freed node it
// truncates what it appended and reports false.
func (t *table) collectBucket(slot *atomic.Pointer[node], now int64, liveOnly bool, out []record) ([]record, bool) {
	base := len(out)
	n := slot.Load()
	if n == nil {
		return out, true
	}
	if !t.rc.acquire(n) {
		return out, false
	}
	for {
		if !liveOnly || !n.lapsed(now) {
			out = append(out, record{key: n.key, val: n.val, exp: n.exp, accessed: n.accessed.Load()})
		}
		next := n.next.Load()
		if next == nil {
			t.rc.release(n)
			return out, true
		}
		if !t.rc.acquire(next) {
			t.rc.release(n)
			return out[:base], false
		}
		t.rc.release(n)
		n = next
	}
}
