// Package twoq implements the 2Q recency tracker (scan resistant).
package twoq

import (
	"container/list"
	"sync"

	"github.com/IJSK10/fastkv/policy"
)

// twoQ keeps three key queues, all MRU at Front() and LRU at Back():
//   - A1in: keys touched once; scans churn through here without disturbing Am
//   - Am:   keys touched again while resident (or re-admitted from ghosts)
//   - A1out (ghosts): recently evicted A1in keys; a ghost hit admits straight to Am
//
// All queues and their indexes change together under mu.
type twoQ struct {
	mu sync.Mutex

	capIn    int
	capGhost int

	in    *list.List
	inIdx map[string]*list.Element

	am    *list.List
	amIdx map[string]*list.Element

	ghost    *list.List
	ghostIdx map[string]*list.Element
}

type twoQPolicy struct {
	capIn    int
	capGhost int
}

// New constructs a 2Q policy factory.
// Non-positive sizes are derived from the store capacity when the tracker is
// built: capIn ≈ 25% and capGhost ≈ 50% of capacity.
func New(capIn, capGhost int) policy.Policy {
	return twoQPolicy{capIn: capIn, capGhost: capGhost}
}

// New implements policy.Policy.
func (p twoQPolicy) New(capacity int) policy.Tracker {
	capIn, capGhost := p.capIn, p.capGhost
	if capIn <= 0 {
		capIn = max(capacity/4, 1)
	}
	if capGhost <= 0 {
		capGhost = max(capacity/2, 1)
	}
	return &twoQ{
		capIn:    capIn,
		capGhost: capGhost,
		in:       list.New(),
		inIdx:    make(map[string]*list.Element),
		am:       list.New(),
		amIdx:    make(map[string]*list.Element),
		ghost:    list.New(),
		ghostIdx: make(map[string]*list.Element),
	}
}

// Touch admits or promotes key:
//   - resident in Am: move to MRU of Am
//   - resident in A1in: promote to Am
//   - ghost hit: admit directly to Am and drop the ghost
//   - otherwise: admit into A1in
func (q *twoQ) Touch(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if el, ok := q.amIdx[key]; ok {
		q.am.MoveToFront(el)
		return
	}
	if el, ok := q.inIdx[key]; ok {
		q.in.Remove(el)
		delete(q.inIdx, key)
		q.amIdx[key] = q.am.PushFront(key)
		return
	}
	if el, ok := q.ghostIdx[key]; ok {
		q.ghost.Remove(el)
		delete(q.ghostIdx, key)
		q.amIdx[key] = q.am.PushFront(key)
		return
	}
	q.inIdx[key] = q.in.PushFront(key)
}

// Forget drops key from the resident queues. Explicit removals do not
// populate ghosts.
func (q *twoQ) Forget(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if el, ok := q.inIdx[key]; ok {
		q.in.Remove(el)
		delete(q.inIdx, key)
		return
	}
	if el, ok := q.amIdx[key]; ok {
		q.am.Remove(el)
		delete(q.amIdx, key)
	}
}

// Victim prefers the LRU of A1in while A1in is over its share (or Am is
// empty); otherwise it takes the LRU of Am. A1in victims become ghosts.
func (q *twoQ) Victim() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.in.Len() > 0 && (q.in.Len() > q.capIn || q.am.Len() == 0) {
		el := q.in.Back()
		k := el.Value.(string)
		q.in.Remove(el)
		delete(q.inIdx, k)
		q.remember(k)
		return k, true
	}
	if el := q.am.Back(); el != nil {
		k := el.Value.(string)
		q.am.Remove(el)
		delete(q.amIdx, k)
		return k, true
	}
	return "", false
}

// Keys returns Am (MRU -> LRU) followed by A1in (MRU -> LRU).
func (q *twoQ) Keys() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]string, 0, q.am.Len()+q.in.Len())
	for el := q.am.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(string))
	}
	for el := q.in.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(string))
	}
	return out
}

// Len returns the number of resident keys (ghosts excluded).
func (q *twoQ) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.in.Len() + q.am.Len()
}

// remember pushes k to MRU of the ghost queue, trimming it to capGhost.
// mu must be held.
func (q *twoQ) remember(k string) {
	if old, ok := q.ghostIdx[k]; ok {
		q.ghost.Remove(old)
	}
	q.ghostIdx[k] = q.ghost.PushFront(k)
	for q.ghost.Len() > q.capGhost {
		tail := q.ghost.Back()
		delete(q.ghostIdx, tail.Value.(string))
		q.ghost.Remove(tail)
	}
}
