// Package lru implements the LRU recency tracker.
package lru

import (
	"container/list"
	"sync"

	"github.com/IJSK10/fastkv/policy"
)

// lru is a classic "move-to-front" Least-Recently-Used order.
// Front of ll is MRU, back is LRU. idx and ll change together under mu.
type lru struct {
	mu  sync.Mutex
	ll  *list.List
	idx map[string]*list.Element // element.Value is the key
}

type lruPolicy struct{}

// New returns a Policy factory that constructs LRU trackers.
func New() policy.Policy { return lruPolicy{} }

// New implements policy.Policy.
func (lruPolicy) New(capacity int) policy.Tracker {
	if capacity < 0 {
		capacity = 0
	}
	return &lru{
		ll:  list.New(),
		idx: make(map[string]*list.Element, capacity),
	}
}

// Touch moves key to MRU, inserting it if new.
func (p *lru) Touch(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if el, ok := p.idx[key]; ok {
		p.ll.MoveToFront(el)
		return
	}
	p.idx[key] = p.ll.PushFront(key)
}

// Forget removes key from the order.
func (p *lru) Forget(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if el, ok := p.idx[key]; ok {
		p.ll.Remove(el)
		delete(p.idx, key)
	}
}

// Victim pops the least-recently-used key.
func (p *lru) Victim() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	el := p.ll.Back()
	if el == nil {
		return "", false
	}
	k := el.Value.(string)
	p.ll.Remove(el)
	delete(p.idx, k)
	return k, true
}

// Keys returns keys MRU -> LRU.
func (p *lru) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, p.ll.Len())
	for el := p.ll.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(string))
	}
	return out
}

// Len returns the number of tracked keys.
func (p *lru) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ll.Len()
}
