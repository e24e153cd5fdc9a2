package expiry

// item is one (deadline, key) pair. It may be stale: the key can have been
// removed or refreshed since it was scheduled.
type item struct {
	at  int64 // UnixNano
	key string
}

// deadlines is a min-heap on at; implements container/heap.Interface.
// Ties are broken arbitrarily.
type deadlines []item

func (h deadlines) Len() int           { return len(h) }
func (h deadlines) Less(i, j int) bool { return h[i].at < h[j].at }
func (h deadlines) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *deadlines) Push(x any) { *h = append(*h, x.(item)) }

func (h *deadlines) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = item{}
	*h = old[:n-1]
	return x
}
