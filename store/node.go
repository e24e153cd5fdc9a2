package store

import "sync/atomic"

// node is one entry in a bucket chain.
//
// Once published, key, val, exp and next are never modified while the node
// is linked: chains are copy-on-write, so a writer that needs a different
// chain builds fresh nodes and swaps the bucket head. Only accessed changes
// in place. refs counts readers currently holding the node; -1 marks a node
// the reclaimer has freed.
type node struct {
	key string
	val string

	// Absolute expiration deadline in UnixNano. Zero means "no TTL".
	exp int64

	// Last successful read or write, UnixNano.
	accessed atomic.Int64

	next atomic.Pointer[node]
	refs atomic.Int32
}

func newNode(key, val string, exp, now int64) *node {
	n := &node{key: key, val: val, exp: exp}
	n.accessed.Store(now)
	return n
}

// clone copies the entry fields of n into an unlinked node.
func (n *node) clone() *node {
	c := &node{key: n.key, val: n.val, exp: n.exp}
	c.accessed.Store(n.accessed.Load())
	return c
}

// lapsed reports whether the deadline has passed at now.
func (n *node) lapsed(now int64) bool {
	return n.exp != 0 && n.exp <= now
}
