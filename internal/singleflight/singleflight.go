// Package singleflight coalesces concurrent side-effecting calls that share a
// key, on top of golang.org/x/sync/singleflight.
package singleflight

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Group runs at most one fn per key at a time. Callers that arrive while a
// call for the same key is in flight wait for it and share its error instead
// of starting a second one.
//
// Concurrency notes:
//   - Every caller, the first included, waits on DoChan and may give up when
//     its ctx is done; the call keeps running for the others.
//   - fn receives the first caller's ctx without its cancellation, so one
//     caller giving up never aborts work others are waiting on.
//   - Callers are counted under mu together with joining DoChan, so while
//     fn runs Waiting reports exactly the callers parked behind it.
type Group struct {
	g       singleflight.Group
	mu      sync.Mutex
	callers map[string]int
}

// Do runs fn for key unless a call for key is already running, in which
// case it waits for that call. shared reports whether the result came from
// (or was handed to) another caller.
func (g *Group) Do(ctx context.Context, key string, fn func(context.Context) error) (shared bool, err error) {
	detached := context.WithoutCancel(ctx)

	g.mu.Lock()
	if g.callers == nil {
		g.callers = make(map[string]int)
	}
	g.callers[key]++
	ch := g.g.DoChan(key, func() (interface{}, error) {
		return nil, fn(detached)
	})
	g.mu.Unlock()

	defer g.leave(key)

	select {
	case res := <-ch:
		return res.Shared, res.Err
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

func (g *Group) leave(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.callers[key]--; g.callers[key] <= 0 {
		delete(g.callers, key)
	}
}

// InFlight reports whether any caller is still waiting on key.
func (g *Group) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.callers[key] > 0
}

// Waiting returns how many callers are waiting behind the first one for key.
func (g *Group) Waiting(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n := g.callers[key]; n > 1 {
		return n - 1
	}
	return 0
}
