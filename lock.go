package inject

import (
	"context"
	"sync"
)

// lockGraph hands out per-id locks to resolve paths. It tracks which path
// owns which id and which id each path waits on, so a wait that would close
// a cycle across goroutines fails instead of deadlocking.
type lockGraph struct {
	mu      sync.Mutex
	owners  map[any]*resolveContext
	waiting map[*resolveContext]any
	freed   map[any]chan struct{}
}

func newLockGraph() *lockGraph {
	return &lockGraph{
		owners:  make(map[any]*resolveContext),
		waiting: make(map[*resolveContext]any),
		freed:   make(map[any]chan struct{}),
	}
}

type lockResult int

const (
	lockAcquired lockResult = iota
	// the path already owns the id
	lockReentrant
	// waiting would deadlock
	lockCycle
)

// acquire blocks until rc owns id, rc already owns it, or waiting would
// close a cycle. Sibling forks wait for each other like unrelated paths.
// ctx cancellation aborts the wait.
func (g *lockGraph) acquire(ctx context.Context, id any, rc *resolveContext) (lockResult, error) {
	g.mu.Lock()
	for {
		owner, held := g.owners[id]
		if !held {
			g.owners[id] = rc
			g.mu.Unlock()
			return lockAcquired, nil
		}
		if owner == rc {
			g.mu.Unlock()
			return lockReentrant, nil
		}
		// a goroutine started while owner builds id cannot wait for it:
		// owner may be waiting for that goroutine in turn
		if rc.forkedFrom(owner) || g.leadsTo(owner, rc) {
			g.mu.Unlock()
			return lockCycle, nil
		}
		ch, ok := g.freed[id]
		if !ok {
			ch = make(chan struct{})
			g.freed[id] = ch
		}
		g.waiting[rc] = id
		g.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			g.mu.Lock()
			delete(g.waiting, rc)
			g.mu.Unlock()
			return lockAcquired, ctx.Err()
		}

		g.mu.Lock()
		delete(g.waiting, rc)
	}
}

// leadsTo reports whether following "waits on" edges from p reaches target.
// Must hold g.mu.
func (g *lockGraph) leadsTo(p, target *resolveContext) bool {
	for steps := 0; p != nil && steps <= len(g.waiting); steps++ {
		if p == target {
			return true
		}
		id, ok := g.waiting[p]
		if !ok {
			return false
		}
		p = g.owners[id]
	}
	return false
}

func (g *lockGraph) release(id any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.owners, id)
	if ch, ok := g.freed[id]; ok {
		close(ch)
		delete(g.freed, id)
	}
}
