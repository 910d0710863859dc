package inject

import (
	"context"
	"sync"
	"sync/atomic"
)

var resolveContextIDs atomic.Uint64

// resolveContext is the scratch state of one top-level resolution on one
// goroutine. A ctx carrying it into another goroutine gets a fork there.
type resolveContext struct {
	id        uint64
	goroutine uint64
	// parent is the context this one was forked from.
	parent *resolveContext

	mu   sync.Mutex
	path []PathElement

	constructing map[any]*construction
	// dep is the dependency being served by the scoped provider currently
	// on the stack.
	dep *Dependency
}

// construction tracks one binding mid-build on this path.
type construction struct {
	// instance is set once the constructor returned, while members are
	// still being injected.
	instance any
	handles  []patchable
}

func newResolveContext() *resolveContext {
	return &resolveContext{
		id:           resolveContextIDs.Add(1),
		goroutine:    goid(),
		constructing: make(map[any]*construction),
	}
}

// fork starts the state of the calling goroutine, which received a ctx from
// rc's path. The path is copied for diagnostics; nothing is under
// construction on the new goroutine yet.
func (rc *resolveContext) fork() *resolveContext {
	f := newResolveContext()
	f.path = rc.snapshot()
	f.parent = rc
	return f
}

// forkedFrom reports whether rc descends from other through forks.
func (rc *resolveContext) forkedFrom(other *resolveContext) bool {
	for p := rc.parent; p != nil; p = p.parent {
		if p == other {
			return true
		}
	}
	return false
}

func (rc *resolveContext) push(e PathElement) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.path = append(rc.path, e)
}

func (rc *resolveContext) pop() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.path = rc.path[:len(rc.path)-1]
}

func (rc *resolveContext) snapshot() []PathElement {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]PathElement(nil), rc.path...)
}

// fail wraps err into a provision error carrying the current path.
func (rc *resolveContext) fail(src Source, err error) error {
	if pe, ok := err.(*ProvisionError); ok {
		return pe
	}
	var errs Errors
	errs.AddError(src, err, rc.snapshot())
	return errs.ProvisionError()
}

func (rc *resolveContext) pathKeys() []Key {
	path := rc.snapshot()
	keys := make([]Key, 0, len(path))
	for _, e := range path {
		keys = append(keys, e.Key)
	}
	return keys
}

type resolveContextKey struct{}

func withResolveContext(ctx context.Context, rc *resolveContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if cur, ok := ctx.Value(resolveContextKey{}).(*resolveContext); ok && cur == rc {
		return ctx
	}
	return context.WithValue(ctx, resolveContextKey{}, rc)
}

func resolveContextFrom(ctx context.Context) *resolveContext {
	if ctx == nil {
		return nil
	}
	rc, _ := ctx.Value(resolveContextKey{}).(*resolveContext)
	return rc
}

// ensureResolveContext returns the path state carried by ctx, starting a new
// one when there is none. A state owned by another goroutine is forked, so
// goroutines sharing a ctx never share what is under construction.
func ensureResolveContext(ctx context.Context) (context.Context, *resolveContext, bool) {
	if rc := resolveContextFrom(ctx); rc != nil {
		if rc.goroutine == goid() {
			return ctx, rc, false
		}
		f := rc.fork()
		return withResolveContext(ctx, f), f, false
	}
	rc := newResolveContext()
	return withResolveContext(ctx, rc), rc, true
}
