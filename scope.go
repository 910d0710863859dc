package inject

import (
	"context"
	"sync/atomic"
)

// Scope wraps an unscoped provider so repeated resolutions return the
// scope's notion of the same instance. Scope is called once per binding.
type Scope interface {
	Scope(key Key, unscoped Provider) Provider
	String() string
}

var (
	// Singleton caches one instance per injector for the injector's
	// lifetime. Concurrent first callers are serialized so the underlying
	// provider runs once; failed creations are retried by the next caller.
	Singleton Scope = singletonScope{}

	// NoScope returns a fresh instance for every resolution.
	NoScope Scope = noScope{}
)

type noScope struct{}

func (noScope) Scope(_ Key, unscoped Provider) Provider { return unscoped }
func (noScope) String() string                          { return "NoScope" }

type singletonScope struct{}

func (singletonScope) String() string { return "Singleton" }

func (singletonScope) Scope(key Key, unscoped Provider) Provider {
	return &singletonProvider{key: key, unscoped: unscoped, locks: lockGraphOf(unscoped)}
}

type singletonProvider struct {
	key      Key
	unscoped Provider
	locks    *lockGraph
	onCreate func(key Key, v any)

	done  atomic.Bool
	value any
}

func (p *singletonProvider) Get(ctx context.Context) (any, error) {
	if p.done.Load() {
		return p.value, nil
	}
	ctx, rc, _ := ensureResolveContext(ctx)
	res, err := p.locks.acquire(ctx, p, rc)
	if err != nil {
		return nil, rc.fail(UnknownSource, err)
	}
	switch res {
	case lockReentrant:
		// the construction engine breaks the cycle or reports it
		return p.unscoped.Get(ctx)
	case lockCycle:
		return nil, rc.fail(UnknownSource, &CircularDependencyError{Key: p.key, Path: rc.pathKeys()})
	}
	defer p.locks.release(p)

	if p.done.Load() {
		return p.value, nil
	}
	v, err := p.unscoped.Get(ctx)
	if err != nil {
		return nil, err
	}
	p.value = v
	p.done.Store(true)
	if p.onCreate != nil {
		p.onCreate(p.key, v)
	}
	return v, nil
}

// lockGraphOf shares the injector-wide lock graph when unscoped comes from
// an injector, so waits across keys of the same injector tree are checked
// for cycles.
func lockGraphOf(unscoped Provider) *lockGraph {
	if fp, ok := unscoped.(*factoryProvider); ok {
		return fp.injector.root().locks
	}
	return newLockGraph()
}

func isSingleton(s Scope) bool {
	_, ok := s.(singletonScope)
	return ok
}
