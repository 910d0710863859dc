package inject

import (
	"context"
	"sync"
)

// ContextScope is a custom scope whose instances live in a store carried by
// a context.Context. Each call to Enter opens a new store, so one entered
// context corresponds to one logical operation such as a request.
type ContextScope struct {
	name string
	key  *scopeStoreKey
}

type scopeStoreKey struct{ name string }

// NewContextScope creates a scope named name.
func NewContextScope(name string) *ContextScope {
	return &ContextScope{name: name, key: &scopeStoreKey{name: name}}
}

func (s *ContextScope) String() string { return s.name }

// Enter returns a context carrying a fresh, empty store for s.
func (s *ContextScope) Enter(parent context.Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithValue(parent, s.key, &scopeStore{
		values: make(map[Key]any),
		locks:  newLockGraph(),
	})
}

// InScope reports whether ctx carries a store for s.
func (s *ContextScope) InScope(ctx context.Context) bool {
	return s.storeFrom(ctx) != nil
}

// Seed stores value under key in the store carried by ctx, so it is
// returned for key without calling a provider.
func (s *ContextScope) Seed(ctx context.Context, key Key, value any) error {
	store := s.storeFrom(ctx)
	if store == nil {
		return &OutOfScopeError{Key: key, Scope: s.name}
	}
	store.put(key, value)
	return nil
}

// Scope implements Scope.
func (s *ContextScope) Scope(key Key, unscoped Provider) Provider {
	return &contextScopedProvider{scope: s, key: key, unscoped: unscoped}
}

func (s *ContextScope) storeFrom(ctx context.Context) *scopeStore {
	if ctx == nil {
		return nil
	}
	store, _ := ctx.Value(s.key).(*scopeStore)
	return store
}

// scopeStore holds the instances of one entered scope.
type scopeStore struct {
	mu     sync.RWMutex
	values map[Key]any
	locks  *lockGraph
}

func (s *scopeStore) load(key Key) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *scopeStore) put(key Key, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = v
}

type contextScopedProvider struct {
	scope    *ContextScope
	key      Key
	unscoped Provider
}

func (p *contextScopedProvider) Get(ctx context.Context) (any, error) {
	store := p.scope.storeFrom(ctx)
	ctx, rc, _ := ensureResolveContext(ctx)
	if store == nil {
		return nil, rc.fail(UnknownSource, &OutOfScopeError{Key: p.key, Scope: p.scope.name})
	}
	if v, ok := store.load(p.key); ok {
		return v, nil
	}
	res, err := store.locks.acquire(ctx, p.key, rc)
	if err != nil {
		return nil, rc.fail(UnknownSource, err)
	}
	switch res {
	case lockReentrant:
		return p.unscoped.Get(ctx)
	case lockCycle:
		return nil, rc.fail(UnknownSource, &CircularDependencyError{Key: p.key, Path: rc.pathKeys()})
	}
	defer store.locks.release(p.key)

	if v, ok := store.load(p.key); ok {
		return v, nil
	}
	v, err := p.unscoped.Get(ctx)
	if err != nil {
		return nil, err
	}
	store.put(p.key, v)
	return v, nil
}
