package inject

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Injector resolves keys to values. It is immutable once built and safe for
// concurrent use.
type Injector struct {
	parent  *Injector
	cfg     Config
	logger  *slog.Logger
	private bool

	bindings map[Key]Binding
	order    []Key

	constructors map[reflect.Type][]*constructor
	methods      map[reflect.Type][]*methodPoint
	forwarders   map[reflect.Type]forwarder

	jit       sync.Map // Key -> Binding
	jitGroup  singleflight.Group
	factories sync.Map // Key -> factory
	factGroup singleflight.Group
	members   sync.Map // reflect.Type -> membersResult

	// root only
	locks  *lockGraph
	keyIDs sync.Map
	keySeq atomic.Uint64

	mu       sync.Mutex
	created  []createdSingleton
	children []*Injector
	stopped  bool
}

type createdSingleton struct {
	key   Key
	value any
}

type membersResult struct {
	m   *membersInjector
	err error
}

var injectorKey = KeyOf[*Injector]()

func newInjector(cfg Config, parent *Injector) *Injector {
	inj := &Injector{
		parent:       parent,
		cfg:          cfg,
		logger:       cfg.logger(),
		bindings:     make(map[Key]Binding),
		constructors: make(map[reflect.Type][]*constructor),
		methods:      make(map[reflect.Type][]*methodPoint),
		forwarders:   make(map[reflect.Type]forwarder),
	}
	if parent == nil {
		inj.locks = newLockGraph()
	}
	return inj
}

func (inj *Injector) root() *Injector {
	r := inj
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// keyID interns key as a string usable by singleflight.
func (inj *Injector) keyID(key Key) string {
	r := inj.root()
	if id, ok := r.keyIDs.Load(key); ok {
		return id.(string)
	}
	id, _ := r.keyIDs.LoadOrStore(key, strconv.FormatUint(r.keySeq.Add(1), 36))
	return id.(string)
}

// Logger returns the logger the injector reports to.
func (inj *Injector) Logger() *slog.Logger { return inj.logger }

// Parent returns the parent injector, or nil for a root injector.
func (inj *Injector) Parent() *Injector { return inj.parent }

// Bindings returns the explicit bindings of this injector in declaration
// order. Bindings of the parent and just-in-time bindings are not included.
func (inj *Injector) Bindings() []Binding {
	out := make([]Binding, 0, len(inj.order))
	for _, k := range inj.order {
		out = append(out, inj.bindings[k])
	}
	return out
}

// explicit finds an explicit binding for key and the injector that owns it.
func (inj *Injector) explicit(key Key) (Binding, *Injector) {
	for cur := inj; cur != nil; cur = cur.parent {
		if b, ok := cur.bindings[key]; ok {
			return b, cur
		}
	}
	return nil, nil
}

func (inj *Injector) cachedJIT(key Key) (Binding, *Injector) {
	for cur := inj; cur != nil; cur = cur.parent {
		if b, ok := cur.jit.Load(key); ok {
			return b.(Binding), cur
		}
	}
	return nil, nil
}

// GetExistingBinding returns the explicit or already synthesized binding
// for key, or nil. It never synthesizes.
func (inj *Injector) GetExistingBinding(key Key) Binding {
	if b, _ := inj.explicit(key); b != nil {
		return b
	}
	if key == injectorKey {
		return inj.selfBinding()
	}
	b, _ := inj.cachedJIT(key)
	return b
}

// GetBinding returns the binding for key, synthesizing it just in time if
// allowed.
func (inj *Injector) GetBinding(key Key) (Binding, error) {
	b, _, err := inj.lookup(key)
	if err != nil {
		var errs Errors
		errs.AddError(UnknownSource, err, []PathElement{{Key: key}})
		return nil, errs.ProvisionError()
	}
	return b, nil
}

func (inj *Injector) selfBinding() Binding {
	return &InstanceBinding{bindingBase: bindingBase{key: injectorKey, source: UnknownSource}, instance: inj}
}

// lookup returns the binding for key and the injector that owns it.
func (inj *Injector) lookup(key Key) (Binding, *Injector, error) {
	if key.IsZero() {
		return nil, nil, &InvalidBindingError{Reason: "zero key"}
	}
	if b, owner := inj.explicit(key); b != nil {
		return b, owner, nil
	}
	if key == injectorKey {
		if b, ok := inj.jit.Load(key); ok {
			return b.(Binding), inj, nil
		}
		b, _ := inj.jit.LoadOrStore(key, inj.selfBinding())
		return b.(Binding), inj, nil
	}
	if b, owner := inj.cachedJIT(key); b != nil {
		return b, owner, nil
	}
	b, err := inj.jitBinding(key)
	if err != nil {
		return nil, nil, err
	}
	return b, inj, nil
}

// jitBinding synthesizes a binding for key once; concurrent callers share
// the result.
func (inj *Injector) jitBinding(key Key) (Binding, error) {
	v, err, _ := inj.jitGroup.Do(inj.keyID(key), func() (any, error) {
		if b, ok := inj.jit.Load(key); ok {
			return b, nil
		}
		b, err := inj.synthesize(key)
		if err != nil {
			return nil, err
		}
		inj.jit.Store(key, b)
		inj.logger.Debug("synthesized just-in-time binding", "key", key.String(), "binding", b.String(), "private", inj.private)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Binding), nil
}

func (inj *Injector) synthesize(key Key) (Binding, error) {
	t := key.Type()
	if pt, ok := providedTypeOf(t); ok {
		target := Key{typ: pt, qualifier: key.qualifier}
		return &ProviderBinding{
			bindingBase: bindingBase{key: key, source: UnknownSource},
			provider:    &providerOfProvider{inj: inj, typ: t, target: target},
		}, nil
	}
	if key.HasQualifier() {
		return nil, &MissingImplementationError{Key: key, Reason: "qualified keys must be bound explicitly"}
	}
	if inj.cfg.RequireExplicitBindings {
		return nil, &MissingImplementationError{Key: key, Reason: "explicit bindings are required"}
	}
	return inj.constructorBinding(key, key.Type(), nil, UnknownSource, true)
}

// constructorBinding builds and initializes a constructor binding for key
// producing impl. An explicit ctor takes precedence over registered ones.
func (inj *Injector) constructorBinding(key Key, impl reflect.Type, ctor *constructor, src Source, implicit bool) (*ConstructorBinding, error) {
	if ctor == nil {
		ctors := inj.constructorsFor(impl)
		switch len(ctors) {
		case 0:
			if reason, ok := constructibleType(impl); !ok {
				return nil, &MissingImplementationError{Key: key, Reason: reason}
			}
		case 1:
			ctor = ctors[0]
		default:
			return nil, &AmbiguousConstructorError{Type: impl.String(), Count: len(ctors)}
		}
	}
	b := &ConstructorBinding{
		bindingBase: bindingBase{key: key, source: src},
		implType:    impl,
		ctor:        ctor,
		implicit:    implicit,
	}
	if implicit {
		if err := inj.initConstructorBinding(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (inj *Injector) initConstructorBinding(b *ConstructorBinding) error {
	ci := &constructorInjector{binding: b}
	if st := structOf(b.implType); st != nil {
		m, err := inj.membersInjectorFor(st)
		if err != nil {
			return err
		}
		ci.members = m
	}
	b.injector = ci
	return nil
}

// structOf returns S for S or *S, and nil otherwise.
func structOf(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	return t
}

func (inj *Injector) membersInjectorFor(st reflect.Type) (*membersInjector, error) {
	if r, ok := inj.members.Load(st); ok {
		res := r.(membersResult)
		return res.m, res.err
	}
	m, err := newMembersInjector(st, inj.methodsFor(reflect.PointerTo(st)))
	r, _ := inj.members.LoadOrStore(st, membersResult{m: m, err: err})
	res := r.(membersResult)
	return res.m, res.err
}

func (inj *Injector) constructorsFor(t reflect.Type) []*constructor {
	var out []*constructor
	for cur := inj; cur != nil; cur = cur.parent {
		out = append(out, cur.constructors[t]...)
	}
	return out
}

func (inj *Injector) methodsFor(recv reflect.Type) []*methodPoint {
	var out []*methodPoint
	for cur := inj; cur != nil; cur = cur.parent {
		out = append(cur.methods[recv], out...)
	}
	return out
}

func (inj *Injector) forwarderFor(t reflect.Type) forwarder {
	for cur := inj; cur != nil; cur = cur.parent {
		if fw, ok := cur.forwarders[t]; ok {
			return fw
		}
	}
	return nil
}

// factory produces a value for a dependency on a resolve path.
type factory interface {
	get(ctx context.Context, rc *resolveContext, dep Dependency) (any, error)
}

func (inj *Injector) factoryFor(key Key) (factory, error) {
	b, owner, err := inj.lookup(key)
	if err != nil {
		return nil, err
	}
	return owner.factoryOf(b)
}

// factoryOf returns the memoized factory of b, a binding owned by inj.
func (inj *Injector) factoryOf(b Binding) (factory, error) {
	key := b.Key()
	if f, ok := inj.factories.Load(key); ok {
		return f.(factory), nil
	}
	v, err, _ := inj.factGroup.Do(inj.keyID(key), func() (any, error) {
		if f, ok := inj.factories.Load(key); ok {
			return f, nil
		}
		f, err := inj.newFactory(b)
		if err != nil {
			return nil, err
		}
		inj.factories.Store(key, f)
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(factory), nil
}

func (inj *Injector) newFactory(b Binding) (factory, error) {
	var raw factory
	switch b := b.(type) {
	case *InstanceBinding:
		return constantFactory{value: b.instance}, nil
	case *LinkedBinding:
		raw = &linkedFactory{inj: inj, target: b.target, source: b.source}
	case *ProviderBinding:
		raw = &providerFactory{inj: inj, binding: b}
	case *ConstructorBinding:
		if b.injector == nil {
			if err := inj.initConstructorBinding(b); err != nil {
				return nil, err
			}
		}
		raw = &constructorFactory{inj: inj, binding: b}
	case *ExposedBinding:
		return &exposedFactory{private: b.private, key: b.key}, nil
	default:
		return nil, &InvalidBindingError{Key: b.Key(), Reason: fmt.Sprintf("unsupported binding %T", b)}
	}

	scope := b.Scope()
	if scope == nil || scope == NoScope {
		return raw, nil
	}
	scoped := scope.Scope(b.Key(), &factoryProvider{injector: inj, f: raw, key: b.Key()})
	if sp, ok := scoped.(*singletonProvider); ok {
		sp.onCreate = inj.trackSingleton
	}
	return &scopedFactory{provider: scoped, source: b.Source()}, nil
}

// creationLog returns the injector recording the singletons of inj: the
// injector its private environments were declared in.
func (inj *Injector) creationLog() *Injector {
	l := inj
	for l.private && l.parent != nil {
		l = l.parent
	}
	return l
}

func (inj *Injector) trackSingleton(key Key, v any) {
	l := inj.creationLog()
	l.mu.Lock()
	l.created = append(l.created, createdSingleton{key: key, value: v})
	l.mu.Unlock()
	inj.logger.Debug("created singleton", "key", key.String(), "type", fmt.Sprintf("%T", v))
}

type constantFactory struct {
	value any
}

func (f constantFactory) get(context.Context, *resolveContext, Dependency) (any, error) {
	return f.value, nil
}

type linkedFactory struct {
	inj    *Injector
	target Key
	source Source
}

func (f *linkedFactory) get(ctx context.Context, rc *resolveContext, dep Dependency) (any, error) {
	tf, err := f.inj.factoryFor(f.target)
	if err != nil {
		return nil, rc.fail(f.source, err)
	}
	return tf.get(ctx, rc, dep)
}

type exposedFactory struct {
	private *Injector
	key     Key
}

func (f *exposedFactory) get(ctx context.Context, rc *resolveContext, dep Dependency) (any, error) {
	pf, err := f.private.factoryFor(f.key)
	if err != nil {
		return nil, rc.fail(UnknownSource, err)
	}
	return pf.get(ctx, rc, dep)
}

type providerFactory struct {
	inj     *Injector
	binding *ProviderBinding
}

func (f *providerFactory) get(ctx context.Context, rc *resolveContext, dep Dependency) (any, error) {
	b := f.binding
	return f.inj.guard(rc, f, dep, b.key, b.source, func(*construction) (any, error) {
		v, err := b.provider.Get(withResolveContext(ctx, rc))
		if err != nil {
			return nil, rc.fail(b.source, initError(b.key.Type(), err))
		}
		return v, nil
	})
}

type constructorFactory struct {
	inj     *Injector
	binding *ConstructorBinding
}

func (f *constructorFactory) get(ctx context.Context, rc *resolveContext, dep Dependency) (any, error) {
	b := f.binding
	return f.inj.guard(rc, f, dep, b.key, b.source, func(c *construction) (any, error) {
		return b.injector.construct(withResolveContext(ctx, rc), rc, f.inj, c)
	})
}

type scopedFactory struct {
	provider Provider
	source   Source
}

func (f *scopedFactory) get(ctx context.Context, rc *resolveContext, dep Dependency) (any, error) {
	prev := rc.dep
	rc.dep = &dep
	defer func() { rc.dep = prev }()
	v, err := f.provider.Get(withResolveContext(ctx, rc))
	if err != nil {
		return nil, rc.fail(f.source, err)
	}
	return v, nil
}

// factoryProvider exposes an unscoped factory to a Scope.
type factoryProvider struct {
	injector *Injector
	f        factory
	key      Key
}

func (p *factoryProvider) Get(ctx context.Context) (any, error) {
	ctx, rc, top := ensureResolveContext(ctx)
	dep := Dependency{Key: p.key, Index: -1}
	if rc.dep != nil {
		dep = *rc.dep
	}
	v, err := p.f.get(ctx, rc, dep)
	if err != nil && top {
		return nil, topLevelError(err)
	}
	return v, err
}

// guard runs build for the binding identified by id unless the path is
// already building it. A re-entrant request is served by the partially
// built instance, by a forwarding handle, or fails as a cycle.
func (inj *Injector) guard(rc *resolveContext, id any, dep Dependency, key Key, src Source, build func(c *construction) (any, error)) (any, error) {
	if c, ok := rc.constructing[id]; ok {
		if c.instance != nil {
			return c.instance, nil
		}
		fw := inj.forwarderFor(dep.Key.Type())
		if fw == nil {
			return nil, rc.fail(src, &CircularDependencyError{Key: key, Path: rc.pathKeys()})
		}
		h, v := fw.newHandle(dep.Key)
		c.handles = append(c.handles, h)
		inj.logger.Debug("breaking dependency cycle with forwarding handle", "key", dep.Key.String())
		return v, nil
	}

	c := &construction{}
	rc.constructing[id] = c
	defer delete(rc.constructing, id)

	v, err := build(c)
	if err != nil {
		return nil, err
	}
	for _, h := range c.handles {
		if err := h.patch(v); err != nil {
			return nil, rc.fail(src, err)
		}
	}
	return v, nil
}

// resolve produces the value for dep on the path of rc.
func (inj *Injector) resolve(ctx context.Context, rc *resolveContext, dep Dependency, src Source) (any, error) {
	rc.push(PathElement{Key: dep.Key, Source: src, Via: dep.String()})
	defer rc.pop()

	if err := ctx.Err(); err != nil {
		return nil, rc.fail(src, err)
	}
	f, err := inj.factoryFor(dep.Key)
	if err != nil {
		return nil, rc.fail(src, err)
	}
	v, err := f.get(ctx, rc, dep)
	if err != nil {
		return nil, err
	}
	if isNilValue(v) {
		if dep.Nullable {
			return nil, nil
		}
		return nil, rc.fail(src, &NullValueError{Key: dep.Key, For: dep.String()})
	}
	if t := reflect.TypeOf(v); !t.AssignableTo(dep.Key.Type()) {
		return nil, rc.fail(src, &TypeMismatchError{Expected: dep.Key.Type().String(), Got: t.String()})
	}
	return v, nil
}

// resolveOptional resolves dep, reporting skip when dep is optional and no
// binding exists for it.
func (inj *Injector) resolveOptional(ctx context.Context, rc *resolveContext, dep Dependency, src Source) (v any, skip bool, err error) {
	if dep.Optional {
		if _, _, err := inj.lookup(dep.Key); err != nil {
			return nil, true, nil
		}
	}
	v, err = inj.resolve(ctx, rc, dep, src)
	return v, false, err
}

// resolveAll resolves every dependency before failing, so one attempt
// reports all missing parameters.
func (inj *Injector) resolveAll(ctx context.Context, rc *resolveContext, deps []Dependency, src Source) ([]reflect.Value, error) {
	args := make([]reflect.Value, len(deps))
	var errs Errors
	for i, d := range deps {
		v, _, err := inj.resolveOptional(ctx, rc, d, src)
		if err != nil {
			errs.AddError(src, err, nil)
			continue
		}
		args[i] = valueOf(v, d.Key.Type())
	}
	if errs.HasErrors() {
		return nil, errs.ProvisionError()
	}
	return args, nil
}

// GetInstance resolves key. Called from inside a provider with the ctx it
// received, the resolution continues the caller's dependency path.
func (inj *Injector) GetInstance(ctx context.Context, key Key) (any, error) {
	ctx, rc, top := ensureResolveContext(ctx)
	v, err := inj.resolve(ctx, rc, Dependency{Key: key, Index: -1}, UnknownSource)
	if err != nil {
		if top {
			return nil, topLevelError(err)
		}
		return nil, err
	}
	return v, nil
}

// GetNullableInstance is like GetInstance but returns nil instead of
// failing when the binding produces nil.
func (inj *Injector) GetNullableInstance(ctx context.Context, key Key) (any, error) {
	ctx, rc, top := ensureResolveContext(ctx)
	v, err := inj.resolve(ctx, rc, Dependency{Key: key, Nullable: true, Index: -1}, UnknownSource)
	if err != nil && top {
		return nil, topLevelError(err)
	}
	return v, err
}

// topLevelError unwraps a declared error that is the only failure.
func topLevelError(err error) error {
	var pe *ProvisionError
	if !errors.As(err, &pe) || len(pe.Messages) != 1 {
		return err
	}
	var de *declaredError
	if errors.As(pe.Messages[0].Cause, &de) {
		return de.err
	}
	return err
}

// GetProvider returns a provider for key. The binding must exist or be
// synthesizable.
func (inj *Injector) GetProvider(key Key) (Provider, error) {
	if _, err := inj.GetBinding(key); err != nil {
		return nil, err
	}
	return &keyProvider{inj: inj, key: key}, nil
}

// InjectMembers injects the tagged fields and registered methods of target,
// a pointer to a struct.
func (inj *Injector) InjectMembers(ctx context.Context, target any) error {
	ctx, rc, top := ensureResolveContext(ctx)
	err := inj.injectMembers(ctx, rc, target, UnknownSource)
	if err != nil && top {
		return topLevelError(err)
	}
	return err
}

func (inj *Injector) injectMembers(ctx context.Context, rc *resolveContext, target any, src Source) error {
	v := reflect.ValueOf(target)
	if target == nil || v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return rc.fail(src, &InvalidBindingError{Reason: fmt.Sprintf("members injection needs a non-nil pointer to a struct, got %T", target)})
	}
	m, err := inj.membersInjectorFor(v.Elem().Type())
	if err != nil {
		return err
	}
	if m.empty() {
		return nil
	}
	return m.inject(ctx, rc, inj, v, src)
}

// CreateChildInjector builds an injector whose lookups fall back to inj.
func (inj *Injector) CreateChildInjector(modules ...Module) (*Injector, error) {
	return build(inj.cfg, inj, modules)
}

// Shutdown calls OnShutdown on every created singleton implementing
// Lifecycle, newest first. Singletons of private environments share the
// creation order of the injector they were declared in. Child injectors
// from CreateChildInjector are shut down separately. It is a no-op after
// the first call.
func (inj *Injector) Shutdown(ctx context.Context) error {
	inj.mu.Lock()
	if inj.stopped {
		inj.mu.Unlock()
		return nil
	}
	inj.stopped = true
	created := inj.created
	children := inj.children
	inj.mu.Unlock()

	var errs []error
	for i := len(created) - 1; i >= 0; i-- {
		lc, ok := created[i].value.(Lifecycle)
		if !ok {
			continue
		}
		if err := lc.OnShutdown(ctx); err != nil {
			inj.logger.Warn("singleton shutdown failed", "key", created[i].key.String(), "error", err)
			errs = append(errs, &ShutdownError{Type: fmt.Sprintf("%T", created[i].value), Err: err})
		}
	}
	for i := len(children) - 1; i >= 0; i-- {
		if err := children[i].Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	inj.logger.Info("injector shut down", "singletons", len(created), "errors", len(errs))
	return errors.Join(errs...)
}

// keyProvider resolves a key through an injector on every call.
type keyProvider struct {
	inj *Injector
	key Key
}

func (p *keyProvider) Get(ctx context.Context) (any, error) {
	return p.inj.GetInstance(ctx, p.key)
}

// providerOfProvider backs just-in-time ProviderOf[T] bindings.
type providerOfProvider struct {
	inj    *Injector
	typ    reflect.Type
	target Key
}

func (p *providerOfProvider) Get(context.Context) (any, error) {
	return newTypedProvider(p.typ, p.target, &keyProvider{inj: p.inj, key: p.target}), nil
}

func (p *providerOfProvider) Dependencies() []Dependency {
	return []Dependency{{Key: p.target, Index: -1}}
}

// Get resolves KeyOf[T](qualifier...) from inj.
func Get[T any](ctx context.Context, inj *Injector, qualifier ...any) (T, error) {
	var zero T
	v, err := inj.GetInstance(ctx, KeyOf[T](qualifier...))
	if err != nil || v == nil {
		return zero, err
	}
	return v.(T), nil
}

// MustGet is like Get but panics on error.
func MustGet[T any](ctx context.Context, inj *Injector, qualifier ...any) T {
	v, err := Get[T](ctx, inj, qualifier...)
	if err != nil {
		panic(err)
	}
	return v
}

// GetProviderOf returns a typed provider for KeyOf[T](qualifier...).
func GetProviderOf[T any](inj *Injector, qualifier ...any) (ProviderOf[T], error) {
	key := KeyOf[T](qualifier...)
	p, err := inj.GetProvider(key)
	if err != nil {
		return ProviderOf[T]{}, err
	}
	return ProviderOf[T]{key: key, p: p}, nil
}
