package inject

import (
	"context"
	"errors"
	"reflect"
)

// New builds an injector from modules using DefaultConfig.
func New(modules ...Module) (*Injector, error) {
	return NewWithConfig(DefaultConfig(), modules...)
}

// NewWithConfig builds an injector from modules. Every configuration problem
// found is reported in one *CreationError.
func NewWithConfig(cfg Config, modules ...Module) (*Injector, error) {
	cfg, err := NewConfig(cfg)
	if err != nil {
		return nil, err
	}
	return build(cfg, nil, modules)
}

// builder finalizes one injector and the private environments declared by
// its modules.
type builder struct {
	errs       Errors
	envs       []*Injector
	injections map[*Injector][]injectionDecl
	injected   map[any]bool
}

func build(cfg Config, parent *Injector, modules []Module) (*Injector, error) {
	rec := newRecorder()
	binder := &Binder{rec: rec}
	for _, m := range modules {
		binder.Install(m)
	}

	bld := &builder{
		injections: make(map[*Injector][]injectionDecl),
		injected:   make(map[any]bool),
	}
	inj := newInjector(cfg, parent)
	bld.index(inj, rec)

	for _, env := range bld.envs {
		bld.checkLinkCycles(env)
	}
	for _, env := range bld.envs {
		bld.initialize(env)
	}
	for _, env := range bld.envs {
		bld.validate(env)
	}
	if err := bld.fail(inj); err != nil {
		return nil, err
	}

	for _, env := range bld.envs {
		bld.injectMembers(env)
	}
	if err := bld.fail(inj); err != nil {
		return nil, err
	}

	for _, env := range bld.envs {
		bld.createEagerSingletons(env)
	}
	if err := bld.fail(inj); err != nil {
		return nil, err
	}

	inj.logger.Info("injector created",
		"bindings", len(inj.order),
		"private_environments", len(bld.envs)-1,
		"stage", string(cfg.Stage),
		"child", parent != nil)
	return inj, nil
}

func (bld *builder) fail(inj *Injector) error {
	if !bld.errs.HasErrors() {
		return nil
	}
	inj.logger.Warn("injector creation failed", "errors", bld.errs.Len())
	return bld.errs.CreationError()
}

// index records the declarations of rec into inj, then indexes rec's private
// environments as child injectors.
func (bld *builder) index(inj *Injector, rec *recorder) {
	bld.envs = append(bld.envs, inj)
	bld.errs.Merge(&rec.errors)
	bld.injections[inj] = rec.injections

	for _, d := range rec.constructors {
		c, err := newConstructor(d.fn, d.opts, d.source)
		if err != nil {
			bld.errs.AddError(d.source, err, nil)
			continue
		}
		inj.constructors[c.out] = append(inj.constructors[c.out], c)
	}
	for _, d := range rec.methods {
		m, err := newMethodPoint(d.fn, d.opts, d.source)
		if err != nil {
			bld.errs.AddError(d.source, err, nil)
			continue
		}
		inj.methods[m.receiver] = append(inj.methods[m.receiver], m)
	}
	for _, d := range rec.forwarders {
		t := d.fw.iface()
		if inj.forwarderFor(t) != nil {
			bld.errs.AddError(d.source, &InvalidBindingError{Key: NewKey(t, nil), Reason: "a forwarder is already bound for this interface"}, nil)
			continue
		}
		inj.forwarders[t] = d.fw
	}

	for _, d := range rec.bindings {
		b, err := bld.toBinding(inj, d)
		if err != nil {
			bld.errs.AddError(d.source, err, nil)
			continue
		}
		bld.put(inj, b)
	}

	for _, prec := range rec.privates {
		child := newInjector(inj.cfg, inj)
		child.private = true
		inj.children = append(inj.children, child)
		bld.index(child, prec)
		for _, e := range prec.exposes {
			if _, ok := child.bindings[e.key]; !ok {
				bld.errs.AddError(e.source, &InvalidBindingError{Key: e.key, Reason: "cannot expose a key that is not bound in the private environment"}, nil)
				continue
			}
			bld.put(inj, &ExposedBinding{bindingBase: bindingBase{key: e.key, source: e.source}, private: child})
		}
	}
}

func (bld *builder) toBinding(inj *Injector, d *bindingDecl) (Binding, error) {
	if len(d.problems) > 0 {
		return nil, errors.Join(d.problems...)
	}
	base := bindingBase{key: d.key, source: d.source, scope: d.scope, eager: d.eager}
	if base.scope == NoScope {
		base.scope = nil
	}
	keyType := d.key.Type()

	switch d.kind {
	case declInstance:
		if d.scopeSet {
			return nil, &InvalidScopeError{Key: d.key, Scope: d.scope.String(), Reason: "instance bindings cannot be scoped"}
		}
		if isNilValue(d.instance) {
			return nil, &InvalidBindingError{Key: d.key, Reason: "bound to a nil instance"}
		}
		if t := reflect.TypeOf(d.instance); !t.AssignableTo(keyType) {
			return nil, &TypeMismatchError{Expected: keyType.String(), Got: t.String()}
		}
		return &InstanceBinding{bindingBase: base, instance: d.instance}, nil

	case declLinked:
		if d.target.IsZero() {
			return nil, &InvalidBindingError{Key: d.key, Reason: "linked to a zero key"}
		}
		if d.target == d.key {
			return nil, &LinkCycleError{Chain: []Key{d.key, d.key}}
		}
		if !d.target.Type().AssignableTo(keyType) {
			return nil, &TypeMismatchError{Expected: keyType.String(), Got: d.target.Type().String()}
		}
		return &LinkedBinding{bindingBase: base, target: d.target}, nil

	case declProvider:
		if d.provider == nil {
			return nil, &InvalidBindingError{Key: d.key, Reason: "bound to a nil provider"}
		}
		return &ProviderBinding{bindingBase: base, provider: d.provider}, nil

	case declConstructor:
		c, err := newConstructor(d.ctorFn, d.ctorOpts, d.source)
		if err != nil {
			return nil, err
		}
		if !c.out.AssignableTo(keyType) {
			return nil, &TypeMismatchError{Expected: keyType.String(), Got: c.out.String()}
		}
		b, err := inj.constructorBinding(d.key, c.out, c, d.source, false)
		if err != nil {
			return nil, err
		}
		b.bindingBase = base
		return b, nil

	default:
		if d.key.HasQualifier() {
			return nil, &InvalidBindingError{Key: d.key, Reason: "a qualified binding needs a target"}
		}
		b, err := inj.constructorBinding(d.key, keyType, nil, d.source, false)
		if err != nil {
			return nil, err
		}
		b.bindingBase = base
		return b, nil
	}
}

// put adds b to inj's index. A binding equal to the existing one for its key
// is merged.
func (bld *builder) put(inj *Injector, b Binding) {
	key := b.Key()
	if key == injectorKey {
		bld.errs.AddError(b.Source(), &InvalidBindingError{Key: key, Reason: "the injector is bound automatically"}, nil)
		return
	}
	if existing, ok := inj.bindings[key]; ok {
		if existing.sameTarget(b) {
			return
		}
		bld.errs.AddError(b.Source(), &DuplicateBindingError{Key: key, First: existing.Source(), Second: b.Source()}, nil)
		return
	}
	if inj.parent != nil {
		if existing, _ := inj.parent.explicit(key); existing != nil {
			bld.errs.AddError(b.Source(), &DuplicateBindingError{Key: key, First: existing.Source(), Second: b.Source()}, nil)
			return
		}
	}
	inj.bindings[key] = b
	inj.order = append(inj.order, key)
}

// checkLinkCycles reports every cycle of linked bindings reachable from
// env's bindings once.
func (bld *builder) checkLinkCycles(env *Injector) {
	reported := make(map[Key]bool)
	for _, k := range env.order {
		lb, ok := env.bindings[k].(*LinkedBinding)
		if !ok || reported[k] {
			continue
		}
		chain := []Key{k}
		seen := map[Key]int{k: 0}
		for cur := lb.target; ; {
			if i, ok := seen[cur]; ok {
				if !reported[cur] {
					cycle := append(append([]Key(nil), chain[i:]...), cur)
					for _, c := range chain[i:] {
						reported[c] = true
					}
					src := lb.source
					if in, _ := env.explicit(chain[i]); in != nil {
						src = in.Source()
					}
					bld.errs.AddError(src, &LinkCycleError{Chain: cycle}, nil)
				}
				break
			}
			next, _ := env.explicit(cur)
			nl, ok := next.(*LinkedBinding)
			if !ok {
				break
			}
			seen[cur] = len(chain)
			chain = append(chain, cur)
			cur = nl.target
		}
	}
}

// initialize prepares constructor bindings and provider initializers now
// that the whole index exists.
func (bld *builder) initialize(env *Injector) {
	for _, k := range env.order {
		switch b := env.bindings[k].(type) {
		case *ConstructorBinding:
			if b.injector == nil {
				if err := env.initConstructorBinding(b); err != nil {
					bld.errs.AddError(b.source, err, nil)
				}
			}
		case *ProviderBinding:
			if in, ok := b.provider.(Initializer); ok {
				if err := in.Initialize(env); err != nil {
					bld.errs.AddError(b.source, err, nil)
				}
			}
		}
	}
}

// validate checks that every dependency of env's bindings can be satisfied,
// synthesizing just-in-time bindings on the way.
func (bld *builder) validate(env *Injector) {
	visited := make(map[Binding]bool)
	for _, k := range env.order {
		b := env.bindings[k]
		bld.validateBinding(env, b, []PathElement{{Key: k, Source: b.Source()}}, visited)
	}
}

func (bld *builder) validateBinding(env *Injector, b Binding, path []PathElement, visited map[Binding]bool) {
	if visited[b] {
		return
	}
	visited[b] = true
	for _, d := range b.Dependencies() {
		depPath := append(append([]PathElement(nil), path...), PathElement{Key: d.Key, Via: d.String()})
		dep, owner, err := env.lookup(d.Key)
		if err != nil {
			if !d.Optional {
				bld.errs.AddError(path[0].Source, err, depPath)
			}
			continue
		}
		if _, explicit := owner.bindings[dep.Key()]; !explicit && owner == env {
			bld.validateBinding(env, dep, depPath, visited)
		}
	}
}

// injectMembers injects instance bindings and requested injections.
func (bld *builder) injectMembers(env *Injector) {
	for _, k := range env.order {
		if ib, ok := env.bindings[k].(*InstanceBinding); ok {
			bld.injectValue(env, ib.instance, ib.source, false)
		}
	}
	for _, r := range bld.injections[env] {
		bld.injectValue(env, r.target, r.source, true)
	}
}

func (bld *builder) injectValue(env *Injector, v any, src Source, requested bool) {
	rv := reflect.ValueOf(v)
	if v == nil || rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		if requested {
			bld.errs.AddError(src, &InvalidBindingError{Reason: "requested injection needs a non-nil pointer to a struct"}, nil)
		}
		return
	}
	if bld.injected[v] {
		return
	}
	bld.injected[v] = true

	ctx, rc, _ := ensureResolveContext(context.Background())
	if err := env.injectMembers(ctx, rc, v, src); err != nil {
		bld.errs.AddError(src, err, nil)
		return
	}
	if lc, ok := v.(Lifecycle); ok {
		if err := lc.OnBoot(ctx); err != nil {
			bld.errs.AddError(src, &InitializationError{Type: rv.Type().String(), Err: err}, nil)
		}
	}
}

func (bld *builder) createEagerSingletons(env *Injector) {
	production := env.cfg.Stage == StageProduction
	for _, k := range env.order {
		b := env.bindings[k]
		if !b.IsEager() && !(production && isSingleton(b.Scope())) {
			continue
		}
		if _, err := env.GetInstance(context.Background(), k); err != nil {
			bld.errs.AddError(b.Source(), err, nil)
		}
	}
}
