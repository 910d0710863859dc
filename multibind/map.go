package multibind

import (
	"context"

	"github.com/centraunit/inject"
)

// MapBinder contributes entries to the map map[K]V. A key contributed twice
// is an error unless duplicates are permitted, in which case the first
// contribution wins. The binder also binds map[K]inject.ProviderOf[V] and
// map[K][]V, which lists every value contributed per key.
type MapBinder[K comparable, V any] struct {
	b         *inject.Binder
	aggregate inject.Key
}

// NewMapBinder declares the map on b. Calling it again with the same
// options, from any module, refers to the same map.
func NewMapBinder[K comparable, V any](b *inject.Binder, opts ...Option) *MapBinder[K, V] {
	o := applyOptions(opts)
	agg := inject.KeyOf[map[K]V](o.qualifier...)
	b.Bind(agg).ToProvider(&mapProvider[K, V]{mapCore: &mapCore{aggregate: agg}})
	b.Bind(inject.KeyOf[map[K]inject.ProviderOf[V]](o.qualifier...)).ToProvider(&mapProvidersProvider[K, V]{mapCore: &mapCore{aggregate: agg}})
	b.Bind(inject.KeyOf[map[K][]V](o.qualifier...)).ToProvider(&multimapProvider[K, V]{mapCore: &mapCore{aggregate: agg}})
	return &MapBinder[K, V]{b: b, aggregate: agg}
}

// Key returns the key of the map.
func (m *MapBinder[K, V]) Key() inject.Key { return m.aggregate }

// AddBinding declares the value for key. key must be comparable at run time.
func (m *MapBinder[K, V]) AddBinding(key K) *inject.BindingBuilder {
	e := element{aggregate: m.aggregate, role: roleElement, id: elementIDs.Add(1), mapKey: key}
	return m.b.Bind(inject.NewKey(typeOf[V](), e))
}

// PermitDuplicates keeps the first value of a repeated key instead of
// failing.
func (m *MapBinder[K, V]) PermitDuplicates() *MapBinder[K, V] {
	permitDuplicates(m.b, m.aggregate)
	return m
}

type mapCore struct {
	aggregate inject.Key
	inj       *inject.Injector
	entries   []inject.Binding
	permit    bool
}

func (c *mapCore) Initialize(inj *inject.Injector) error {
	c.inj = inj
	c.entries = elementKeys(inj, c.aggregate)
	c.permit = permitted(inj, c.aggregate)
	return nil
}

func (c *mapCore) Dependencies() []inject.Dependency {
	deps := make([]inject.Dependency, 0, len(c.entries))
	for _, b := range c.entries {
		deps = append(deps, inject.Dependency{Key: b.Key(), Index: -1, Member: c.aggregate.String()})
	}
	return deps
}

func mapKeyOf(b inject.Binding) any {
	return b.Key().Qualifier().(element).mapKey
}

// typedMapKey returns the key of b as K. A nil key of an interface K stays
// the zero K.
func typedMapKey[K comparable](b inject.Binding) K {
	k, _ := mapKeyOf(b).(K)
	return k
}

// checkDuplicates reports every repeated key after its first contribution.
func (c *mapCore) checkDuplicates() *inject.Errors {
	var errs inject.Errors
	if c.permit {
		return &errs
	}
	first := make(map[any]inject.Binding, len(c.entries))
	for _, b := range c.entries {
		k := mapKeyOf(b)
		if prev, ok := first[k]; ok {
			errs.AddError(b.Source(), &DuplicateKeyError{
				Map:    c.aggregate,
				MapKey: k,
				First:  prev.Source(),
				Second: b.Source(),
			}, nil)
			continue
		}
		first[k] = b
	}
	return &errs
}

type mapProvider[K comparable, V any] struct {
	*mapCore
}

// Initialize reports repeated keys while the injector is built.
func (p *mapProvider[K, V]) Initialize(inj *inject.Injector) error {
	if err := p.mapCore.Initialize(inj); err != nil {
		return err
	}
	return p.checkDuplicates().CreationError()
}

func (p *mapProvider[K, V]) Get(ctx context.Context) (any, error) {
	var errs inject.Errors
	out := make(map[K]V, len(p.entries))
	for _, b := range p.entries {
		k := typedMapKey[K](b)
		if _, ok := out[k]; ok {
			continue
		}
		v, err := p.inj.GetInstance(ctx, b.Key())
		if err != nil {
			errs.AddError(b.Source(), err, nil)
			continue
		}
		out[k] = v.(V)
	}
	if errs.HasErrors() {
		return nil, errs.ProvisionError()
	}
	return out, nil
}

func (p *mapProvider[K, V]) Equal(other inject.Provider) bool {
	o, ok := other.(*mapProvider[K, V])
	return ok && o.aggregate == p.aggregate
}

type mapProvidersProvider[K comparable, V any] struct {
	*mapCore
}

func (p *mapProvidersProvider[K, V]) Get(ctx context.Context) (any, error) {
	out := make(map[K]inject.ProviderOf[V], len(p.entries))
	for _, b := range p.entries {
		k := typedMapKey[K](b)
		if _, ok := out[k]; ok {
			continue
		}
		pr, err := inject.GetProviderOf[V](p.inj, b.Key().Qualifier())
		if err != nil {
			return nil, err
		}
		out[k] = pr
	}
	return out, nil
}

func (p *mapProvidersProvider[K, V]) Equal(other inject.Provider) bool {
	o, ok := other.(*mapProvidersProvider[K, V])
	return ok && o.aggregate == p.aggregate
}

type multimapProvider[K comparable, V any] struct {
	*mapCore
}

func (p *multimapProvider[K, V]) Get(ctx context.Context) (any, error) {
	var errs inject.Errors
	out := make(map[K][]V, len(p.entries))
	for _, b := range p.entries {
		v, err := p.inj.GetInstance(ctx, b.Key())
		if err != nil {
			errs.AddError(b.Source(), err, nil)
			continue
		}
		k := typedMapKey[K](b)
		out[k] = append(out[k], v.(V))
	}
	if errs.HasErrors() {
		return nil, errs.ProvisionError()
	}
	return out, nil
}

func (p *multimapProvider[K, V]) Equal(other inject.Provider) bool {
	o, ok := other.(*multimapProvider[K, V])
	return ok && o.aggregate == p.aggregate
}
