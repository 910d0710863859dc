package multibind

import (
	"context"

	"github.com/centraunit/inject"
)

// SetBinder contributes elements to the slice []T. Resolving the slice
// returns every distinct element in declaration order; equal elements are
// an error unless duplicates are permitted. The binder also binds
// []inject.ProviderOf[T] and Contributions[T].
type SetBinder[T any] struct {
	b         *inject.Binder
	aggregate inject.Key
}

// NewSetBinder declares the set of T on b. Calling it again with the same
// options, from any module, refers to the same set.
func NewSetBinder[T any](b *inject.Binder, opts ...Option) *SetBinder[T] {
	o := applyOptions(opts)
	agg := inject.KeyOf[[]T](o.qualifier...)
	b.Bind(agg).ToProvider(&setProvider[T]{setCore: &setCore{aggregate: agg}})
	b.Bind(inject.KeyOf[[]inject.ProviderOf[T]](o.qualifier...)).ToProvider(&setProvidersProvider[T]{setCore: &setCore{aggregate: agg}})
	b.Bind(inject.KeyOf[Contributions[T]](o.qualifier...)).ToProvider(&contributionsProvider[T]{setCore: &setCore{aggregate: agg}})
	return &SetBinder[T]{b: b, aggregate: agg}
}

// Key returns the key of the slice.
func (s *SetBinder[T]) Key() inject.Key { return s.aggregate }

// AddBinding declares a new element. Complete it with a target such as
// ToInstance or ToConstructor.
func (s *SetBinder[T]) AddBinding() *inject.BindingBuilder {
	e := element{aggregate: s.aggregate, role: roleElement, id: elementIDs.Add(1)}
	return s.b.Bind(inject.NewKey(typeOf[T](), e))
}

// PermitDuplicates keeps the first of equal elements instead of failing.
// It applies to the whole set once any module calls it.
func (s *SetBinder[T]) PermitDuplicates() *SetBinder[T] {
	permitDuplicates(s.b, s.aggregate)
	return s
}

// Contribution is one element as contributed, before deduplication.
type Contribution[T any] struct {
	Value  T
	Source inject.Source
}

// Contributions lists every element contributed to a set, including
// duplicates, in declaration order.
type Contributions[T any] []Contribution[T]

type setCore struct {
	aggregate inject.Key
	inj       *inject.Injector
	elements  []inject.Binding
	permit    bool
}

func (c *setCore) Initialize(inj *inject.Injector) error {
	c.inj = inj
	c.elements = elementKeys(inj, c.aggregate)
	c.permit = permitted(inj, c.aggregate)
	return nil
}

func (c *setCore) Dependencies() []inject.Dependency {
	deps := make([]inject.Dependency, 0, len(c.elements))
	for _, b := range c.elements {
		deps = append(deps, inject.Dependency{Key: b.Key(), Index: -1, Member: c.aggregate.String()})
	}
	return deps
}

type resolved struct {
	value  any
	source inject.Source
}

// resolve resolves every element, collecting all failures.
func (c *setCore) resolve(ctx context.Context) ([]resolved, error) {
	var errs inject.Errors
	out := make([]resolved, 0, len(c.elements))
	for _, b := range c.elements {
		v, err := c.inj.GetInstance(ctx, b.Key())
		if err != nil {
			errs.AddError(b.Source(), err, nil)
			continue
		}
		out = append(out, resolved{value: v, source: b.Source()})
	}
	return out, errs.ProvisionError()
}

// dedupe keeps the first of equal elements and reports every later one
// unless duplicates are permitted.
func (c *setCore) dedupe(all []resolved) ([]resolved, *inject.Errors) {
	var errs inject.Errors
	kept := make([]resolved, 0, len(all))
	for _, r := range all {
		dup := -1
		for i, k := range kept {
			if equal(k.value, r.value) {
				dup = i
				break
			}
		}
		if dup < 0 {
			kept = append(kept, r)
			continue
		}
		if !c.permit {
			errs.AddError(r.source, &DuplicateElementError{
				Set:    c.aggregate,
				Value:  r.value,
				First:  kept[dup].source,
				Second: r.source,
			}, nil)
		}
	}
	return kept, &errs
}

type setProvider[T any] struct {
	*setCore
}

// Initialize reports equal instance elements while the injector is built.
func (p *setProvider[T]) Initialize(inj *inject.Injector) error {
	if err := p.setCore.Initialize(inj); err != nil {
		return err
	}
	var static []resolved
	for _, b := range p.elements {
		if ib, ok := b.(*inject.InstanceBinding); ok {
			static = append(static, resolved{value: ib.Instance(), source: ib.Source()})
		}
	}
	_, errs := p.dedupe(static)
	return errs.CreationError()
}

func (p *setProvider[T]) Get(ctx context.Context) (any, error) {
	all, err := p.resolve(ctx)
	if err != nil {
		return nil, err
	}
	kept, errs := p.dedupe(all)
	if errs.HasErrors() {
		return nil, errs.ProvisionError()
	}
	out := make([]T, 0, len(kept))
	for _, r := range kept {
		out = append(out, r.value.(T))
	}
	return out, nil
}

func (p *setProvider[T]) Equal(other inject.Provider) bool {
	o, ok := other.(*setProvider[T])
	return ok && o.aggregate == p.aggregate
}

type setProvidersProvider[T any] struct {
	*setCore
}

func (p *setProvidersProvider[T]) Get(ctx context.Context) (any, error) {
	out := make([]inject.ProviderOf[T], 0, len(p.elements))
	for _, b := range p.elements {
		pr, err := inject.GetProviderOf[T](p.inj, b.Key().Qualifier())
		if err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, nil
}

func (p *setProvidersProvider[T]) Equal(other inject.Provider) bool {
	o, ok := other.(*setProvidersProvider[T])
	return ok && o.aggregate == p.aggregate
}

type contributionsProvider[T any] struct {
	*setCore
}

func (p *contributionsProvider[T]) Get(ctx context.Context) (any, error) {
	all, err := p.resolve(ctx)
	if err != nil {
		return nil, err
	}
	out := make(Contributions[T], 0, len(all))
	for _, r := range all {
		out = append(out, Contribution[T]{Value: r.value.(T), Source: r.source})
	}
	return out, nil
}

func (p *contributionsProvider[T]) Equal(other inject.Provider) bool {
	o, ok := other.(*contributionsProvider[T])
	return ok && o.aggregate == p.aggregate
}
