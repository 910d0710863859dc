package multibind

import (
	"context"

	"github.com/centraunit/inject"
)

// Optional is a value that may be absent.
type Optional[T any] struct {
	value   T
	present bool
}

// Some returns a present Optional holding v.
func Some[T any](v T) Optional[T] { return Optional[T]{value: v, present: true} }

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) { return o.value, o.present }

// IsPresent reports whether a value is present.
func (o Optional[T]) IsPresent() bool { return o.present }

// OrElse returns the value, or def when absent.
func (o Optional[T]) OrElse(def T) T {
	if o.present {
		return o.value
	}
	return def
}

// OptionalBinder declares Optional[T]. The value is the actual binding if
// one is set, else the default, else a standalone binding of T; it is
// present when the chosen binding produces a non-nil value. Once a default
// or actual binding is declared, T itself is bound too.
type OptionalBinder[T any] struct {
	b         *inject.Binder
	aggregate inject.Key
	direct    inject.Key
}

// NewOptionalBinder declares Optional[T] on b. Calling it again with the
// same options, from any module, refers to the same optional.
func NewOptionalBinder[T any](b *inject.Binder, opts ...Option) *OptionalBinder[T] {
	o := applyOptions(opts)
	agg := inject.KeyOf[Optional[T]](o.qualifier...)
	direct := inject.KeyOf[T](o.qualifier...)
	b.Bind(agg).ToProvider(&optionalProvider[T]{optionalCore: &optionalCore[T]{aggregate: agg, direct: direct}})
	return &OptionalBinder[T]{b: b, aggregate: agg, direct: direct}
}

// Key returns the key of the Optional.
func (ob *OptionalBinder[T]) Key() inject.Key { return ob.aggregate }

// SetDefault declares the value used when no actual binding exists.
func (ob *OptionalBinder[T]) SetDefault() *inject.BindingBuilder {
	ob.bindDirect()
	return ob.b.Bind(ob.roleKey(roleDefault))
}

// SetBinding declares the actual value, which overrides the default.
func (ob *OptionalBinder[T]) SetBinding() *inject.BindingBuilder {
	ob.bindDirect()
	return ob.b.Bind(ob.roleKey(roleActual))
}

func (ob *OptionalBinder[T]) roleKey(r role) inject.Key {
	return inject.NewKey(typeOf[T](), element{aggregate: ob.aggregate, role: r})
}

func (ob *OptionalBinder[T]) bindDirect() {
	ob.b.Bind(ob.direct).ToProvider(&directProvider[T]{optionalCore: &optionalCore[T]{aggregate: ob.aggregate, direct: ob.direct}})
}

type optionalCore[T any] struct {
	aggregate inject.Key
	direct    inject.Key
	inj       *inject.Injector
}

func (c *optionalCore[T]) Initialize(inj *inject.Injector) error {
	c.inj = inj
	return nil
}

func (c *optionalCore[T]) roleKey(r role) inject.Key {
	return inject.NewKey(typeOf[T](), element{aggregate: c.aggregate, role: r})
}

func (c *optionalCore[T]) Dependencies() []inject.Dependency {
	var deps []inject.Dependency
	for _, r := range []role{roleActual, roleDefault} {
		if k := c.roleKey(r); c.inj != nil && c.inj.GetExistingBinding(k) != nil {
			deps = append(deps, inject.Dependency{Key: k, Nullable: true, Index: -1, Member: c.aggregate.String()})
		}
	}
	return deps
}

// choose resolves the winning contribution. A nil result means absent.
func (c *optionalCore[T]) choose(ctx context.Context) (any, error) {
	for _, r := range []role{roleActual, roleDefault} {
		k := c.roleKey(r)
		if c.inj.GetExistingBinding(k) != nil {
			return c.inj.GetNullableInstance(ctx, k)
		}
	}
	b := c.inj.GetExistingBinding(c.direct)
	if b == nil {
		return nil, nil
	}
	if pb, ok := b.(*inject.ProviderBinding); ok {
		if _, ours := pb.Provider().(*directProvider[T]); ours {
			return nil, nil
		}
	}
	return c.inj.GetNullableInstance(ctx, c.direct)
}

type optionalProvider[T any] struct {
	*optionalCore[T]
}

func (p *optionalProvider[T]) Get(ctx context.Context) (any, error) {
	v, err := p.choose(ctx)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return Optional[T]{}, nil
	}
	return Some(v.(T)), nil
}

func (p *optionalProvider[T]) Equal(other inject.Provider) bool {
	o, ok := other.(*optionalProvider[T])
	return ok && o.aggregate == p.aggregate
}

type directProvider[T any] struct {
	*optionalCore[T]
}

func (p *directProvider[T]) Get(ctx context.Context) (any, error) {
	return p.choose(ctx)
}

func (p *directProvider[T]) Equal(other inject.Provider) bool {
	o, ok := other.(*directProvider[T])
	return ok && o.aggregate == p.aggregate
}
