package inject

import (
	"fmt"
	"reflect"
)

// Binding describes how a value for a key is produced. Bindings are owned by
// the injector once it is built and never change afterwards.
type Binding interface {
	Key() Key
	Source() Source
	// Scope returns the binding's scope, or nil when it is unscoped.
	Scope() Scope
	// IsEager reports whether the binding is created while the injector is
	// built.
	IsEager() bool
	// Dependencies lists the keys the binding needs, if they are known.
	Dependencies() []Dependency
	String() string

	sameTarget(other Binding) bool
}

type bindingBase struct {
	key    Key
	source Source
	scope  Scope
	eager  bool
}

func (b *bindingBase) Key() Key       { return b.key }
func (b *bindingBase) Source() Source { return b.source }
func (b *bindingBase) Scope() Scope   { return b.scope }
func (b *bindingBase) IsEager() bool  { return b.eager }
func (b *bindingBase) scopeName() string {
	if b.scope == nil {
		return "unscoped"
	}
	return b.scope.String()
}

// InstanceBinding binds a key to a pre-built value.
type InstanceBinding struct {
	bindingBase
	instance any
}

// Instance returns the bound value.
func (b *InstanceBinding) Instance() any { return b.instance }

func (b *InstanceBinding) Dependencies() []Dependency { return nil }

func (b *InstanceBinding) String() string {
	return fmt.Sprintf("InstanceBinding[key=%s, source=%s, instance=%T]", b.key, b.source, b.instance)
}

func (b *InstanceBinding) sameTarget(other Binding) bool {
	o, ok := other.(*InstanceBinding)
	return ok && valuesEqual(b.instance, o.instance)
}

// LinkedBinding forwards a key to another key.
type LinkedBinding struct {
	bindingBase
	target Key
}

// Target returns the key resolution is forwarded to.
func (b *LinkedBinding) Target() Key { return b.target }

func (b *LinkedBinding) Dependencies() []Dependency {
	return []Dependency{{Key: b.target, Index: -1}}
}

func (b *LinkedBinding) String() string {
	return fmt.Sprintf("LinkedBinding[key=%s, source=%s, target=%s, scope=%s]", b.key, b.source, b.target, b.scopeName())
}

func (b *LinkedBinding) sameTarget(other Binding) bool {
	o, ok := other.(*LinkedBinding)
	return ok && b.target == o.target && b.scope == o.scope && b.eager == o.eager
}

// ProviderBinding binds a key to a user supplied Provider. The provider is
// called once per resolution, subject to scope.
type ProviderBinding struct {
	bindingBase
	provider Provider
}

// Provider returns the bound provider.
func (b *ProviderBinding) Provider() Provider { return b.provider }

func (b *ProviderBinding) Dependencies() []Dependency {
	if hd, ok := b.provider.(HasDependencies); ok {
		return hd.Dependencies()
	}
	return nil
}

func (b *ProviderBinding) String() string {
	return fmt.Sprintf("ProviderBinding[key=%s, source=%s, provider=%T, scope=%s]", b.key, b.source, b.provider, b.scopeName())
}

func (b *ProviderBinding) sameTarget(other Binding) bool {
	o, ok := other.(*ProviderBinding)
	if !ok || b.scope != o.scope || b.eager != o.eager {
		return false
	}
	if eq, ok := b.provider.(interface{ Equal(Provider) bool }); ok {
		return eq.Equal(o.provider)
	}
	return valuesEqual(b.provider, o.provider)
}

// ConstructorBinding builds values by calling a constructor function and
// injecting the members of its result.
type ConstructorBinding struct {
	bindingBase
	implType reflect.Type
	ctor     *constructor
	implicit bool

	// set when the binding is initialized, after the whole index exists
	injector *constructorInjector
}

// ImplementationType returns the type the constructor produces.
func (b *ConstructorBinding) ImplementationType() reflect.Type { return b.implType }

// IsImplicit reports whether the binding was synthesized just in time.
func (b *ConstructorBinding) IsImplicit() bool { return b.implicit }

func (b *ConstructorBinding) Dependencies() []Dependency {
	var deps []Dependency
	if b.ctor != nil {
		deps = append(deps, b.ctor.params...)
	}
	if b.injector != nil && b.injector.members != nil {
		deps = append(deps, b.injector.members.dependencies()...)
	}
	return deps
}

func (b *ConstructorBinding) String() string {
	return fmt.Sprintf("ConstructorBinding[key=%s, source=%s, implementation=%s, scope=%s]", b.key, b.source, b.implType, b.scopeName())
}

func (b *ConstructorBinding) sameTarget(other Binding) bool {
	o, ok := other.(*ConstructorBinding)
	if !ok || b.implType != o.implType || b.scope != o.scope || b.eager != o.eager {
		return false
	}
	if b.ctor == nil || o.ctor == nil {
		return b.ctor == o.ctor
	}
	return b.ctor.fn.Pointer() == o.ctor.fn.Pointer()
}

// ExposedBinding re-exports a key bound inside a private binder.
type ExposedBinding struct {
	bindingBase
	private *Injector
}

// PrivateInjector returns the injector the key is bound in.
func (b *ExposedBinding) PrivateInjector() *Injector { return b.private }

func (b *ExposedBinding) Dependencies() []Dependency { return nil }

func (b *ExposedBinding) String() string {
	return fmt.Sprintf("ExposedBinding[key=%s, source=%s]", b.key, b.source)
}

func (b *ExposedBinding) sameTarget(other Binding) bool {
	o, ok := other.(*ExposedBinding)
	return ok && b.private == o.private
}

// Dependency is one injection point: the key needed and where it goes.
type Dependency struct {
	Key      Key
	Nullable bool
	// Optional dependencies are skipped when no binding can be found.
	Optional bool
	// Index is the parameter position, or -1 for fields and direct requests.
	Index int
	// Field is the struct field name for field injection.
	Field string
	// Member names the constructor, method or type the point belongs to.
	Member string
}

func (d Dependency) String() string {
	switch {
	case d.Field != "":
		return fmt.Sprintf("for field %s of %s", d.Field, d.Member)
	case d.Index >= 0 && d.Member != "":
		return fmt.Sprintf("for parameter %d of %s", d.Index, d.Member)
	default:
		return ""
	}
}

// HasDependencies is implemented by providers that know which keys they
// will request, so they can be validated when the injector is built.
type HasDependencies interface {
	Dependencies() []Dependency
}

// Initializer is implemented by providers that need the finished injector
// before their first use. Initialize runs once, while the injector is being
// built; a returned error fails the build.
type Initializer interface {
	Initialize(inj *Injector) error
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Kind() == reflect.Func {
		// closures share code pointers, so funcs are never considered equal
		return false
	}
	if !reflect.ValueOf(a).Comparable() {
		return false
	}
	return a == b
}
