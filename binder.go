package inject

import (
	"context"
	"fmt"
	"reflect"
)

// Module contributes bindings to an injector.
type Module interface {
	Configure(b *Binder)
}

// ModuleFunc adapts a function to Module.
type ModuleFunc func(b *Binder)

// Configure calls f(b).
func (f ModuleFunc) Configure(b *Binder) { f(b) }

// Binder collects the declarations of the modules of one injector (or of one
// private environment). It is only valid while modules are being configured.
type Binder struct {
	rec *recorder
	src *Source
}

type declKind int

const (
	declUntargetted declKind = iota
	declInstance
	declLinked
	declProvider
	declConstructor
)

// bindingDecl is a binding as declared, before validation.
type bindingDecl struct {
	key      Key
	source   Source
	kind     declKind
	instance any
	target   Key
	provider Provider
	ctorFn   any
	ctorOpts []ConstructorOption
	scope    Scope
	scopeSet bool
	eager    bool
	problems []error
}

type constructorDecl struct {
	fn     any
	opts   []ConstructorOption
	source Source
}

type injectionDecl struct {
	target any
	source Source
}

type exposeDecl struct {
	key    Key
	source Source
}

// recorder holds everything declared for one injector.
type recorder struct {
	bindings     []*bindingDecl
	constructors []constructorDecl
	methods      []constructorDecl
	forwarders   []forwarderDecl
	injections   []injectionDecl
	privates     []*recorder
	exposes      []exposeDecl
	errors       Errors
	installed    map[any]bool
}

func newRecorder() *recorder {
	return &recorder{installed: make(map[any]bool)}
}

func (b *Binder) source() Source {
	if b.src != nil {
		return *b.src
	}
	return callerOutsidePackage()
}

func (b *Binder) addError(src Source, err error) {
	b.rec.errors.AddError(src, err, nil)
}

// WithSource returns a binder that attributes its declarations to src.
func (b *Binder) WithSource(src Source) *Binder {
	return &Binder{rec: b.rec, src: &src}
}

// AddError reports a configuration problem found by a module.
func (b *Binder) AddError(err error) {
	if err != nil {
		b.addError(b.source(), err)
	}
}

// Addf reports a formatted configuration problem.
func (b *Binder) Addf(format string, args ...any) {
	b.rec.errors.Addf(b.source(), format, args...)
}

// Install configures m with this binder. Installing an equal module twice
// is a no-op.
func (b *Binder) Install(m Module) {
	if m == nil {
		b.addError(b.source(), &InvalidBindingError{Reason: "nil module installed"})
		return
	}
	v := reflect.ValueOf(m)
	if v.Comparable() && v.Kind() != reflect.Func {
		if b.rec.installed[m] {
			return
		}
		b.rec.installed[m] = true
	}
	m.Configure(b)
}

// Bind starts a binding declaration for key. A declaration with no target
// binds the key's own type through its constructor.
func (b *Binder) Bind(key Key) *BindingBuilder {
	d := &bindingDecl{key: key, source: b.source()}
	if key.IsZero() {
		d.problems = append(d.problems, &InvalidBindingError{Reason: "zero key"})
	}
	b.rec.bindings = append(b.rec.bindings, d)
	return &BindingBuilder{decl: d}
}

// Bind starts a binding declaration for KeyOf[T](qualifier...).
func Bind[T any](b *Binder, qualifier ...any) *BindingBuilder {
	return b.Bind(KeyOf[T](qualifier...))
}

// RegisterConstructor records fn as the designated constructor of the type
// it returns. fn must return T or (T, error); its parameters are resolved as
// dependencies. Types with exactly one registered constructor can be
// created just in time.
func (b *Binder) RegisterConstructor(fn any, opts ...ConstructorOption) {
	b.rec.constructors = append(b.rec.constructors, constructorDecl{fn: fn, opts: opts, source: b.source()})
}

// InjectMethod records a method expression such as (*Service).SetLogger to
// be called with resolved arguments on every constructed *Service.
func (b *Binder) InjectMethod(method any, opts ...ConstructorOption) {
	b.rec.methods = append(b.rec.methods, constructorDecl{fn: method, opts: opts, source: b.source()})
}

// RequestInjection injects the members of target, a pointer to a struct,
// when the injector is built.
func (b *Binder) RequestInjection(target any) {
	b.rec.injections = append(b.rec.injections, injectionDecl{target: target, source: b.source()})
}

// NewPrivateBinder returns a binder for a private environment. Its bindings
// are invisible to this binder's injector except for exposed keys.
func (b *Binder) NewPrivateBinder() *PrivateBinder {
	child := newRecorder()
	b.rec.privates = append(b.rec.privates, child)
	return &PrivateBinder{Binder: &Binder{rec: child, src: b.src}}
}

// PrivateBinder declares bindings of a private environment.
type PrivateBinder struct {
	*Binder
}

// Expose makes key, bound in this private environment, available to the
// enclosing injector.
func (pb *PrivateBinder) Expose(key Key) {
	pb.rec.exposes = append(pb.rec.exposes, exposeDecl{key: key, source: pb.source()})
}

// Expose exposes KeyOf[T](qualifier...) from pb.
func Expose[T any](pb *PrivateBinder, qualifier ...any) {
	pb.Expose(KeyOf[T](qualifier...))
}

// BindingBuilder completes a binding declaration.
type BindingBuilder struct {
	decl *bindingDecl
}

func (bb *BindingBuilder) target(kind declKind) bool {
	if bb.decl.kind != declUntargetted {
		bb.decl.problems = append(bb.decl.problems, &InvalidBindingError{Key: bb.decl.key, Reason: "binding target declared more than once"})
		return false
	}
	bb.decl.kind = kind
	return true
}

// To links the key to target.
func (bb *BindingBuilder) To(target Key) *BindingBuilder {
	if bb.target(declLinked) {
		bb.decl.target = target
	}
	return bb
}

// ToInstance binds the key to v. Instance bindings cannot be scoped.
func (bb *BindingBuilder) ToInstance(v any) *BindingBuilder {
	if bb.target(declInstance) {
		bb.decl.instance = v
	}
	return bb
}

// ToProvider binds the key to p.
func (bb *BindingBuilder) ToProvider(p Provider) *BindingBuilder {
	if bb.target(declProvider) {
		bb.decl.provider = p
	}
	return bb
}

// ToProviderFunc binds the key to fn.
func (bb *BindingBuilder) ToProviderFunc(fn func(ctx context.Context) (any, error)) *BindingBuilder {
	if fn == nil {
		return bb.ToProvider(nil)
	}
	return bb.ToProvider(ProviderFunc(fn))
}

// ToConstructor binds the key to the value returned by fn.
func (bb *BindingBuilder) ToConstructor(fn any, opts ...ConstructorOption) *BindingBuilder {
	if bb.target(declConstructor) {
		bb.decl.ctorFn = fn
		bb.decl.ctorOpts = opts
	}
	return bb
}

// In sets the binding's scope.
func (bb *BindingBuilder) In(scope Scope) {
	bb.setScope(scope, false)
}

// AsEagerSingleton scopes the binding as a singleton created while the
// injector is built.
func (bb *BindingBuilder) AsEagerSingleton() {
	bb.setScope(Singleton, true)
}

func (bb *BindingBuilder) setScope(scope Scope, eager bool) {
	d := bb.decl
	if scope == nil {
		d.problems = append(d.problems, &InvalidScopeError{Key: d.key, Scope: "<nil>", Reason: "nil scope"})
		return
	}
	if d.scopeSet {
		d.problems = append(d.problems, &InvalidScopeError{
			Key:    d.key,
			Scope:  scope.String(),
			Reason: fmt.Sprintf("scope already declared as %s", d.scope),
		})
		return
	}
	d.scope, d.scopeSet, d.eager = scope, true, eager
}

// ConstructorOption configures how constructor or method parameters are
// resolved.
type ConstructorOption func(*ctorOptions)

type ctorOptions struct {
	qualifiers map[int]any
	nullable   map[int]bool
}

// Params qualifies parameters by position; nil leaves a parameter
// unqualified.
func Params(qualifiers ...any) ConstructorOption {
	return func(o *ctorOptions) {
		for i, q := range qualifiers {
			if q != nil {
				o.qualifiers[i] = q
			}
		}
	}
}

// Nullable lets the parameters at the given positions receive nil.
func Nullable(indexes ...int) ConstructorOption {
	return func(o *ctorOptions) {
		for _, i := range indexes {
			o.nullable[i] = true
		}
	}
}

func applyCtorOptions(opts []ConstructorOption) *ctorOptions {
	o := &ctorOptions{qualifiers: make(map[int]any), nullable: make(map[int]bool)}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}
