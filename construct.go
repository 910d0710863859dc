package inject

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// constructor is a function whose parameters are dependencies and whose
// first result is the constructed value.
type constructor struct {
	fn     reflect.Value
	out    reflect.Type
	params []Dependency
	hasErr bool
	name   string
	source Source
}

func newConstructor(fn any, opts []ConstructorOption, src Source) (*constructor, error) {
	if fn == nil {
		return nil, &InvalidBindingError{Reason: "nil constructor"}
	}
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return nil, &InvalidBindingError{Reason: fmt.Sprintf("constructor must be a function, got %s", t)}
	}
	if t.IsVariadic() {
		return nil, &InvalidBindingError{Reason: fmt.Sprintf("constructor %s must not be variadic", t)}
	}
	c := &constructor{fn: v, name: "constructor " + funcName(v), source: src}
	switch {
	case t.NumOut() == 1:
	case t.NumOut() == 2 && t.Out(1) == errorType:
		c.hasErr = true
	default:
		return nil, &InvalidBindingError{Reason: fmt.Sprintf("constructor %s must return T or (T, error)", t)}
	}
	c.out = t.Out(0)

	params, err := paramDependencies(t, 0, opts, c.name)
	if err != nil {
		return nil, err
	}
	c.params = params
	return c, nil
}

// paramDependencies describes the parameters of fn starting at first.
// Option positions are relative to first.
func paramDependencies(t reflect.Type, first int, opts []ConstructorOption, member string) ([]Dependency, error) {
	o := applyCtorOptions(opts)
	n := t.NumIn() - first
	for i, q := range o.qualifiers {
		if i < 0 || i >= n {
			return nil, &InvalidBindingError{Reason: fmt.Sprintf("%s has no parameter %d to qualify", member, i)}
		}
		if err := checkQualifier(q); err != nil {
			return nil, &InvalidBindingError{Reason: err.Error()}
		}
	}
	deps := make([]Dependency, n)
	for i := 0; i < n; i++ {
		deps[i] = Dependency{
			Key:      Key{typ: t.In(first + i), qualifier: o.qualifiers[i]},
			Nullable: o.nullable[i],
			Index:    i,
			Member:   member,
		}
	}
	return deps, nil
}

func (c *constructor) invoke(args []reflect.Value) (v any, err error) {
	defer recoverNotYetConstructed(&err)
	out := c.fn.Call(args)
	if c.hasErr && !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}
	return out[0].Interface(), nil
}

// recoverNotYetConstructed turns a forwarding handle used too early inside a
// constructor or injected method into an error.
func recoverNotYetConstructed(err *error) {
	if r := recover(); r != nil {
		if nyc, ok := r.(*NotYetConstructedError); ok {
			*err = nyc
			return
		}
		panic(r)
	}
}

func funcName(v reflect.Value) string {
	if fn := runtime.FuncForPC(v.Pointer()); fn != nil {
		name := fn.Name()
		return name[strings.LastIndex(name, "/")+1:]
	}
	return v.Type().String()
}

// methodPoint is a setter-like method called on every constructed value of
// its receiver type.
type methodPoint struct {
	fn       reflect.Value
	receiver reflect.Type
	params   []Dependency
	hasErr   bool
	name     string
	source   Source
}

func newMethodPoint(fn any, opts []ConstructorOption, src Source) (*methodPoint, error) {
	if fn == nil {
		return nil, &InvalidBindingError{Reason: "nil injectable method"}
	}
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func || t.NumIn() == 0 {
		return nil, &InvalidBindingError{Reason: fmt.Sprintf("injectable method must be a method expression such as (*T).SetX, got %s", t)}
	}
	recv := t.In(0)
	if recv.Kind() != reflect.Ptr || recv.Elem().Kind() != reflect.Struct {
		return nil, &InvalidBindingError{Reason: fmt.Sprintf("injectable method receiver must be a pointer to a struct, got %s", recv)}
	}
	m := &methodPoint{fn: v, receiver: recv, name: "method " + funcName(v), source: src}
	switch {
	case t.NumOut() == 0:
	case t.NumOut() == 1 && t.Out(0) == errorType:
		m.hasErr = true
	default:
		return nil, &InvalidBindingError{Reason: fmt.Sprintf("injectable method %s must return nothing or error", t)}
	}
	params, err := paramDependencies(t, 1, opts, m.name)
	if err != nil {
		return nil, err
	}
	m.params = params
	return m, nil
}

type fieldPoint struct {
	index []int
	dep   Dependency
}

// membersInjector injects tagged fields and registered methods of one
// struct type.
type membersInjector struct {
	structType reflect.Type
	fields     []fieldPoint
	methods    []*methodPoint
}

func (m *membersInjector) empty() bool {
	return len(m.fields) == 0 && len(m.methods) == 0
}

func (m *membersInjector) dependencies() []Dependency {
	var deps []Dependency
	for _, f := range m.fields {
		deps = append(deps, f.dep)
	}
	for _, mp := range m.methods {
		deps = append(deps, mp.params...)
	}
	return deps
}

// newMembersInjector reads the `inject` tags of t's fields:
//
//	Log  Logger `inject:""`
//	DSN  string `inject:"name=dsn"`
//	Tap  Tracer `inject:"optional"`
func newMembersInjector(t reflect.Type, methods []*methodPoint) (*membersInjector, error) {
	m := &membersInjector{structType: t, methods: methods}
	var errs Errors
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag, ok := f.Tag.Lookup("inject")
		if !ok {
			continue
		}
		member := reflect.PointerTo(t).String()
		if !f.IsExported() {
			errs.AddError(UnknownSource, &InvalidBindingError{
				Key:    NewKey(f.Type, nil),
				Reason: fmt.Sprintf("field %s of %s is tagged for injection but not exported", f.Name, member),
			}, nil)
			continue
		}
		dep := Dependency{Key: Key{typ: f.Type}, Index: -1, Field: f.Name, Member: member}
		for _, opt := range strings.Split(tag, ",") {
			opt = strings.TrimSpace(opt)
			switch {
			case opt == "":
			case opt == "optional":
				dep.Optional, dep.Nullable = true, true
			case opt == "nullable":
				dep.Nullable = true
			case strings.HasPrefix(opt, "name="):
				dep.Key.qualifier = Named(strings.TrimPrefix(opt, "name="))
			default:
				errs.AddError(UnknownSource, &InvalidBindingError{
					Key:    dep.Key,
					Reason: fmt.Sprintf("unknown inject tag option %q on field %s of %s", opt, f.Name, member),
				}, nil)
			}
		}
		m.fields = append(m.fields, fieldPoint{index: f.Index, dep: dep})
	}
	if errs.HasErrors() {
		return nil, errs.CreationError()
	}
	return m, nil
}

// inject injects the members of target, a pointer to m.structType. Every
// member is attempted before failing.
func (m *membersInjector) inject(ctx context.Context, rc *resolveContext, inj *Injector, target reflect.Value, src Source) error {
	var errs Errors
	elem := target.Elem()
	for _, f := range m.fields {
		v, skip, err := inj.resolveOptional(ctx, rc, f.dep, src)
		if err != nil {
			errs.AddError(src, err, nil)
			continue
		}
		if skip || v == nil {
			continue
		}
		elem.FieldByIndex(f.index).Set(valueOf(v, f.dep.Key.Type()))
	}
	for _, mp := range m.methods {
		args, err := inj.resolveAll(ctx, rc, mp.params, src)
		if err != nil {
			errs.AddError(src, err, nil)
			continue
		}
		if err := mp.call(target, args); err != nil {
			errs.AddError(src, rc.fail(mp.source, &InitializationError{Type: m.structType.String(), Err: err}), nil)
		}
	}
	return errs.ProvisionError()
}

func (mp *methodPoint) call(target reflect.Value, args []reflect.Value) (err error) {
	defer recoverNotYetConstructed(&err)
	out := mp.fn.Call(append([]reflect.Value{target}, args...))
	if mp.hasErr && !out[0].IsNil() {
		return out[0].Interface().(error)
	}
	return nil
}

// constructorInjector produces values for a ConstructorBinding.
type constructorInjector struct {
	binding *ConstructorBinding
	members *membersInjector
}

func (ci *constructorInjector) construct(ctx context.Context, rc *resolveContext, inj *Injector, c *construction) (any, error) {
	b := ci.binding
	src := b.source
	var val reflect.Value
	if b.ctor != nil {
		args, err := inj.resolveAll(ctx, rc, b.ctor.params, src)
		if err != nil {
			return nil, err
		}
		out, err := b.ctor.invoke(args)
		if err != nil {
			return nil, rc.fail(b.ctor.source, initError(b.implType, err))
		}
		if isNilValue(out) {
			return nil, nil
		}
		val = reflect.ValueOf(out)
	} else if b.implType.Kind() == reflect.Ptr {
		val = reflect.New(b.implType.Elem())
	} else {
		val = reflect.New(b.implType).Elem()
	}

	if ci.members != nil && !ci.members.empty() {
		target := val
		if val.Kind() != reflect.Ptr {
			target = reflect.New(val.Type())
			target.Elem().Set(val)
		}
		if val.Kind() == reflect.Ptr {
			// cycles reaching back during members injection get this value
			c.instance = val.Interface()
		}
		if err := ci.members.inject(ctx, rc, inj, target, src); err != nil {
			return nil, err
		}
		if val.Kind() != reflect.Ptr {
			val = target.Elem()
		}
	}

	instance := val.Interface()
	if lc, ok := instance.(Lifecycle); ok {
		if err := lc.OnBoot(ctx); err != nil {
			return nil, rc.fail(src, initError(b.implType, err))
		}
	}
	return instance, nil
}

func initError(t reflect.Type, err error) error {
	if _, ok := err.(*ProvisionError); ok {
		return err
	}
	var de *declaredError
	if errors.As(err, &de) {
		return err
	}
	var nyc *NotYetConstructedError
	if errors.As(err, &nyc) {
		return err
	}
	return &InitializationError{Type: t.String(), Err: err}
}

// isNilValue reports whether v is nil or a nil reference of any kind.
func isNilValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface, reflect.UnsafePointer:
		return rv.IsNil()
	}
	return false
}

// valueOf converts a resolved value into an argument of type t.
func valueOf(v any, t reflect.Type) reflect.Value {
	if v == nil {
		return reflect.Zero(t)
	}
	return reflect.ValueOf(v)
}

// constructibleType reports whether t can be built with no registered
// constructor: a named struct or a pointer to one.
func constructibleType(t reflect.Type) (reason string, ok bool) {
	s := t
	if s.Kind() == reflect.Ptr {
		s = s.Elem()
	}
	switch {
	case t.Kind() == reflect.Interface:
		return "interfaces must be bound to an implementation", false
	case s.Kind() != reflect.Struct:
		return fmt.Sprintf("%s has no registered constructor", t), false
	case s.Name() == "":
		return fmt.Sprintf("anonymous type %s cannot be constructed", t), false
	}
	return "", true
}
