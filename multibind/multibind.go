// Package multibind lets independent modules contribute elements to a shared
// slice, map or optional value.
//
//	multibind.NewSetBinder[string](b).AddBinding().ToInstance("x")
//
// Declaring the same binder from several modules is allowed; the
// declarations collapse into one aggregate binding.
package multibind

import (
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/google/go-cmp/cmp"

	"github.com/centraunit/inject"
)

// Option configures a binder.
type Option func(*options)

type options struct {
	qualifier []any
}

// Qualified names the aggregate by q, so several aggregates of one element
// type can coexist. The aggregate key carries q as its qualifier.
func Qualified(q any) Option {
	return func(o *options) { o.qualifier = []any{q} }
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

type role int

const (
	roleElement role = iota
	roleDefault
	roleActual
	rolePermit
)

func (r role) String() string {
	switch r {
	case roleElement:
		return "element"
	case roleDefault:
		return "default"
	case roleActual:
		return "actual"
	default:
		return "permitDuplicates"
	}
}

var elementIDs atomic.Uint64

// element is the qualifier of the private key of one contribution.
type element struct {
	aggregate inject.Key
	role      role
	id        uint64
	mapKey    any
}

func (e element) String() string {
	if e.mapKey != nil {
		return fmt.Sprintf("@Element(aggregate=%s, role=%s, id=%d, key=%v)", e.aggregate, e.role, e.id, e.mapKey)
	}
	return fmt.Sprintf("@Element(aggregate=%s, role=%s, id=%d)", e.aggregate, e.role, e.id)
}

func elementOf(k inject.Key, aggregate inject.Key, r role) (element, bool) {
	e, ok := k.Qualifier().(element)
	if !ok || e.aggregate != aggregate || e.role != r {
		return element{}, false
	}
	return e, true
}

// elementKeys lists the contributions of aggregate bound in inj in
// declaration order.
func elementKeys(inj *inject.Injector, aggregate inject.Key) []inject.Binding {
	var out []inject.Binding
	for _, b := range inj.Bindings() {
		if _, ok := elementOf(b.Key(), aggregate, roleElement); ok {
			out = append(out, b)
		}
	}
	return out
}

type permitMarker struct{}

func permitKey(aggregate inject.Key) inject.Key {
	return inject.NewKey(reflect.TypeOf(permitMarker{}), element{aggregate: aggregate, role: rolePermit})
}

func permitDuplicates(b *inject.Binder, aggregate inject.Key) {
	b.Bind(permitKey(aggregate)).ToInstance(permitMarker{})
}

func permitted(inj *inject.Injector, aggregate inject.Key) bool {
	return inj.GetExistingBinding(permitKey(aggregate)) != nil
}

// equal compares resolved values: comparable values with ==, others
// structurally.
func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	if reflect.ValueOf(a).Comparable() {
		return a == b
	}
	return cmp.Equal(a, b, cmp.Exporter(func(reflect.Type) bool { return true }))
}

// DuplicateElementError reports two contributions of equal value to a set.
type DuplicateElementError struct {
	Set    inject.Key
	Value  any
	First  inject.Source
	Second inject.Source
}

func (e *DuplicateElementError) Error() string {
	return fmt.Sprintf("%s contains duplicate element %v, bound at %s and %s; call PermitDuplicates to allow it",
		e.Set, e.Value, e.First, e.Second)
}

// DuplicateKeyError reports two contributions for one key of a map.
type DuplicateKeyError struct {
	Map    inject.Key
	MapKey any
	First  inject.Source
	Second inject.Source
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s has duplicate key %v, bound at %s and %s; call PermitDuplicates to allow it",
		e.Map, e.MapKey, e.First, e.Second)
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
