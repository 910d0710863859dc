package inject

import (
	"fmt"
	"reflect"
)

// Key identifies a binding. It pairs a type with an optional qualifier.
// Keys are comparable: two keys are equal iff their types are identical and
// their qualifiers are equal values.
type Key struct {
	typ       reflect.Type
	qualifier any
}

// NewKey returns the key for t qualified by qualifier (nil for none).
// It panics if t is nil or qualifier is not a comparable non-pointer value.
func NewKey(t reflect.Type, qualifier any) Key {
	if t == nil {
		panic("inject: nil type in key")
	}
	if qualifier != nil {
		if err := checkQualifier(qualifier); err != nil {
			panic(err)
		}
	}
	return Key{typ: t, qualifier: qualifier}
}

// KeyOf returns the key for T with an optional qualifier.
//
//	KeyOf[Database]()
//	KeyOf[string](Named("dsn"))
func KeyOf[T any](qualifier ...any) Key {
	var q any
	if len(qualifier) > 0 {
		q = qualifier[0]
	}
	return NewKey(typeOf[T](), q)
}

func checkQualifier(q any) error {
	v := reflect.ValueOf(q)
	switch v.Kind() {
	case reflect.Ptr, reflect.UnsafePointer, reflect.Chan:
		return fmt.Errorf("inject: qualifier %T must be a value, not a reference", q)
	}
	if !v.Comparable() {
		return fmt.Errorf("inject: qualifier %T is not comparable", q)
	}
	return nil
}

// Type returns the bound type.
func (k Key) Type() reflect.Type { return k.typ }

// Qualifier returns the qualifier or nil.
func (k Key) Qualifier() any { return k.qualifier }

// HasQualifier reports whether the key carries a qualifier.
func (k Key) HasQualifier() bool { return k.qualifier != nil }

// WithoutQualifier returns the key for the same type with no qualifier.
func (k Key) WithoutQualifier() Key { return Key{typ: k.typ} }

// OfType returns a key for t carrying the same qualifier as k.
func (k Key) OfType(t reflect.Type) Key { return Key{typ: t, qualifier: k.qualifier} }

// IsZero reports whether k is the zero Key.
func (k Key) IsZero() bool { return k.typ == nil }

func (k Key) String() string {
	if k.typ == nil {
		return "Key[<zero>]"
	}
	if k.qualifier == nil {
		return "Key[type=" + k.typ.String() + "]"
	}
	return "Key[type=" + k.typ.String() + ", qualifier=" + qualifierString(k.qualifier) + "]"
}

func qualifierString(q any) string {
	if s, ok := q.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T%+v", q, q)
}

// Name is the built-in string qualifier.
type Name struct {
	Value string
}

// Named returns a Name qualifier.
func Named(name string) Name { return Name{Value: name} }

func (n Name) String() string { return "@Named(" + n.Value + ")" }

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
