package inject

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// Provider produces values for a binding.
type Provider interface {
	Get(ctx context.Context) (any, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (any, error)

// Get calls f(ctx).
func (f ProviderFunc) Get(ctx context.Context) (any, error) { return f(ctx) }

var errNilProvider = errors.New("inject: zero ProviderOf used")

// ProviderOf is a typed, lazy handle on a key. Declaring a ProviderOf[T]
// constructor parameter or field defers resolution of T until Get is called,
// which also breaks construction cycles.
type ProviderOf[T any] struct {
	key Key
	p   Provider
}

// Get resolves a value. Pass the ctx received by the caller to keep the
// resolution on the same dependency path. The ctx may be handed to other
// goroutines: each one resolves with its own construction state, and one
// that asks for a singleton still being built by the goroutine that started
// it fails with *CircularDependencyError instead of deadlocking.
func (p ProviderOf[T]) Get(ctx context.Context) (T, error) {
	var zero T
	if p.p == nil {
		return zero, errNilProvider
	}
	v, err := p.p.Get(ctx)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, &TypeMismatchError{Expected: typeOf[T]().String(), Got: fmt.Sprintf("%T", v)}
	}
	return t, nil
}

// Key returns the key the provider resolves.
func (p ProviderOf[T]) Key() Key { return p.key }

// Untyped returns the underlying Provider.
func (p ProviderOf[T]) Untyped() Provider { return p.p }

func (p ProviderOf[T]) providedType() reflect.Type { return typeOf[T]() }

func (p ProviderOf[T]) withProvider(key Key, pr Provider) any {
	return ProviderOf[T]{key: key, p: pr}
}

type typedProvider interface {
	providedType() reflect.Type
	withProvider(key Key, p Provider) any
}

// providedTypeOf reports the T of a ProviderOf[T] type.
func providedTypeOf(t reflect.Type) (reflect.Type, bool) {
	if t.Kind() != reflect.Struct {
		return nil, false
	}
	tp, ok := reflect.Zero(t).Interface().(typedProvider)
	if !ok {
		return nil, false
	}
	return tp.providedType(), true
}

// newTypedProvider builds a ProviderOf value of type t (a ProviderOf[T]).
func newTypedProvider(t reflect.Type, key Key, p Provider) any {
	return reflect.Zero(t).Interface().(typedProvider).withProvider(key, p)
}

// ProviderKeyOf returns the key of ProviderOf[T] for the given T key.
func ProviderKeyOf[T any](qualifier ...any) Key {
	return KeyOf[ProviderOf[T]](qualifier...)
}
