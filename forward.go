package inject

import (
	"fmt"
	"reflect"
	"sync/atomic"
)

// Handle stands in for an interface value whose construction is still in
// progress. A forwarder adapter implements the interface by calling Target
// for every method; the handle is patched with the real instance once it is
// built.
//
//	type dbForwarder struct{ h *inject.Handle[Database] }
//
//	func (f dbForwarder) Query(q string) error { return f.h.Target().Query(q) }
//
//	inject.BindForwarder(b, func(h *inject.Handle[Database]) Database { return dbForwarder{h} })
type Handle[I any] struct {
	key    Key
	target atomic.Pointer[I]
}

// Target returns the real instance. It panics with *NotYetConstructedError
// if the instance does not exist yet.
func (h *Handle[I]) Target() I {
	p := h.target.Load()
	if p == nil {
		panic(&NotYetConstructedError{Key: h.key})
	}
	return *p
}

// Ready reports whether the handle has been patched.
func (h *Handle[I]) Ready() bool { return h.target.Load() != nil }

// Key returns the key the handle stands in for.
func (h *Handle[I]) Key() Key { return h.key }

func (h *Handle[I]) patch(v any) error {
	i, ok := v.(I)
	if !ok {
		return &TypeMismatchError{Expected: typeOf[I]().String(), Got: fmt.Sprintf("%T", v)}
	}
	h.target.Store(&i)
	return nil
}

type patchable interface {
	patch(v any) error
}

// forwarder creates handles and their adapters for one interface type.
type forwarder interface {
	iface() reflect.Type
	newHandle(key Key) (patchable, any)
}

type forwarderOf[I any] struct {
	adapter func(h *Handle[I]) I
}

func (f forwarderOf[I]) iface() reflect.Type { return typeOf[I]() }

func (f forwarderOf[I]) newHandle(key Key) (patchable, any) {
	h := &Handle[I]{key: key}
	return h, f.adapter(h)
}

// BindForwarder makes interface I forwardable: when a constructor cycle
// passes through a dependency of type I, the engine injects
// adapter(handle) and patches the handle once the real value exists.
func BindForwarder[I any](b *Binder, adapter func(h *Handle[I]) I) {
	src := b.source()
	t := typeOf[I]()
	if t.Kind() != reflect.Interface {
		b.addError(src, &InvalidBindingError{Key: NewKey(t, nil), Reason: "forwarders can only be bound for interface types"})
		return
	}
	if adapter == nil {
		b.addError(src, &InvalidBindingError{Key: NewKey(t, nil), Reason: "nil forwarder adapter"})
		return
	}
	b.rec.forwarders = append(b.rec.forwarders, forwarderDecl{fw: forwarderOf[I]{adapter: adapter}, source: src})
}

type forwarderDecl struct {
	fw     forwarder
	source Source
}
