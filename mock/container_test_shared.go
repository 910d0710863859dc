package mock

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/centraunit/inject"
)

// RequestIDKey carries a request id in a context.
type RequestIDKey struct{}

// Core interfaces
type Database interface {
	inject.Lifecycle
	Connect() error
	RequestID() string
}

type Cache interface {
	inject.Lifecycle
	Get(key string) any
}

// Mock implementations
type MockDB struct {
	connected atomic.Bool
	requestID string
	Shutdowns atomic.Int32
}

func NewMockDB() *MockDB { return &MockDB{} }

func (m *MockDB) Connect() error {
	return nil
}

func (m *MockDB) OnBoot(ctx context.Context) error {
	m.connected.Store(true)
	// Handle a missing request id gracefully
	if id, ok := ctx.Value(RequestIDKey{}).(string); ok {
		m.requestID = id
	}
	return nil
}

func (m *MockDB) OnShutdown(ctx context.Context) error {
	m.connected.Store(false)
	m.Shutdowns.Add(1)
	return nil
}

func (m *MockDB) IsConnected() bool {
	return m.connected.Load()
}

func (m *MockDB) RequestID() string {
	return m.requestID
}

type MockCache struct {
	DB Database `inject:""`
}

func (m *MockCache) Get(key string) any {
	return nil
}

func (m *MockCache) OnBoot(ctx context.Context) error {
	if m.DB == nil {
		return fmt.Errorf("cache booted without a database")
	}
	return nil
}

func (m *MockCache) OnShutdown(ctx context.Context) error {
	return nil
}

// Circular dependency test types
type CircularService1 interface {
	GetService2() CircularService2
	Name() string
}

type CircularService2 interface {
	GetService1() CircularService1
	Name() string
}

type CircularImpl1 struct {
	svc2 CircularService2
}

func NewCircularImpl1(svc2 CircularService2) *CircularImpl1 {
	return &CircularImpl1{svc2: svc2}
}

func (i *CircularImpl1) GetService2() CircularService2 { return i.svc2 }
func (i *CircularImpl1) Name() string                  { return "one" }

type CircularImpl2 struct {
	svc1 CircularService1
}

func NewCircularImpl2(svc1 CircularService1) *CircularImpl2 {
	return &CircularImpl2{svc1: svc1}
}

func (i *CircularImpl2) GetService1() CircularService1 { return i.svc1 }
func (i *CircularImpl2) Name() string                  { return "two" }

// EagerCircularImpl2 calls through its dependency while being constructed.
type EagerCircularImpl2 struct {
	CircularImpl2
	Peer string
}

func NewEagerCircularImpl2(svc1 CircularService1) *EagerCircularImpl2 {
	return &EagerCircularImpl2{CircularImpl2: CircularImpl2{svc1: svc1}, Peer: svc1.Name()}
}

type circularService1Forwarder struct {
	h *inject.Handle[CircularService1]
}

func (f circularService1Forwarder) GetService2() CircularService2 { return f.h.Target().GetService2() }
func (f circularService1Forwarder) Name() string                  { return f.h.Target().Name() }

// CircularModule binds both circular services. With forward set, the
// cycle is broken by a forwarder for CircularService1.
func CircularModule(forward bool) inject.Module {
	return inject.ModuleFunc(func(b *inject.Binder) {
		inject.Bind[CircularService1](b).ToConstructor(NewCircularImpl1)
		inject.Bind[CircularService2](b).ToConstructor(NewCircularImpl2)
		if forward {
			inject.BindForwarder(b, func(h *inject.Handle[CircularService1]) CircularService1 {
				return circularService1Forwarder{h: h}
			})
		}
	})
}

// FailingDB fails to boot when ShouldFail is set
type FailingDB struct {
	MockDB
	ShouldFail bool
}

func (f *FailingDB) OnBoot(ctx context.Context) error {
	if f.ShouldFail {
		return fmt.Errorf("simulated boot failure")
	}
	return f.MockDB.OnBoot(ctx)
}

// Deep dependency chain: constructor, method and zero-value construction.
type DeepService3 interface {
	inject.Lifecycle
	GetValue() string
}

type DeepService2 interface {
	GetService3() DeepService3
}

type DeepService1 interface {
	GetService2() DeepService2
}

type DeepImpl3 struct {
	Value string
}

func (d *DeepImpl3) OnBoot(ctx context.Context) error {
	d.Value = "deep"
	return nil
}

func (d *DeepImpl3) OnShutdown(ctx context.Context) error {
	return nil
}

func (d *DeepImpl3) GetValue() string {
	return d.Value
}

type DeepImpl2 struct {
	svc3 DeepService3
}

func (d *DeepImpl2) SetService3(svc DeepService3) {
	d.svc3 = svc
}

func (d *DeepImpl2) GetService3() DeepService3 {
	return d.svc3
}

type DeepImpl1 struct {
	svc2 DeepService2
}

func NewDeepImpl1(svc2 DeepService2) *DeepImpl1 {
	return &DeepImpl1{svc2: svc2}
}

func (d *DeepImpl1) GetService2() DeepService2 {
	return d.svc2
}

// DeepModule wires DeepService1 -> DeepService2 -> DeepService3.
var DeepModule = inject.ModuleFunc(func(b *inject.Binder) {
	inject.Bind[DeepService1](b).ToConstructor(NewDeepImpl1)
	inject.Bind[DeepService2](b).To(inject.KeyOf[*DeepImpl2]())
	inject.Bind[DeepService3](b).To(inject.KeyOf[*DeepImpl3]())
	b.InjectMethod((*DeepImpl2).SetService3)
})

type Service interface {
	inject.Lifecycle
	IsInitialized() bool
}

// Instances counts every SingletonTestService booted.
var Instances atomic.Int32

type SingletonTestService struct {
	initialized bool
}

func (s *SingletonTestService) OnBoot(ctx context.Context) error {
	s.initialized = true
	Instances.Add(1)
	return nil
}

func (s *SingletonTestService) OnShutdown(ctx context.Context) error {
	return nil
}

func (s *SingletonTestService) IsInitialized() bool {
	return s.initialized
}

type ComplexServiceInterface interface {
	GetDB() Database
	GetCache() Cache
}

type ComplexService struct {
	DB    Database `inject:""`
	Cache Cache    `inject:""`
}

func (c *ComplexService) GetDB() Database {
	return c.DB
}

func (c *ComplexService) GetCache() Cache {
	return c.Cache
}
