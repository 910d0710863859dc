package inject

import "context"

// Lifecycle is implemented by values that need initialization once they are
// fully injected, and cleanup when their injector shuts down.
type Lifecycle interface {
	// OnBoot is called after construction and members injection, and for
	// instance bindings and requested injections while the injector is
	// built. The ctx carries the dependency path of the resolution.
	OnBoot(ctx context.Context) error

	// OnShutdown is called by Injector.Shutdown on singletons, newest
	// first. It should release any resources held by the value.
	OnShutdown(ctx context.Context) error
}
