package inject

import (
	"errors"
	"fmt"
	"strings"
)

// CircularDependencyError represents a dependency cycle through a type that
// cannot be forwarded.
type CircularDependencyError struct {
	Key  Key
	Path []Key
}

func (e *CircularDependencyError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("circular dependency detected for %s", e.Key)
	}
	parts := make([]string, 0, len(e.Path))
	for _, k := range e.Path {
		parts = append(parts, k.Type().String())
	}
	return fmt.Sprintf("circular dependency detected for %s (%s); %s is not an interface with a registered forwarder",
		e.Key, strings.Join(parts, " -> "), e.Key.Type())
}

// MissingImplementationError represents a key with no binding that cannot be
// synthesized just in time.
type MissingImplementationError struct {
	Key    Key
	Reason string
}

func (e *MissingImplementationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("no implementation bound for %s", e.Key)
	}
	return fmt.Sprintf("no implementation bound for %s: %s", e.Key, e.Reason)
}

// DuplicateBindingError represents a second, different explicit binding for
// one key.
type DuplicateBindingError struct {
	Key    Key
	First  Source
	Second Source
}

func (e *DuplicateBindingError) Error() string {
	return fmt.Sprintf("%s was already bound at %s, rebound at %s", e.Key, e.First, e.Second)
}

// AmbiguousConstructorError represents a type with more than one registered
// constructor.
type AmbiguousConstructorError struct {
	Type  string
	Count int
}

func (e *AmbiguousConstructorError) Error() string {
	return fmt.Sprintf("%s has %d registered constructors; bind it explicitly with ToConstructor", e.Type, e.Count)
}

// LinkCycleError represents a cycle in a chain of linked bindings.
type LinkCycleError struct {
	Chain []Key
}

func (e *LinkCycleError) Error() string {
	parts := make([]string, 0, len(e.Chain))
	for _, k := range e.Chain {
		parts = append(parts, k.String())
	}
	return "linked binding cycle: " + strings.Join(parts, " -> ")
}

// NullValueError represents a nil value delivered into a slot that does not
// accept nil.
type NullValueError struct {
	Key Key
	For string
}

func (e *NullValueError) Error() string {
	if e.For == "" {
		return fmt.Sprintf("nil returned for %s, which is not nullable", e.Key)
	}
	return fmt.Sprintf("nil returned for %s %s, which is not nullable", e.Key, e.For)
}

// InitializationError represents a constructor, provider or OnBoot failure.
type InitializationError struct {
	Type string
	Err  error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialization failed for type %s: %v", e.Type, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// OutOfScopeError represents a scoped key resolved outside of its scope.
type OutOfScopeError struct {
	Key   Key
	Scope string
}

func (e *OutOfScopeError) Error() string {
	return fmt.Sprintf("cannot access %s outside of %s", e.Key, e.Scope)
}

// TypeMismatchError represents a value that is not assignable to the type
// its key promises.
type TypeMismatchError struct {
	Expected string
	Got      string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch: expected %s, got %s", e.Expected, e.Got)
}

// ShutdownError represents a service shutdown failure.
type ShutdownError struct {
	Type string
	Err  error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("shutdown failed for type %s: %v", e.Type, e.Err)
}

func (e *ShutdownError) Unwrap() error {
	return e.Err
}

// InvalidScopeError represents an invalid scope usage.
type InvalidScopeError struct {
	Key    Key
	Scope  string
	Reason string
}

func (e *InvalidScopeError) Error() string {
	return fmt.Sprintf("invalid scope %s for %s: %s", e.Scope, e.Key, e.Reason)
}

// InvalidBindingError represents a malformed binding declaration.
type InvalidBindingError struct {
	Key    Key
	Reason string
}

func (e *InvalidBindingError) Error() string {
	if e.Key.IsZero() {
		return "invalid binding: " + e.Reason
	}
	return fmt.Sprintf("invalid binding for %s: %s", e.Key, e.Reason)
}

// NotYetConstructedError is the panic value raised by a forwarding handle
// used before the instance it stands in for exists.
type NotYetConstructedError struct {
	Key Key
}

func (e *NotYetConstructedError) Error() string {
	return fmt.Sprintf("%s is not yet constructed; it cannot be used before its circular dependency resolves", e.Key)
}

// ErrNotYetConstructed matches every *NotYetConstructedError with errors.Is.
var ErrNotYetConstructed = errors.New("inject: not yet constructed")

func (e *NotYetConstructedError) Is(target error) bool {
	return target == ErrNotYetConstructed
}

type declaredError struct {
	err error
}

func (e *declaredError) Error() string { return e.err.Error() }
func (e *declaredError) Unwrap() error { return e.err }

// Declared marks err as part of a constructor's or provider's contract.
// When it is the only failure of a top-level call, the call returns err
// itself instead of a *ProvisionError.
func Declared(err error) error {
	if err == nil {
		return nil
	}
	return &declaredError{err: err}
}

// PathElement is one hop of a dependency path.
type PathElement struct {
	Key    Key
	Source Source
	Via    string
}

func (p PathElement) String() string {
	if p.Via == "" {
		return "while locating " + p.Key.String()
	}
	return "while locating " + p.Key.String() + " " + p.Via
}

// Message is a single diagnostic collected by Errors.
type Message struct {
	Source Source
	Text   string
	Path   []PathElement
	Cause  error
}

func (m Message) String() string {
	var b strings.Builder
	b.WriteString(m.Text)
	if !m.Source.IsUnknown() {
		b.WriteString("\n  at ")
		b.WriteString(m.Source.String())
	}
	for i := len(m.Path) - 1; i >= 0; i-- {
		b.WriteString("\n  ")
		b.WriteString(m.Path[i].String())
	}
	return b.String()
}

// Errors accumulates messages across a whole build or resolve attempt. The
// zero value is ready to use.
type Errors struct {
	messages []Message
}

// Add appends m.
func (e *Errors) Add(m Message) *Errors {
	e.messages = append(e.messages, m)
	return e
}

// Addf appends a formatted message attributed to src.
func (e *Errors) Addf(src Source, format string, args ...any) *Errors {
	return e.Add(Message{Source: src, Text: fmt.Sprintf(format, args...)})
}

// AddError appends err. Aggregates are flattened so every contained message
// stays visible.
func (e *Errors) AddError(src Source, err error, path []PathElement) *Errors {
	if err == nil {
		return e
	}
	var ce *CreationError
	if errors.As(err, &ce) {
		e.messages = append(e.messages, ce.Messages...)
		return e
	}
	var pe *ProvisionError
	if errors.As(err, &pe) {
		e.messages = append(e.messages, pe.Messages...)
		return e
	}
	if multi, ok := err.(interface{ Unwrap() []error }); ok {
		if _, declared := err.(*declaredError); !declared {
			for _, inner := range multi.Unwrap() {
				e.AddError(src, inner, path)
			}
			return e
		}
	}
	return e.Add(Message{Source: src, Text: err.Error(), Path: path, Cause: err})
}

// Merge appends every message of other.
func (e *Errors) Merge(other *Errors) *Errors {
	if other != nil {
		e.messages = append(e.messages, other.messages...)
	}
	return e
}

// HasErrors reports whether any message was collected.
func (e *Errors) HasErrors() bool { return len(e.messages) > 0 }

// Len returns the number of collected messages.
func (e *Errors) Len() int { return len(e.messages) }

// Messages returns a copy of the collected messages.
func (e *Errors) Messages() []Message {
	return append([]Message(nil), e.messages...)
}

// CreationError returns the collected messages as a configuration failure,
// or nil if there are none.
func (e *Errors) CreationError() error {
	if !e.HasErrors() {
		return nil
	}
	return &CreationError{Messages: e.Messages()}
}

// ProvisionError returns the collected messages as a resolution failure, or
// nil if there are none.
func (e *Errors) ProvisionError() error {
	if !e.HasErrors() {
		return nil
	}
	return &ProvisionError{Messages: e.Messages()}
}

// CreationError reports every configuration problem found while building an
// injector.
type CreationError struct {
	Messages []Message
}

func (e *CreationError) Error() string {
	return formatMessages("unable to create injector", e.Messages)
}

func (e *CreationError) Unwrap() []error { return causes(e.Messages) }

// ProvisionError reports every problem found while resolving one request.
type ProvisionError struct {
	Messages []Message
}

func (e *ProvisionError) Error() string {
	return formatMessages("unable to provision", e.Messages)
}

func (e *ProvisionError) Unwrap() []error { return causes(e.Messages) }

func causes(msgs []Message) []error {
	out := make([]error, 0, len(msgs))
	for _, m := range msgs {
		if m.Cause != nil {
			out = append(out, m.Cause)
		}
	}
	return out
}

// formatMessages renders messages, merging those with the same source and
// text.
func formatMessages(heading string, msgs []Message) string {
	type dedupeKey struct {
		src  Source
		text string
	}
	seen := make(map[dedupeKey]bool, len(msgs))
	unique := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		k := dedupeKey{m.Source, m.Text}
		if seen[k] {
			continue
		}
		seen[k] = true
		unique = append(unique, m)
	}

	var b strings.Builder
	b.WriteString("inject: ")
	b.WriteString(heading)
	b.WriteString(", see the following errors:\n")
	for i, m := range unique {
		fmt.Fprintf(&b, "\n%d) %s\n", i+1, m.String())
	}
	if len(unique) == 1 {
		b.WriteString("\n1 error")
	} else {
		fmt.Fprintf(&b, "\n%d errors", len(unique))
	}
	return b.String()
}
