// Package rcontext implements the per-call Context: a cancellation handle,
// an executor handle, and a heterogeneous, type-keyed extension store that
// every Service in the composition core reads and writes instead of
// threading bespoke parameters through every call.
package rcontext

import (
	"context"
	"reflect"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/puzpuzpuz/xsync/v4"
)

// Executor spawns background work tied to a Context's lifetime. The
// listener runtime's accept loop is the canonical Executor: every
// connection's Context shares the loop's executor so a Layer can fire off
// a detached task (a health-check ping, a deferred log flush) without
// reaching for a raw `go` statement.
type Executor interface {
	Spawn(fn func())
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(fn func())

func (f ExecutorFunc) Spawn(fn func()) { f(fn) }

// goExecutor is the default Executor, used when none is supplied.
type goExecutor struct{}

func (goExecutor) Spawn(fn func()) { go fn() }

// Context carries per-call state through a Service/Layer stack. The zero
// value is not usable; construct one with New.
//
// The extension map is single-owner: a Context and its Clone never share
// map storage, even though they share the cancellation and executor
// handles. This keeps a Layer's writes to Context-local state (a parsed
// auth claim, a computed retry budget) invisible to sibling goroutines
// that cloned the same parent Context for a fan-out step.
type Context struct {
	std      context.Context
	cancel   context.CancelFunc
	exec     Executor
	ext      *xsync.Map[reflect.Type, any]
	deadline time.Time
}

// New builds a root Context from a standard context.Context (typically
// the one the listener runtime derives per-accepted connection) and mints
// a ULID ConnectionID extension.
func New(std context.Context) *Context {
	c, cancel := context.WithCancel(std)
	rc := &Context{
		std:    c,
		cancel: cancel,
		exec:   goExecutor{},
		ext:    xsync.NewMap[reflect.Type, any](),
	}
	rc.Set(connIDKey{}, ulid.Make())
	return rc
}

// WithExecutor returns a Context that spawns background work through exec
// instead of a bare `go` statement.
func (c *Context) WithExecutor(exec Executor) *Context {
	clone := c.shallowClone()
	clone.exec = exec
	return clone
}

// Clone returns a Context that shares this Context's cancellation and
// executor handles but owns a fresh, independently-writable extension map
// seeded with a copy of the current entries. Use Clone before fanning a
// request out to concurrent sub-calls that must not observe each other's
// extension writes.
func (c *Context) Clone() *Context {
	clone := c.shallowClone()
	clone.ext = xsync.NewMap[reflect.Type, any]()
	c.ext.Range(func(k reflect.Type, v any) bool {
		clone.ext.Store(k, v)
		return true
	})
	return clone
}

func (c *Context) shallowClone() *Context {
	return &Context{
		std:      c.std,
		cancel:   c.cancel,
		exec:     c.exec,
		ext:      c.ext,
		deadline: c.deadline,
	}
}

// Std returns the underlying standard context.Context, for interop with
// stdlib and ecosystem APIs that expect one (net.Dialer, http.Request,
// otel spans).
func (c *Context) Std() context.Context { return c.std }

// Done, Err and Deadline mirror context.Context so Context itself can be
// passed to APIs that accept a plain context.Context via Std() without an
// intermediate variable at every call site.
func (c *Context) Done() <-chan struct{}       { return c.std.Done() }
func (c *Context) Err() error                  { return c.std.Err() }
func (c *Context) Deadline() (time.Time, bool) { return c.std.Deadline() }
func (c *Context) Cancel()                     { c.cancel() }
func (c *Context) Spawn(fn func())             { c.exec.Spawn(fn) }

// Value delegates to the underlying standard context.Context, so a
// *Context satisfies context.Context itself (rather than only producing
// one via Std()) and can be passed directly to a service.Service's
// Serve(ctx context.Context, ...) parameter or any other API typed
// against the interface. It does not reach into the extension map - use
// Get/Set for that, via a type assertion back to *Context where a typed
// extension is needed.
func (c *Context) Value(key any) any { return c.std.Value(key) }

// connIDKey is the extension key for the ULID minted in New.
type connIDKey struct{}

// ConnectionID returns the ULID the listener runtime assigned this
// connection at accept time.
func (c *Context) ConnectionID() ulid.ULID {
	v, _ := Get[ulid.ULID](c, connIDKey{})
	return v
}

// Set stores a value under key's concrete type. A second Set with the same
// type overwrites the first; use a distinct key type (an empty struct, as
// with connIDKey) to distinguish values of the same underlying type.
func Set[K any](c *Context, key K, value any) {
	c.ext.Store(reflect.TypeOf(key), value)
}

// Get retrieves a value previously stored with Set, type-asserting it to
// T. The zero value of T and false are returned if the key is unset or the
// stored value is not a T.
func Get[T any, K any](c *Context, key K) (T, bool) {
	v, ok := c.ext.Load(reflect.TypeOf(key))
	if !ok {
		var zero T
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

// MustGet is Get, panicking if the key is absent or of the wrong type. Use
// only for extensions a Layer has established as invariant further up the
// stack (e.g. the ConnectionID every Context carries from New).
func MustGet[T any, K any](c *Context, key K) T {
	v, ok := Get[T](c, key)
	if !ok {
		panic("rcontext: required extension missing or wrong type")
	}
	return v
}
