// Package plugin implements the assertion plugin registry: the built-in
// header/trailer/grpc_response_time/asserts/proto/tls handlers, and the
// external plugin loader.
package plugin

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/matgreaves/gctf/spec"
)

// Context is the information a handler needs beyond the parsed call: the
// gRPC response metadata the invoker captured for the test.
type Context struct {
	// Response is the JSON-encoded response payload the call is being
	// evaluated against (one streamed message, or the sole response).
	Response []byte
	Headers  map[string][]string
	Trailers map[string][]string
	// ResponseTimeMs is the invoker-measured round-trip latency.
	ResponseTimeMs int64
}

// Handler evaluates one plugin call against ctx and reports pass/fail.
type Handler func(ctx Context, call spec.PluginCall) (bool, error)

// Registry holds the set of named assertion plugins available to the
// evaluator.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	plugin  spec.Plugin
	handler Handler
}

// NewRegistry returns a registry pre-populated with the mandatory built-in
// plugins: header, trailer, grpc_response_time, asserts, proto, tls.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]entry)}
	registerBuiltins(r)
	return r
}

// Register adds a plugin. Re-registering the same name with a handler that
// points at the same function is a no-op (idempotent); re-registering with
// a different handler fails with ConfigurationError.
func (r *Registry) Register(name string, handler Handler, description string, kind spec.PluginKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[name]; ok {
		if sameHandler(existing.handler, handler) {
			return nil
		}
		return &spec.Error{
			Kind: spec.ConfigurationError,
			Err:  fmt.Errorf("plugin %q already registered with a different handler", name),
		}
	}

	r.entries[name] = entry{
		plugin:  spec.Plugin{Name: name, Handler: handler, Description: description, Kind: kind},
		handler: handler,
	}
	return nil
}

// Execute looks up name and invokes its handler. Returns a PluginError if
// no plugin is registered under that name.
func (r *Registry) Execute(name string, ctx Context, call spec.PluginCall) (bool, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return false, &spec.Error{Kind: spec.PluginError, Err: fmt.Errorf("unknown assertion plugin %q", name)}
	}
	return e.handler(ctx, call)
}

// List returns every registered plugin, in no particular order.
func (r *Registry) List() []spec.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]spec.Plugin, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.plugin)
	}
	return out
}

// sameHandler reports whether two Handler values reference the same
// underlying function. Go func values aren't comparable, so this compares
// the function pointer via reflection — sufficient for detecting "the same
// registration happened twice," which is the only case idempotency needs
// to cover.
func sameHandler(a, b Handler) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
