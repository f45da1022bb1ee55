// Package registry provides the default callable serializer referenced by
// SPEC_FULL.md §4.11: a named-function strategy for transporting callables
// across the process boundary, and a gob-based context encoder. gob
// flattens pointers, so two references to one object inside a context
// decode as two separate copies, and cyclic values are not supported.
//
// A host is free to supply its own Serializer implementation to
// process.Manager; this package exists so the engine is runnable end to
// end without requiring one.
package registry

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"
	"fmt"
	"sync"
)

func init() {
	// gob requires every concrete type that will ever be assigned to an
	// interface{} to be registered before Encode/Decode, with no
	// exception for built-ins. Register the shapes a context commonly
	// takes; hosts passing their own struct types must call RegisterType
	// for them too (see RegisterType below).
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register(int(0))
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register(string(""))
	gob.Register(bool(false))
}

// RegisterType makes a host-defined context type transportable through
// EncodeContext/DecodeContext. Call it once at startup for every
// concrete type (including pointer types) a context argument might hold
// — a consequence of encoding/gob's registration requirement for values
// stored in an interface, not something this package can work around.
func RegisterType(v any) {
	gob.Register(v)
}

// Callable is a unit of work: it receives the deserialized context and
// returns a JSON-marshalable result, or an error.
type Callable func(ctx any) (any, error)

// Serializer is the pluggable strategy the spec keeps external to the
// core (§1, §9). process.Manager accepts any implementation.
type Serializer interface {
	// Serialize returns the opaque string transmitted as
	// TaskPayload.SerializedCallback, plus an opaque string transmitted as
	// TaskPayload.Context.
	Serialize(fn Callable, ctx any) (callback string, context string, err error)
	// Deserialize is the worker-side inverse of Serialize.
	Deserialize(callback string, context string) (Callable, any, error)
}

// Named is the default Serializer: callables must be registered ahead of
// time under a string key (spec §9 strategy (a), "named top-level
// function: transmit its symbol"). This is the only strategy that can
// cross an exec.Cmd process boundary for an arbitrary Go function value,
// since Go has no portable function-pointer/closure transport.
type Named struct {
	mu   sync.RWMutex
	fns  map[string]Callable
}

// NewNamed constructs an empty named-function registry.
func NewNamed() *Named {
	return &Named{fns: make(map[string]Callable)}
}

// Register associates name with fn. Re-registering the same name
// overwrites the previous binding; callers typically register once at
// program startup.
func (n *Named) Register(name string, fn Callable) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fns[name] = fn
}

// Lookup returns the Callable registered under name.
func (n *Named) Lookup(name string) (Callable, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	fn, ok := n.fns[name]
	return fn, ok
}

// Serialize implements Serializer but always returns an error: Named
// cannot recover a registered name from a function value, so callers use
// SerializeNamed instead (process.Manager does so whenever its Serializer
// is a *Named).
func (n *Named) Serialize(fn Callable, ctx any) (string, string, error) {
	return "", "", fmt.Errorf("registry: use SerializeNamed(name, ctx) with the Named strategy")
}

// SerializeNamed builds the (callback, context) pair for a callable
// already registered under name.
func (n *Named) SerializeNamed(name string, ctx any) (string, string, error) {
	n.mu.RLock()
	_, ok := n.fns[name]
	n.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("registry: %q is not registered", name)
	}
	encodedCtx, err := EncodeContext(ctx)
	if err != nil {
		return "", "", fmt.Errorf("registry: encoding context: %w", err)
	}
	return name, encodedCtx, nil
}

// Deserialize implements Serializer: callback is a registered name,
// context is the gob-encoded, base64-wrapped value produced by
// EncodeContext.
func (n *Named) Deserialize(callback string, context string) (Callable, any, error) {
	fn, ok := n.Lookup(callback)
	if !ok {
		return nil, nil, fmt.Errorf("registry: %q is not registered in this worker", callback)
	}
	ctx, err := DecodeContext(context)
	if err != nil {
		return nil, nil, fmt.Errorf("registry: decoding context: %w", err)
	}
	return fn, ctx, nil
}

var (
	defaultNamed     *Named
	defaultNamedOnce sync.Once
)

// Default returns the process-wide default Named registry. Hosts
// register their callables against this instance (typically from an
// init() in both the code that submits tasks and the worker binary that
// runs them, since the named-function strategy requires both sides to
// agree on what each name resolves to), and cmd/worker's entry point
// deserializes against it by default.
func Default() *Named {
	defaultNamedOnce.Do(func() {
		defaultNamed = NewNamed()
	})
	return defaultNamed
}

// EncodeContext gob-encodes v and wraps it in base64 so it can travel as a
// JSON string field. gob does not keep pointer identity: two references
// to one object inside v decode as two separate, equal copies, and a
// value containing a cycle cannot be encoded.
func EncodeContext(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeContext is the inverse of EncodeContext.
func DecodeContext(s string) (any, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	var v any
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
