package replay

import (
	"fmt"
	"reflect"
	"sync"
)

// targetFunc is one registered replay target: the live function plus its
// declared parameter names in positional order.
type targetFunc struct {
	name   string
	fn     reflect.Value
	params []string
}

// GlobalBinding exposes one module-level variable to the engine. Get
// reads the current live value; Set replaces it with a reconstructed
// one. Both operate on the program's real state, which is what lets
// ignored globals keep their live values during replay.
type GlobalBinding struct {
	Get func() any
	Set func(any)
}

// Registry maps recorded names back to live code. It is the Go answer to
// the recorded program's module namespace: functions cannot be resolved
// by name through reflection alone, so anything replay should re-invoke,
// read, write, or mock must be registered here first.
//
// A Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	funcs     map[string]*targetFunc
	globals   map[string]GlobalBinding
	mockables map[string]reflect.Value // pointer to a func variable
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		funcs:     make(map[string]*targetFunc),
		globals:   make(map[string]GlobalBinding),
		mockables: make(map[string]reflect.Value),
	}
}

// RegisterFunc makes a function replayable under the recorded name.
// params declares the parameter names in positional order; Go reflection
// exposes no parameter names, and the engine needs them to pick the true
// arguments out of a call's captured locals. The count must match the
// function's arity exactly.
func (r *Registry) RegisterFunc(name string, fn any, params ...string) error {
	if name == "" {
		return fmt.Errorf("register func: empty name")
	}
	if fn == nil {
		return fmt.Errorf("register func %s: nil function", name)
	}
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func {
		return fmt.Errorf("register func %s: %T is not a function", name, fn)
	}
	t := rv.Type()
	if t.IsVariadic() {
		return fmt.Errorf("register func %s: variadic functions are not replayable", name)
	}
	if t.NumIn() != len(params) {
		return fmt.Errorf("register func %s: %d parameter names for %d parameters", name, len(params), t.NumIn())
	}
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if p == "" {
			return fmt.Errorf("register func %s: empty parameter name", name)
		}
		if seen[p] {
			return fmt.Errorf("register func %s: duplicate parameter name %q", name, p)
		}
		seen[p] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = &targetFunc{name: name, fn: rv, params: params}
	return nil
}

// BindGlobal registers accessors for one module-level variable under its
// recorded name. Both accessors are required: replay must be able to
// inject recorded values and to read live ones.
func (r *Registry) BindGlobal(name string, get func() any, set func(any)) error {
	if name == "" {
		return fmt.Errorf("bind global: empty name")
	}
	if get == nil || set == nil {
		return fmt.Errorf("bind global %s: get and set are both required", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.globals[name] = GlobalBinding{Get: get, Set: set}
	return nil
}

// BindMockable registers a swappable seam for a function the target code
// calls through a variable. slot must be a non-nil pointer to a function
// variable with at most one return value; the engine temporarily
// replaces the variable with a stub during mocked replay and restores it
// afterwards.
func (r *Registry) BindMockable(name string, slot any) error {
	if name == "" {
		return fmt.Errorf("bind mockable: empty name")
	}
	rv := reflect.ValueOf(slot)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("bind mockable %s: slot must be a non-nil pointer to a function variable", name)
	}
	elem := rv.Elem()
	if elem.Kind() != reflect.Func {
		return fmt.Errorf("bind mockable %s: *%s is not a function variable", name, elem.Type())
	}
	if elem.Type().NumOut() > 1 {
		return fmt.Errorf("bind mockable %s: mockable functions may have at most one return value", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mockables[name] = elem
	return nil
}

// target looks up a replay target by recorded name.
func (r *Registry) target(name string) (*targetFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.funcs[name]
	return t, ok
}

// global looks up a global binding by recorded name.
func (r *Registry) global(name string) (GlobalBinding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.globals[name]
	return b, ok
}

// mockable looks up a mockable slot by recorded name.
func (r *Registry) mockable(name string) (reflect.Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.mockables[name]
	return v, ok
}

// Functions returns the registered replay target names, unsorted.
func (r *Registry) Functions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		out = append(out, name)
	}
	return out
}
