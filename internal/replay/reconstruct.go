package replay

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/roach88/retrace/internal/object"
)

// reconstructArgs rebuilds the target's positional arguments from the
// call's captured locals. Only the declared parameter names are used;
// body-local variables captured alongside them must not be passed back
// in on re-invocation.
//
// Returns the positional values for reflect.Call plus the name-to-value
// map recorded as the branch call's locals.
func (e *Engine) reconstructArgs(ctx context.Context, call object.FunctionCall, t *targetFunc) ([]reflect.Value, map[string]any, error) {
	ft := t.fn.Type()
	if ft.NumIn() != len(t.params) {
		// Registration enforces this; a mismatch here means the registry
		// was mutated to a different function since.
		return nil, nil, NewSignatureMismatchError(call.ID, t.name,
			fmt.Sprintf("registered function has %d parameters, %d names declared", ft.NumIn(), len(t.params)))
	}

	args := make([]reflect.Value, len(t.params))
	locals := make(map[string]any, len(t.params))
	for i, name := range t.params {
		key, ok := call.Locals[name]
		if !ok {
			return nil, nil, NewSignatureMismatchError(call.ID, t.name,
				fmt.Sprintf("parameter %q was not captured; source has changed since recording", name))
		}
		live, err := e.st.Get(ctx, key)
		if err != nil {
			return nil, nil, fmt.Errorf("reconstruct %s argument %q: %w", t.name, name, err)
		}
		rv, err := convertValue(live, ft.In(i))
		if err != nil {
			return nil, nil, NewSignatureMismatchError(call.ID, t.name,
				fmt.Sprintf("parameter %q: %v", name, err))
		}
		args[i] = rv
		locals[name] = rv.Interface()
	}
	return args, locals, nil
}

// applyGlobals injects recorded globals into their live bindings, except
// for names in ignore, which keep whatever value the program has right
// now. The returned map holds the effective value of every applied name
// at entry: the reconstructed value for injected names, the live value
// for ignored ones. A recorded branch stores these, so an ignored
// global's divergence from the recording is itself recorded.
//
// Recorded globals with no binding cannot be touched from here; they are
// logged and skipped.
func (e *Engine) applyGlobals(ctx context.Context, call object.FunctionCall, ignore map[string]bool) (map[string]any, error) {
	if len(call.Globals) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(call.Globals))
	for name := range call.Globals {
		names = append(names, name)
	}
	sort.Strings(names)

	effective := make(map[string]any, len(names))
	for _, name := range names {
		binding, ok := e.reg.global(name)
		if !ok {
			e.log.Warn("recorded global has no binding", "call_id", call.ID, "name", name)
			continue
		}
		if ignore[name] {
			effective[name] = binding.Get()
			continue
		}
		live, err := e.st.Get(ctx, call.Globals[name])
		if err != nil {
			return nil, fmt.Errorf("reconstruct global %q: %w", name, err)
		}
		binding.Set(live)
		effective[name] = live
	}
	return effective, nil
}

// convertValue coerces a reconstructed live value to the target type.
// Stored scalars come back as int64/float64/string/[]byte and composites
// as []any / map[any]any, so exact recorded types are recovered by
// element-wise conversion rather than assertion.
func convertValue(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		switch t.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func, reflect.Interface:
			return reflect.Zero(t), nil
		default:
			return reflect.Value{}, fmt.Errorf("recorded nil is not assignable to %s", t)
		}
	}

	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	if isNumeric(rv.Kind()) && isNumeric(t.Kind()) {
		return rv.Convert(t), nil
	}
	if rv.Kind() == reflect.String && t.Kind() == reflect.String {
		return rv.Convert(t), nil
	}

	switch t.Kind() {
	case reflect.Slice:
		elems, ok := v.([]any)
		if !ok {
			break
		}
		out := reflect.MakeSlice(t, len(elems), len(elems))
		for i, el := range elems {
			ev, err := convertValue(el, t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			out.Index(i).Set(ev)
		}
		return out, nil
	case reflect.Map:
		entries, ok := v.(map[any]any)
		if !ok {
			break
		}
		out := reflect.MakeMapWithSize(t, len(entries))
		for k, val := range entries {
			kv, err := convertValue(k, t.Key())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("map key %v: %w", k, err)
			}
			vv, err := convertValue(val, t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("map value for %v: %w", k, err)
			}
			out.SetMapIndex(kv, vv)
		}
		return out, nil
	case reflect.Pointer:
		ev, err := convertValue(v, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(ev)
		return p, nil
	}

	return reflect.Value{}, fmt.Errorf("recorded %T is not assignable to %s", v, t)
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}
