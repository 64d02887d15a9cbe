package replay

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/roach88/retrace/internal/object"
)

// installMocks swaps each named mockable for a stub that replays the
// results its function returned to the original call, in recorded order.
// When the recorded results run out the stub falls through to the real
// function, so a replay that makes more subcalls than the recording
// still proceeds (and exposes the divergence).
//
// The returned restore function puts every slot back; callers must run
// it even when the target panics.
func (e *Engine) installMocks(ctx context.Context, call object.FunctionCall, names []string) (func(), error) {
	if len(names) == 0 {
		return func() {}, nil
	}

	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)

	subcalls, err := e.st.SubcallsOf(ctx, call.ID)
	if err != nil {
		return nil, fmt.Errorf("install mocks for %s: %w", call.ID, err)
	}

	var restores []func()
	restoreAll := func() {
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
	}

	for _, name := range sorted {
		slot, ok := e.reg.mockable(name)
		if !ok {
			restoreAll()
			return nil, NewMockTargetMissingError(call.ID, name)
		}

		results, err := e.recordedResults(ctx, subcalls, name, slot.Type())
		if err != nil {
			restoreAll()
			return nil, err
		}

		orig := reflect.ValueOf(slot.Interface())
		slot.Set(mockStub(slot.Type(), results, orig))
		restores = append(restores, func() { slot.Set(orig) })
	}
	return restoreAll, nil
}

// recordedResults reconstructs, in invocation order, the return values
// the named function produced for subcalls of the original call, coerced
// to the slot's return type up front so the stub can never fail mid-call.
func (e *Engine) recordedResults(ctx context.Context, subcalls []object.FunctionCall, name string, slotType reflect.Type) ([][]reflect.Value, error) {
	var results [][]reflect.Value
	for _, sub := range subcalls {
		if sub.Function != name {
			continue
		}
		if slotType.NumOut() == 0 {
			results = append(results, nil)
			continue
		}
		var live any
		if sub.ReturnValue != "" {
			var err error
			live, err = e.st.Get(ctx, sub.ReturnValue)
			if err != nil {
				return nil, fmt.Errorf("mock %s: reconstruct recorded result of call %s: %w", name, sub.ID, err)
			}
		}
		rv, err := convertValue(live, slotType.Out(0))
		if err != nil {
			return nil, NewSignatureMismatchError(sub.ID, name,
				fmt.Sprintf("recorded result no longer fits return type %s: %v", slotType.Out(0), err))
		}
		results = append(results, []reflect.Value{rv})
	}
	return results, nil
}

// mockStub builds a function value that ignores its arguments and
// returns the next recorded result. Exhausted, it delegates to orig.
func mockStub(t reflect.Type, results [][]reflect.Value, orig reflect.Value) reflect.Value {
	var mu sync.Mutex
	next := 0
	return reflect.MakeFunc(t, func(in []reflect.Value) []reflect.Value {
		mu.Lock()
		if next < len(results) {
			out := results[next]
			next++
			mu.Unlock()
			return out
		}
		mu.Unlock()
		if orig.IsNil() {
			panic(fmt.Sprintf("replay: mock recording exhausted and no original function bound (%s)", t))
		}
		return orig.Call(in)
	})
}
