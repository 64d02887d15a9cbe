package harness

import (
	"context"
	"fmt"

	"github.com/roach88/retrace/internal/object"
	"github.com/roach88/retrace/internal/store"
)

// PrincipleViolation is returned when the versioning walkthrough
// observes a law being broken.
type PrincipleViolation struct {
	Step   string // which step of the walkthrough
	Detail string
}

// Error implements the error interface.
func (e *PrincipleViolation) Error() string {
	return fmt.Sprintf("versioning principle violated at %q: %s", e.Step, e.Detail)
}

// VerifyVersioning runs the canonical object-versioning walkthrough
// against a store and checks every law along the way:
//
//  1. Store [1,2,3] under an identity -> version A
//  2. Append 5 and re-store -> version B, Next(A) = B
//  3. Re-store B unchanged -> chain unchanged, latest still B
//  4. Set index 0 to 9 and re-store -> version C
//  5. History(A) = [A, B, C], Next(C) does not exist
//
// It is exposed as a function rather than a test so the CLI and the
// conformance tests can both run it against any database.
func VerifyVersioning(ctx context.Context, st *store.Store) error {
	const handle = "principle:list"

	list := []int{1, 2, 3}
	keyA, err := st.Put(ctx, list, store.WithIdentity(handle))
	if err != nil {
		return fmt.Errorf("versioning walkthrough: %w", err)
	}

	list = append(list, 5)
	keyB, err := st.Put(ctx, list, store.WithIdentity(handle))
	if err != nil {
		return fmt.Errorf("versioning walkthrough: %w", err)
	}
	if keyB == keyA {
		return &PrincipleViolation{Step: "append", Detail: "mutated value produced the same key"}
	}
	if err := expectNext(ctx, st, keyA, keyB, "append"); err != nil {
		return err
	}

	// Re-storing an unchanged value must not grow the chain.
	keyB2, err := st.Put(ctx, list, store.WithIdentity(handle))
	if err != nil {
		return fmt.Errorf("versioning walkthrough: %w", err)
	}
	if keyB2 != keyB {
		return &PrincipleViolation{
			Step:   "re-store",
			Detail: fmt.Sprintf("unchanged value minted a new version %s (latest was %s)", keyB2, keyB),
		}
	}
	if err := expectHistory(ctx, st, keyA, []object.Key{keyA, keyB}, "re-store"); err != nil {
		return err
	}

	list[0] = 9
	keyC, err := st.Put(ctx, list, store.WithIdentity(handle))
	if err != nil {
		return fmt.Errorf("versioning walkthrough: %w", err)
	}
	if err := expectHistory(ctx, st, keyA, []object.Key{keyA, keyB, keyC}, "mutate"); err != nil {
		return err
	}
	if err := expectNext(ctx, st, keyB, keyC, "mutate"); err != nil {
		return err
	}

	if _, ok, err := st.Next(ctx, keyC); err != nil {
		return fmt.Errorf("versioning walkthrough: %w", err)
	} else if ok {
		return &PrincipleViolation{Step: "latest", Detail: "latest version has a successor"}
	}
	return nil
}

func expectNext(ctx context.Context, st *store.Store, from, want object.Key, step string) error {
	next, ok, err := st.Next(ctx, from)
	if err != nil {
		return fmt.Errorf("versioning walkthrough: %w", err)
	}
	if !ok {
		return &PrincipleViolation{Step: step, Detail: fmt.Sprintf("Next(%s) has no successor", from)}
	}
	if next != want {
		return &PrincipleViolation{Step: step, Detail: fmt.Sprintf("Next(%s) = %s, want %s", from, next, want)}
	}
	return nil
}

func expectHistory(ctx context.Context, st *store.Store, from object.Key, want []object.Key, step string) error {
	history, err := st.History(ctx, from)
	if err != nil {
		return fmt.Errorf("versioning walkthrough: %w", err)
	}
	if len(history) != len(want) {
		return &PrincipleViolation{
			Step:   step,
			Detail: fmt.Sprintf("History(%s) has %d versions, want %d", from, len(history), len(want)),
		}
	}
	for i := range want {
		if history[i] != want[i] {
			return &PrincipleViolation{
				Step:   step,
				Detail: fmt.Sprintf("History(%s)[%d] = %s, want %s", from, i, history[i], want[i]),
			}
		}
	}
	return nil
}
