package replay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/retrace/internal/capture"
)

func TestExecuteCall_MocksReturnRecordedResults(t *testing.T) {
	rollCalls := 0
	roll := func() int { rollCalls++; return 42 }

	reg := NewRegistry()
	require.NoError(t, reg.RegisterFunc("game.PlayRound", func(n int) int {
		total := 0
		for i := 0; i < n; i++ {
			total += roll()
		}
		return total
	}, "n"))
	require.NoError(t, reg.BindMockable("game.roll", &roll))

	eng, repo, _ := setupEngine(t, reg)
	startSession(t, repo, "record")

	ctx := context.Background()
	parentID, err := repo.BeginCall(ctx, capture.CallInput{
		Function: "game.PlayRound",
		Locals:   map[string]any{"n": 2},
	})
	require.NoError(t, err)
	// The nondeterministic subcalls, in order.
	for _, v := range []int{3, 6} {
		subID, err := repo.BeginCall(ctx, capture.CallInput{
			Function:  "game.roll",
			InvokedBy: parentID,
		})
		require.NoError(t, err)
		require.NoError(t, repo.EndCall(ctx, subID, capture.ReturnInput{Value: v}))
	}
	require.NoError(t, repo.EndCall(ctx, parentID, capture.ReturnInput{Value: 9}))
	endSession(t, repo)

	outcome, err := eng.ExecuteCall(ctx, string(parentID), WithMocks("game.roll"))
	require.NoError(t, err)
	assert.Equal(t, 9, outcome.Value, "mocked subcalls must reproduce the recording")
	assert.Zero(t, rollCalls, "the real roll must not run while mocked")

	// The stub is gone once the replay returns.
	assert.Equal(t, 42, roll())
}

func TestExecuteCall_MockFallsThroughWhenExhausted(t *testing.T) {
	roll := func() int { return 100 }

	reg := NewRegistry()
	require.NoError(t, reg.RegisterFunc("game.PlayRound", func(n int) int {
		total := 0
		for i := 0; i < n; i++ {
			total += roll()
		}
		return total
	}, "n"))
	require.NoError(t, reg.BindMockable("game.roll", &roll))

	eng, repo, _ := setupEngine(t, reg)
	startSession(t, repo, "record")

	ctx := context.Background()
	parentID, err := repo.BeginCall(ctx, capture.CallInput{
		Function: "game.PlayRound",
		Locals:   map[string]any{"n": 3},
	})
	require.NoError(t, err)
	subID, err := repo.BeginCall(ctx, capture.CallInput{
		Function:  "game.roll",
		InvokedBy: parentID,
	})
	require.NoError(t, err)
	require.NoError(t, repo.EndCall(ctx, subID, capture.ReturnInput{Value: 7}))
	require.NoError(t, repo.EndCall(ctx, parentID, capture.ReturnInput{Value: 7}))
	endSession(t, repo)

	// One recorded result, three invocations: 7 + 100 + 100.
	outcome, err := eng.ExecuteCall(ctx, string(parentID), WithMocks("game.roll"))
	require.NoError(t, err)
	assert.Equal(t, 207, outcome.Value)
}

func TestExecuteCall_MockTargetMissing(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterFunc("calc.Add", func(a, b int) int { return a + b }, "a", "b"))

	eng, repo, _ := setupEngine(t, reg)
	startSession(t, repo, "record")
	id := record(t, repo, capture.CallInput{
		Function: "calc.Add",
		Locals:   map[string]any{"a": 1, "b": 2},
	}, capture.ReturnInput{Value: 3})
	endSession(t, repo)

	outcome, err := eng.ExecuteCall(context.Background(), id, WithMocks("game.roll"))
	assert.True(t, IsMockTargetMissing(err))
	assert.Equal(t, StateFailed, outcome.State)
}

func TestExecuteCall_MockIgnoresUnrelatedSubcalls(t *testing.T) {
	roll := func() int { return 100 }

	reg := NewRegistry()
	require.NoError(t, reg.RegisterFunc("game.PlayRound", func(n int) int {
		return roll() * n
	}, "n"))
	require.NoError(t, reg.BindMockable("game.roll", &roll))

	eng, repo, _ := setupEngine(t, reg)
	startSession(t, repo, "record")

	ctx := context.Background()
	parentID, err := repo.BeginCall(ctx, capture.CallInput{
		Function: "game.PlayRound",
		Locals:   map[string]any{"n": 2},
	})
	require.NoError(t, err)
	// A deterministic helper subcall that must not feed the roll stub.
	otherID, err := repo.BeginCall(ctx, capture.CallInput{
		Function:  "game.validate",
		InvokedBy: parentID,
	})
	require.NoError(t, err)
	require.NoError(t, repo.EndCall(ctx, otherID, capture.ReturnInput{Value: true}))
	rollID, err := repo.BeginCall(ctx, capture.CallInput{
		Function:  "game.roll",
		InvokedBy: parentID,
	})
	require.NoError(t, err)
	require.NoError(t, repo.EndCall(ctx, rollID, capture.ReturnInput{Value: 4}))
	require.NoError(t, repo.EndCall(ctx, parentID, capture.ReturnInput{Value: 8}))
	endSession(t, repo)

	outcome, err := eng.ExecuteCall(ctx, string(parentID), WithMocks("game.roll"))
	require.NoError(t, err)
	assert.Equal(t, 8, outcome.Value)
}
