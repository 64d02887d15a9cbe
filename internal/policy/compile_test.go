package policy

import (
	"testing"

	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileBasic(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		capture: {
			ignore: ["password", "token"]
			functions: {
				"cart.Checkout": {ignore: ["tmp"]}
				"demo.Walk":     {mode: "line", lines: [12, 14]}
			}
		}
		replay: plans: {
			rerun: {ignore_globals: ["rate"], mocks: ["game.roll"], record: true}
		}
	`)
	require.NoError(t, v.Err())

	pol, err := Compile(v)
	require.NoError(t, err)

	assert.Equal(t, []string{"password", "token"}, pol.Capture.Ignore)

	rule, ok := pol.Rule("cart.Checkout")
	require.True(t, ok)
	assert.Equal(t, []string{"tmp"}, rule.Ignore)
	assert.Equal(t, ModeFunction, rule.Mode)

	rule, ok = pol.Rule("demo.Walk")
	require.True(t, ok)
	assert.Equal(t, ModeLine, rule.Mode)
	assert.Equal(t, []int{12, 14}, rule.Lines)

	plan, ok := pol.Plan("rerun")
	require.True(t, ok)
	assert.Equal(t, []string{"rate"}, plan.IgnoreGlobals)
	assert.Equal(t, []string{"game.roll"}, plan.Mocks)
	assert.True(t, plan.Record)
}

func TestCompileCaptureOnly(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`capture: functions: "calc.Add": {ignore: ["scratch"]}`)
	require.NoError(t, v.Err())

	pol, err := Compile(v)
	require.NoError(t, err)
	assert.Len(t, pol.Capture.Functions, 1)
	assert.Empty(t, pol.Plans)
}

func TestCompileEmptyDocument(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`other: 1`)
	require.NoError(t, v.Err())

	_, err := Compile(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "neither capture nor replay.plans")
}

func TestCompileInvalidMode(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`capture: functions: "demo.Walk": {mode: "statement"}`)
	require.NoError(t, v.Err())

	_, err := Compile(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode")

	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, `capture.functions.demo.Walk.mode`, cerr.Field)
}

func TestCompileLinesRequireLineMode(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`capture: functions: "demo.Walk": {lines: [3]}`)
	require.NoError(t, v.Err())

	_, err := Compile(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `lines require mode: "line"`)
}

func TestCompileNegativeLine(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`capture: functions: "demo.Walk": {mode: "line", lines: [-1]}`)
	require.NoError(t, v.Err())

	_, err := Compile(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "positive")
}

func TestCompilePlanEndRequiresStart(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`replay: plans: bad: {end: "some-call", record: true}`)
	require.NoError(t, v.Err())

	_, err := Compile(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "end requires start")
}

func TestCompileIgnoreMustBeList(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`capture: ignore: "password"`)
	require.NoError(t, v.Err())

	_, err := Compile(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list of strings")
}

func TestTargetOptions(t *testing.T) {
	pol := &Policy{
		Capture: CapturePolicy{
			Ignore: []string{"password"},
			Functions: map[string]FunctionRule{
				"cart.Checkout": {Ignore: []string{"tmp"}},
				"demo.Walk":     {Mode: ModeLine, Lines: []int{3}},
				"demo.Marked":   {Mode: ModeLine},
			},
		},
	}

	// Policy-wide ignore applies even without a per-function rule.
	assert.Len(t, pol.TargetOptions("not.Listed"), 1)
	assert.Len(t, pol.TargetOptions("cart.Checkout"), 1)
	assert.Len(t, pol.TargetOptions("demo.Walk"), 2)
	assert.Len(t, pol.TargetOptions("demo.Marked"), 2)
}

func TestPlanCallOptions(t *testing.T) {
	assert.Empty(t, Plan{}.CallOptions())
	assert.Len(t, Plan{Record: true}.CallOptions(), 1)
	assert.Len(t, Plan{
		IgnoreGlobals: []string{"rate"},
		Mocks:         []string{"game.roll"},
		Record:        true,
	}.CallOptions(), 3)
}
