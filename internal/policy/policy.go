// Package policy compiles CUE-authored capture policies and replay
// plans into the options the capture and replay packages consume.
//
// A policy document has two top-level blocks:
//
//	capture: {
//		ignore: ["password"]              // dropped from every recording
//		functions: {
//			"cart.Checkout": {ignore: ["tmp"]}
//			"demo.Walk":     {mode: "line", lines: [12, 14]}
//		}
//	}
//	replay: plans: {
//		rerun: {ignore_globals: ["rate"], mocks: ["game.roll"], record: true}
//	}
package policy

import (
	"fmt"

	"github.com/roach88/retrace/internal/capture"
	"github.com/roach88/retrace/internal/replay"
)

// CaptureMode selects the recording granularity for one function.
type CaptureMode string

const (
	// ModeFunction records entry and return only.
	ModeFunction CaptureMode = "function"
	// ModeLine additionally records stack snapshots at line events.
	ModeLine CaptureMode = "line"
)

// ValidateCaptureMode checks that m is a known mode.
func ValidateCaptureMode(m CaptureMode) error {
	switch m {
	case ModeFunction, ModeLine:
		return nil
	default:
		return fmt.Errorf("invalid capture mode: %q", m)
	}
}

// FunctionRule is the per-function part of a capture policy.
type FunctionRule struct {
	Ignore []string
	Mode   CaptureMode
	Lines  []int
}

// CapturePolicy configures what the monitor records.
type CapturePolicy struct {
	// Ignore lists variable names excluded from every monitored
	// function, on top of each rule's own list.
	Ignore    []string
	Functions map[string]FunctionRule
}

// Plan is a named replay configuration.
type Plan struct {
	// Start and End optionally pin the replayed range to recorded call
	// ids; the CLI argument wins when both are given.
	Start         string
	End           string
	IgnoreGlobals []string
	Mocks         []string
	Record        bool
}

// Policy is a compiled policy document.
type Policy struct {
	Capture CapturePolicy
	Plans   map[string]Plan
}

// Rule returns the capture rule for a function, or the zero rule when
// the policy names none.
func (p *Policy) Rule(function string) (FunctionRule, bool) {
	r, ok := p.Capture.Functions[function]
	return r, ok
}

// Plan returns the named replay plan.
func (p *Policy) Plan(name string) (Plan, bool) {
	plan, ok := p.Plans[name]
	return plan, ok
}

// TargetOptions converts a function's rule into monitor registration
// options, folding in the policy-wide ignore list.
func (p *Policy) TargetOptions(function string) []capture.TargetOption {
	rule := p.Capture.Functions[function]

	var opts []capture.TargetOption
	if ignore := append(append([]string{}, p.Capture.Ignore...), rule.Ignore...); len(ignore) > 0 {
		opts = append(opts, capture.WithIgnore(ignore...))
	}
	if rule.Mode == ModeLine {
		if len(rule.Lines) > 0 {
			opts = append(opts, capture.WithLines(rule.Lines...))
		} else {
			opts = append(opts, capture.WithMarkedLines())
		}
	}
	return opts
}

// CallOptions converts a plan into replay execution options.
func (pl Plan) CallOptions() []replay.CallOption {
	var opts []replay.CallOption
	if len(pl.IgnoreGlobals) > 0 {
		opts = append(opts, replay.WithIgnoreGlobals(pl.IgnoreGlobals...))
	}
	if len(pl.Mocks) > 0 {
		opts = append(opts, replay.WithMocks(pl.Mocks...))
	}
	if pl.Record {
		opts = append(opts, replay.WithRecord())
	}
	return opts
}
