package policy

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Compile parses a CUE value into a Policy.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value is the whole document:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`capture: { ... }`)
//	pol, err := Compile(v)
func Compile(v cue.Value) (*Policy, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	pol := &Policy{
		Capture: CapturePolicy{Functions: map[string]FunctionRule{}},
		Plans:   map[string]Plan{},
	}

	captureVal := v.LookupPath(cue.ParsePath("capture"))
	if captureVal.Exists() {
		if err := compileCapture(captureVal, pol); err != nil {
			return nil, err
		}
	}

	plansVal := v.LookupPath(cue.ParsePath("replay.plans"))
	if plansVal.Exists() {
		if err := compilePlans(plansVal, pol); err != nil {
			return nil, err
		}
	}

	if !captureVal.Exists() && !plansVal.Exists() {
		return nil, &CompileError{
			Field:   "policy",
			Message: "document defines neither capture nor replay.plans",
			Pos:     v.Pos(),
		}
	}

	return pol, nil
}

func compileCapture(v cue.Value, pol *Policy) error {
	ignore, err := stringList(v.LookupPath(cue.ParsePath("ignore")), "capture.ignore")
	if err != nil {
		return err
	}
	pol.Capture.Ignore = ignore

	funcsVal := v.LookupPath(cue.ParsePath("functions"))
	if !funcsVal.Exists() {
		return nil
	}

	iter, err := funcsVal.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		name := iter.Label()
		rule, err := compileRule(iter.Value(), name)
		if err != nil {
			return err
		}
		pol.Capture.Functions[name] = rule
	}
	return nil
}

func compileRule(v cue.Value, function string) (FunctionRule, error) {
	rule := FunctionRule{Mode: ModeFunction}

	ignore, err := stringList(v.LookupPath(cue.ParsePath("ignore")), fmt.Sprintf("capture.functions.%s.ignore", function))
	if err != nil {
		return rule, err
	}
	rule.Ignore = ignore

	modeVal := v.LookupPath(cue.ParsePath("mode"))
	if modeVal.Exists() {
		mode, err := modeVal.String()
		if err != nil {
			return rule, formatCUEError(err)
		}
		rule.Mode = CaptureMode(mode)
		if err := ValidateCaptureMode(rule.Mode); err != nil {
			return rule, &CompileError{
				Field:   fmt.Sprintf("capture.functions.%s.mode", function),
				Message: `mode must be "function" or "line"`,
				Pos:     modeVal.Pos(),
			}
		}
	}

	linesVal := v.LookupPath(cue.ParsePath("lines"))
	if linesVal.Exists() {
		if rule.Mode != ModeLine {
			return rule, &CompileError{
				Field:   fmt.Sprintf("capture.functions.%s.lines", function),
				Message: `lines require mode: "line"`,
				Pos:     linesVal.Pos(),
			}
		}
		lineIter, err := linesVal.List()
		if err != nil {
			return rule, formatCUEError(err)
		}
		for lineIter.Next() {
			n, err := lineIter.Value().Int64()
			if err != nil {
				return rule, formatCUEError(err)
			}
			if n <= 0 {
				return rule, &CompileError{
					Field:   fmt.Sprintf("capture.functions.%s.lines", function),
					Message: fmt.Sprintf("line numbers must be positive, got %d", n),
					Pos:     lineIter.Value().Pos(),
				}
			}
			rule.Lines = append(rule.Lines, int(n))
		}
	}

	return rule, nil
}

func compilePlans(v cue.Value, pol *Policy) error {
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		name := iter.Label()
		plan, err := compilePlan(iter.Value(), name)
		if err != nil {
			return err
		}
		pol.Plans[name] = plan
	}
	if len(pol.Plans) == 0 {
		return &CompileError{
			Field:   "replay.plans",
			Message: "at least one plan is required",
			Pos:     v.Pos(),
		}
	}
	return nil
}

func compilePlan(v cue.Value, name string) (Plan, error) {
	var plan Plan

	for field, dst := range map[string]*string{
		"start": &plan.Start,
		"end":   &plan.End,
	} {
		fv := v.LookupPath(cue.ParsePath(field))
		if !fv.Exists() {
			continue
		}
		s, err := fv.String()
		if err != nil {
			return plan, formatCUEError(err)
		}
		*dst = s
	}

	if plan.End != "" && plan.Start == "" {
		return plan, &CompileError{
			Field:   fmt.Sprintf("replay.plans.%s.end", name),
			Message: "end requires start",
			Pos:     v.Pos(),
		}
	}

	ignore, err := stringList(v.LookupPath(cue.ParsePath("ignore_globals")), fmt.Sprintf("replay.plans.%s.ignore_globals", name))
	if err != nil {
		return plan, err
	}
	plan.IgnoreGlobals = ignore

	mocks, err := stringList(v.LookupPath(cue.ParsePath("mocks")), fmt.Sprintf("replay.plans.%s.mocks", name))
	if err != nil {
		return plan, err
	}
	plan.Mocks = mocks

	recordVal := v.LookupPath(cue.ParsePath("record"))
	if recordVal.Exists() {
		record, err := recordVal.Bool()
		if err != nil {
			return plan, formatCUEError(err)
		}
		plan.Record = record
	}

	return plan, nil
}

// stringList reads an optional list of strings.
func stringList(v cue.Value, field string) ([]string, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{
			Field:   field,
			Message: "must be a list of strings",
			Pos:     v.Pos(),
		}
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
