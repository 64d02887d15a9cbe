package capture

import "context"

// Hook is the narrow boundary instrumented code records through.
// Implementations never block the caller and never panic; a failed
// capture is logged and the event is lost, the program keeps running.
type Hook interface {
	// OnCall records function entry and returns the new call id, or ""
	// when the event was not captured.
	OnCall(function string, locals map[string]any) CallID

	// OnReturn records function exit with its return value. A "" id is
	// ignored, so OnCall failures need no special handling at the exit
	// site.
	OnReturn(id CallID, value any)

	// OnLine records a frame snapshot at a source line. A "" id is
	// ignored.
	OnLine(id CallID, line int, locals, globals map[string]any)
}

var (
	_ Hook = (*Repository)(nil)
	_ Hook = (*Monitor)(nil)
)

// OnCall implements Hook directly on the repository: bare entry capture
// without stack tracking or per-target configuration. Instrumentation
// that wants nesting, ignore lists or metadata hooks records through a
// Monitor instead.
func (r *Repository) OnCall(function string, locals map[string]any) CallID {
	id, err := r.BeginCall(context.Background(), CallInput{Function: function, Locals: locals})
	if err != nil {
		r.log.Warn("call capture failed", "function", function, "error", err)
		return ""
	}
	return id
}

// OnReturn implements Hook.
func (r *Repository) OnReturn(id CallID, value any) {
	if id == "" {
		return
	}
	if err := r.EndCall(context.Background(), id, ReturnInput{Value: value}); err != nil {
		r.log.Warn("return capture failed", "call", id, "error", err)
	}
}

// OnLine implements Hook.
func (r *Repository) OnLine(id CallID, line int, locals, globals map[string]any) {
	if id == "" {
		return
	}
	if err := r.RecordLine(context.Background(), id, line, locals, globals); err != nil {
		r.log.Warn("line capture failed", "call", id, "line", line, "error", err)
	}
}
