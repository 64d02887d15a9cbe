package capture

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"strings"
	"sync"

	"github.com/roach88/retrace/internal/object"
)

// MetadataFunc computes annotation entries at a call boundary. Start
// hooks receive the captured locals; return hooks receive the return
// value under "return". Entries from later hooks win on key collisions.
// A panicking hook is logged and skipped.
type MetadataFunc func(function string, vars map[string]any) map[string]string

// target holds everything the monitor knows about one registered
// function.
type target struct {
	name   string
	file   string
	line   int
	codeID object.CodeID

	ignore      map[string]bool
	lines       map[int]bool // nil records every line, non-nil restricts
	globals     map[string]func() any
	startHooks  []MetadataFunc
	returnHooks []MetadataFunc
}

// filterVars drops ignored names and function values, which have no
// storable state. Safe on a nil target.
func (t *target) filterVars(vars map[string]any) map[string]any {
	if len(vars) == 0 {
		return vars
	}
	out := make(map[string]any, len(vars))
	for name, value := range vars {
		if t != nil && t.ignore[name] {
			continue
		}
		if reflect.ValueOf(value).Kind() == reflect.Func {
			continue
		}
		out[name] = value
	}
	return out
}

// lineWanted reports whether OnLine should record this line.
func (t *target) lineWanted(line int) bool {
	if t == nil || t.lines == nil {
		return true
	}
	return t.lines[line]
}

// TargetOption configures one registered function.
type TargetOption func(*targetConfig)

type targetConfig struct {
	name        string
	ignore      []string
	lines       []int
	markedLines bool
	globals     map[string]func() any
	startHooks  []MetadataFunc
	returnHooks []MetadataFunc
}

// WithName overrides the derived function name. Useful for closures,
// whose runtime names end in generated suffixes.
func WithName(name string) TargetOption {
	return func(c *targetConfig) { c.name = name }
}

// WithIgnore excludes variables by name from capture, both locals and
// globals.
func WithIgnore(names ...string) TargetOption {
	return func(c *targetConfig) { c.ignore = append(c.ignore, names...) }
}

// WithLines restricts line capture to the given source lines. Without
// this option every OnLine event is recorded.
func WithLines(lines ...int) TargetOption {
	return func(c *targetConfig) { c.lines = append(c.lines, lines...) }
}

// WithMarkedLines restricts line capture to source lines carrying the
// capture marker comment. Requires readable source at registration;
// without it no lines are recorded.
func WithMarkedLines() TargetOption {
	return func(c *targetConfig) { c.markedLines = true }
}

// WithGlobal registers a provider for a global variable. The provider
// is read at each call and recorded snapshot, so the stored globals
// track the value over time.
func WithGlobal(name string, get func() any) TargetOption {
	return func(c *targetConfig) {
		if c.globals == nil {
			c.globals = make(map[string]func() any)
		}
		c.globals[name] = get
	}
}

// WithStartHook adds a metadata hook evaluated at function entry.
func WithStartHook(fn MetadataFunc) TargetOption {
	return func(c *targetConfig) { c.startHooks = append(c.startHooks, fn) }
}

// WithReturnHook adds a metadata hook evaluated at function exit.
func WithReturnHook(fn MetadataFunc) TargetOption {
	return func(c *targetConfig) { c.returnHooks = append(c.returnHooks, fn) }
}

// Monitor is the in-process recording adapter: it tracks the call stack
// so nested monitored calls link to their parents, applies per-target
// configuration (ignore lists, line filters, globals providers,
// metadata hooks), snapshots function source into code definitions at
// registration, and carries the branch-parent override replay uses to
// fork recordings from an existing call.
//
// All Hook methods are log-and-continue: capture failures never reach
// the monitored program.
//
// Thread-safety: the monitor serializes its own state behind a mutex,
// but the call stack models one nesting sequence. Programs monitoring
// concurrent goroutines should record each goroutine through its own
// Monitor sharing one Repository.
type Monitor struct {
	repo *Repository
	log  *slog.Logger

	mu           sync.Mutex
	enabled      bool
	targets      map[string]*target
	stack        []CallID
	frames       map[CallID]string // call id -> function, for exit-side lookups
	branchParent CallID            // read-once override consumed by the next OnCall
}

// NewMonitor creates an enabled monitor recording through repo. A nil
// logger falls back to slog.Default().
func NewMonitor(repo *Repository, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		repo:    repo,
		log:     log,
		enabled: true,
		targets: make(map[string]*target),
		frames:  make(map[CallID]string),
	}
}

// Register derives a function's name and call site from its runtime
// information, snapshots its source into a code definition when the
// file is readable, and stores the target configuration. Returns the
// name instrumentation must pass to OnCall.
func (m *Monitor) Register(ctx context.Context, fn any, opts ...TargetOption) (string, error) {
	if fn == nil {
		return "", fmt.Errorf("register: nil function")
	}
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func {
		return "", fmt.Errorf("register: %T is not a function", fn)
	}

	var cfg targetConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	pc := rv.Pointer()
	rf := runtime.FuncForPC(pc)
	if rf == nil {
		return "", fmt.Errorf("register: no runtime information for function")
	}
	file, line := rf.FileLine(pc)
	name := rf.Name()
	if cfg.name != "" {
		name = cfg.name
	}

	t := &target{
		name:        name,
		file:        file,
		line:        line,
		globals:     cfg.globals,
		startHooks:  cfg.startHooks,
		returnHooks: cfg.returnHooks,
	}
	if len(cfg.ignore) > 0 {
		t.ignore = make(map[string]bool, len(cfg.ignore))
		for _, n := range cfg.ignore {
			t.ignore[n] = true
		}
	}
	if len(cfg.lines) > 0 {
		t.lines = make(map[int]bool, len(cfg.lines))
		for _, l := range cfg.lines {
			t.lines[l] = true
		}
	}

	source, firstLine, err := funcSource(file, line)
	if err != nil {
		m.log.Debug("source unavailable", "function", name, "error", err)
		if cfg.markedLines {
			// Marker scan needs source; record no lines rather than all.
			t.lines = map[int]bool{}
		}
	} else {
		module, short := splitFuncName(name)
		def, err := object.NewCodeDefinition(module, short, object.CodeFunction, source, firstLine)
		if err != nil {
			return "", fmt.Errorf("register %s: %w", name, err)
		}
		if err := m.repo.Store().PutCodeDefinition(ctx, def); err != nil {
			return "", fmt.Errorf("register %s: %w", name, err)
		}
		t.codeID = def.ID
		t.line = firstLine
		if cfg.markedLines {
			t.lines = markedLines(source, firstLine)
		}
	}

	m.mu.Lock()
	m.targets[name] = t
	m.mu.Unlock()
	return name, nil
}

// Enable resumes recording.
func (m *Monitor) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
}

// Disable pauses recording. Calls already begun still complete through
// OnReturn, so pairing stays intact across a pause.
func (m *Monitor) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

// Enabled reports whether the monitor is recording.
func (m *Monitor) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// SetBranchParent makes the next recorded call a branch of the given
// call instead of a subcall of the current stack top. The override is
// consumed by exactly one OnCall. Replay sets this immediately before
// re-invoking a target so the target's own instrumentation creates the
// branch call.
func (m *Monitor) SetBranchParent(id CallID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.branchParent = id
}

// OnCall implements Hook. The parent is the branch override when one is
// set, otherwise the top of the call stack.
func (m *Monitor) OnCall(function string, locals map[string]any) CallID {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return ""
	}
	t := m.targets[function]
	var invokedBy, branchedFrom CallID
	if m.branchParent != "" {
		branchedFrom = m.branchParent
		m.branchParent = ""
	} else if len(m.stack) > 0 {
		invokedBy = m.stack[len(m.stack)-1]
	}
	m.mu.Unlock()

	locals = t.filterVars(locals)
	globals := m.globalValues(t)
	meta := m.runHooks(t.startHooksOf(), function, locals)

	in := CallInput{
		Function:     function,
		Locals:       locals,
		Globals:      globals,
		InvokedBy:    invokedBy,
		BranchedFrom: branchedFrom,
		Metadata:     meta,
	}
	if t != nil {
		in.File = t.file
		in.Line = t.line
		in.CodeDefinitionID = t.codeID
	}

	id, err := m.repo.BeginCall(context.Background(), in)
	if err != nil {
		m.log.Warn("call capture failed", "function", function, "error", err)
		return ""
	}

	m.mu.Lock()
	m.stack = append(m.stack, id)
	m.frames[id] = function
	m.mu.Unlock()
	return id
}

// OnReturn implements Hook. It pops the call from the stack and records
// the completion; return-hook metadata merges into the call record.
func (m *Monitor) OnReturn(id CallID, value any) {
	if id == "" {
		return
	}

	m.mu.Lock()
	function := m.frames[id]
	delete(m.frames, id)
	// Search from the top so a missed exit deeper in the stack cannot
	// wedge pairing forever.
	for i := len(m.stack) - 1; i >= 0; i-- {
		if m.stack[i] == id {
			m.stack = append(m.stack[:i], m.stack[i+1:]...)
			break
		}
	}
	t := m.targets[function]
	m.mu.Unlock()

	meta := m.runHooks(t.returnHooksOf(), function, map[string]any{"return": value})
	if err := m.repo.EndCall(context.Background(), id, ReturnInput{Value: value, Metadata: meta}); err != nil {
		m.log.Warn("return capture failed", "call", id, "error", err)
	}
}

// OnLine implements Hook. Line events outside the target's line filter
// are dropped before any staging work.
func (m *Monitor) OnLine(id CallID, line int, locals, globals map[string]any) {
	if id == "" {
		return
	}

	m.mu.Lock()
	enabled := m.enabled
	function := m.frames[id]
	t := m.targets[function]
	m.mu.Unlock()

	if !enabled || !t.lineWanted(line) {
		return
	}

	merged := m.globalValues(t)
	for name, value := range t.filterVars(globals) {
		if merged == nil {
			merged = make(map[string]any)
		}
		merged[name] = value
	}

	if err := m.repo.RecordLine(context.Background(), id, line, t.filterVars(locals), merged); err != nil {
		m.log.Warn("line capture failed", "call", id, "line", line, "error", err)
	}
}

// startHooksOf and returnHooksOf tolerate a nil target.
func (t *target) startHooksOf() []MetadataFunc {
	if t == nil {
		return nil
	}
	return t.startHooks
}

func (t *target) returnHooksOf() []MetadataFunc {
	if t == nil {
		return nil
	}
	return t.returnHooks
}

// globalValues reads the target's globals providers, skipping ignored
// names and panicking providers.
func (m *Monitor) globalValues(t *target) map[string]any {
	if t == nil || len(t.globals) == 0 {
		return nil
	}
	out := make(map[string]any, len(t.globals))
	for name, get := range t.globals {
		if t.ignore[name] {
			continue
		}
		value, ok := m.readGlobal(name, get)
		if ok {
			out[name] = value
		}
	}
	return out
}

func (m *Monitor) readGlobal(name string, get func() any) (value any, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			m.log.Warn("globals provider panicked", "name", name, "panic", rec)
			ok = false
		}
	}()
	return get(), true
}

// runHooks evaluates metadata hooks in order, merging their entries.
func (m *Monitor) runHooks(hooks []MetadataFunc, function string, vars map[string]any) map[string]string {
	var merged map[string]string
	for _, hook := range hooks {
		for k, v := range m.runHook(hook, function, vars) {
			if merged == nil {
				merged = make(map[string]string)
			}
			merged[k] = v
		}
	}
	return merged
}

func (m *Monitor) runHook(hook MetadataFunc, function string, vars map[string]any) (entries map[string]string) {
	defer func() {
		if rec := recover(); rec != nil {
			m.log.Warn("metadata hook panicked", "function", function, "panic", rec)
			entries = nil
		}
	}()
	return hook(function, vars)
}

// splitFuncName splits a runtime function name into package path and
// bare name: "example.com/pkg.Add" becomes ("example.com/pkg", "Add").
func splitFuncName(full string) (module, name string) {
	slash := strings.LastIndex(full, "/")
	dot := strings.Index(full[slash+1:], ".")
	if dot < 0 {
		return "", full
	}
	dot += slash + 1
	return full[:dot], full[dot+1:]
}
