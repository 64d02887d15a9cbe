package capture

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/retrace/internal/object"
)

// SessionInput carries the descriptive fields of a new session.
type SessionInput struct {
	Name        string
	Description string
	Metadata    map[string]string
}

// sessionState is the in-memory side of the active session: counters
// and call lists that become the persisted record at EndSession.
type sessionState struct {
	id        string
	name      string
	metadata  map[string]string
	firstCall string
	lastCall  string
	callCount int64

	calls       map[string][]string        // function -> call ids in begin order
	localNames  map[string]map[string]bool // function -> locals present in every call so far
	globalNames map[string]map[string]bool
}

func newSessionState(id, name string, metadata map[string]string) *sessionState {
	return &sessionState{
		id:          id,
		name:        name,
		metadata:    metadata,
		calls:       make(map[string][]string),
		localNames:  make(map[string]map[string]bool),
		globalNames: make(map[string]map[string]bool),
	}
}

// recordCall folds one call into the session: the id joins the
// function's list and the captured variable names narrow the function's
// common sets.
func (s *sessionState) recordCall(function, id string, locals, globals map[string]object.Key) {
	first := len(s.calls[function]) == 0
	s.calls[function] = append(s.calls[function], id)
	s.localNames[function] = intersectNames(s.localNames[function], locals, first)
	s.globalNames[function] = intersectNames(s.globalNames[function], globals, first)
}

// intersectNames narrows the running set to names also present in this
// call. The first call of a function seeds the set.
func intersectNames(current map[string]bool, vars map[string]object.Key, first bool) map[string]bool {
	if first {
		set := make(map[string]bool, len(vars))
		for name := range vars {
			set[name] = true
		}
		return set
	}
	for name := range current {
		if _, ok := vars[name]; !ok {
			delete(current, name)
		}
	}
	return current
}

// commonLists converts the running name sets into sorted lists, one per
// function that still has recorded calls.
func (s *sessionState) commonLists(names map[string]map[string]bool) map[string][]string {
	out := make(map[string][]string, len(s.calls))
	for function := range s.calls {
		set := names[function]
		list := make([]string, 0, len(set))
		for name := range set {
			list = append(list, name)
		}
		sort.Strings(list)
		out[function] = list
	}
	return out
}

// forget strips a deleted call id from the session's lists.
func (s *sessionState) forget(id string) {
	for function, ids := range s.calls {
		kept := ids[:0]
		for _, cid := range ids {
			if cid != id {
				kept = append(kept, cid)
			}
		}
		if len(kept) == 0 {
			delete(s.calls, function)
		} else {
			s.calls[function] = kept
		}
	}
	if s.firstCall == id {
		s.firstCall = ""
	}
}

// StartSession opens a recording session. The session row is written
// synchronously, before any call can reference its id. Starting while
// another session records is an error; end it first.
func (r *Repository) StartSession(ctx context.Context, in SessionInput) (string, error) {
	if in.Name == "" {
		return "", fmt.Errorf("start session: empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", NewClosedError()
	}
	if r.session != nil {
		return "", NewSessionActiveError(r.session.name)
	}

	sess := object.MonitoringSession{
		ID:          r.ids.Generate(),
		Name:        in.Name,
		Description: in.Description,
		StartTime:   r.now(),
		Calls:       map[string][]string{},
		Metadata:    in.Metadata,
	}
	if err := r.store.CreateSession(ctx, sess); err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}

	r.session = newSessionState(sess.ID, in.Name, in.Metadata)
	return sess.ID, nil
}

// EndSession closes the active session: the pipeline is flushed, then
// the session row receives its end time, entry point, per-function call
// lists and the common variable names derived across each function's
// calls. Open calls lose their in-memory pairing state; their
// completions still apply through the store existence check. Returns
// the ended session's id.
func (r *Repository) EndSession(ctx context.Context) (string, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", NewClosedError()
	}
	sess := r.session
	if sess == nil {
		r.mu.Unlock()
		return "", NewNoSessionError()
	}
	r.session = nil
	r.pending = make(map[CallID]*callState)
	r.mu.Unlock()

	if err := r.Flush(ctx); err != nil {
		return "", fmt.Errorf("end session %s: %w", sess.id, err)
	}

	upd := object.MonitoringSession{
		ID:               sess.id,
		EndTime:          r.now(),
		EntryPointCallID: sess.firstCall,
		Calls:            sess.calls,
		CommonLocals:     sess.commonLists(sess.localNames),
		CommonGlobals:    sess.commonLists(sess.globalNames),
		Metadata:         sess.metadata,
	}
	if err := r.store.UpdateSession(ctx, upd); err != nil {
		return "", fmt.Errorf("end session %s: %w", sess.id, err)
	}
	return sess.id, nil
}

// ActiveSession returns the id of the session currently recording, if
// any.
func (r *Repository) ActiveSession() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return "", false
	}
	return r.session.id, true
}
