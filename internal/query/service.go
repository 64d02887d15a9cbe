package query

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/retrace/internal/object"
	"github.com/roach88/retrace/internal/store"
)

// Service answers read-side questions against a store, rehydrating
// content keys into live values where a caller wants them.
type Service struct {
	st *store.Store
}

// New wraps a store.
func New(st *store.Store) *Service {
	return &Service{st: st}
}

// SessionSummary is the list view of one recording session.
type SessionSummary struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time,omitzero"`
	Active    bool              `json:"active"`
	CallCount int               `json:"call_count"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// CallSummary is the list view of one recorded call.
type CallSummary struct {
	ID             string             `json:"id"`
	SessionID      string             `json:"session_id"`
	Function       string             `json:"function"`
	File           string             `json:"file,omitempty"`
	Line           int                `json:"line,omitempty"`
	StartTime      time.Time          `json:"start_time"`
	EndTime        time.Time          `json:"end_time,omitzero"`
	Outcome        object.CallOutcome `json:"outcome"`
	OrderInSession int64              `json:"order_in_session"`
	InvokedBy      string             `json:"invoked_by,omitempty"`
	BranchedFrom   string             `json:"branched_from,omitempty"`
}

// CallDetail is the full view of one call with its variable values
// rehydrated from the object store.
type CallDetail struct {
	CallSummary

	Locals      map[string]any    `json:"locals,omitempty"`
	Globals     map[string]any    `json:"globals,omitempty"`
	ReturnValue any               `json:"return_value,omitempty"`
	Exception   string            `json:"exception,omitempty"`
	StackTrace  string            `json:"stack_trace,omitempty"`
	NextCallID  string            `json:"next_call_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	Subcalls []CallSummary `json:"subcalls,omitempty"`
	Branches []CallSummary `json:"branches,omitempty"`
}

// ObjectVersion is one rehydrated link of an identity's version chain.
type ObjectVersion struct {
	Key   object.Key `json:"key"`
	Value any        `json:"value"`
}

// SnapshotView is one rehydrated stack snapshot.
type SnapshotView struct {
	ID        string         `json:"id"`
	Line      int            `json:"line"`
	Position  int64          `json:"position"`
	Timestamp time.Time      `json:"timestamp"`
	Locals    map[string]any `json:"locals,omitempty"`
	Globals   map[string]any `json:"globals,omitempty"`
}

// ListSessions returns every recording session, chronologically.
func (s *Service) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	sessions, err := s.st.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := s.st.SessionCallCounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, summarizeSession(sess, counts[sess.ID]))
	}
	return out, nil
}

// Session returns one session by id.
func (s *Service) Session(ctx context.Context, id string) (SessionSummary, error) {
	sess, err := s.st.GetSession(ctx, id)
	if err != nil {
		return SessionSummary{}, err
	}
	calls, err := s.st.CallsBySession(ctx, id)
	if err != nil {
		return SessionSummary{}, err
	}
	return summarizeSession(sess, len(calls)), nil
}

// ListCalls returns the calls matching a filter, chronologically.
func (s *Service) ListCalls(ctx context.Context, f Filter) ([]CallSummary, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	where, args := f.Compile()
	calls, err := s.st.FilterCalls(ctx, where, args, f.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]CallSummary, 0, len(calls))
	for _, call := range calls {
		out = append(out, summarizeCall(call))
	}
	return out, nil
}

// CallDetail returns one call with locals, globals, and return value
// rehydrated, plus its direct subcalls and replay branches.
func (s *Service) CallDetail(ctx context.Context, id string) (CallDetail, error) {
	call, err := s.st.GetCall(ctx, id)
	if err != nil {
		return CallDetail{}, err
	}

	detail := CallDetail{
		CallSummary: summarizeCall(call),
		Exception:   call.Exception,
		StackTrace:  call.StackTrace,
		NextCallID:  call.NextCallID,
		Metadata:    call.Metadata,
	}

	if detail.Locals, err = s.rehydrate(ctx, call.Locals); err != nil {
		return CallDetail{}, fmt.Errorf("call %s locals: %w", id, err)
	}
	if detail.Globals, err = s.rehydrate(ctx, call.Globals); err != nil {
		return CallDetail{}, fmt.Errorf("call %s globals: %w", id, err)
	}
	if call.ReturnValue != "" {
		if detail.ReturnValue, err = s.st.Get(ctx, call.ReturnValue); err != nil {
			return CallDetail{}, fmt.Errorf("call %s return value: %w", id, err)
		}
	}

	subcalls, err := s.st.SubcallsOf(ctx, id)
	if err != nil {
		return CallDetail{}, err
	}
	for _, sub := range subcalls {
		detail.Subcalls = append(detail.Subcalls, summarizeCall(sub))
	}

	branches, err := s.st.BranchesOf(ctx, id)
	if err != nil {
		return CallDetail{}, err
	}
	for _, branch := range branches {
		detail.Branches = append(detail.Branches, summarizeCall(branch))
	}

	return detail, nil
}

// ObjectHistory returns the rehydrated version chain containing a key,
// oldest first.
func (s *Service) ObjectHistory(ctx context.Context, key object.Key) ([]ObjectVersion, error) {
	keys, err := s.st.History(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make([]ObjectVersion, 0, len(keys))
	for _, k := range keys {
		value, err := s.st.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("history %s: %w", k, err)
		}
		out = append(out, ObjectVersion{Key: k, Value: value})
	}
	return out, nil
}

// SnapshotChain returns a call's line snapshots in chain order with
// their variable values rehydrated.
func (s *Service) SnapshotChain(ctx context.Context, callID string) ([]SnapshotView, error) {
	snaps, err := s.st.SnapshotsForCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	out := make([]SnapshotView, 0, len(snaps))
	for _, snap := range snaps {
		view := SnapshotView{
			ID:        snap.ID,
			Line:      snap.Line,
			Position:  snap.Position,
			Timestamp: snap.Timestamp,
		}
		if view.Locals, err = s.rehydrate(ctx, snap.Locals); err != nil {
			return nil, fmt.Errorf("snapshot %s locals: %w", snap.ID, err)
		}
		if view.Globals, err = s.rehydrate(ctx, snap.Globals); err != nil {
			return nil, fmt.Errorf("snapshot %s globals: %w", snap.ID, err)
		}
		out = append(out, view)
	}
	return out, nil
}

func (s *Service) rehydrate(ctx context.Context, keys map[string]object.Key) (map[string]any, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(keys))
	for name, key := range keys {
		value, err := s.st.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out[name] = value
	}
	return out, nil
}

func summarizeSession(sess object.MonitoringSession, callCount int) SessionSummary {
	return SessionSummary{
		ID:        sess.ID,
		Name:      sess.Name,
		StartTime: sess.StartTime,
		EndTime:   sess.EndTime,
		Active:    sess.Active(),
		CallCount: callCount,
		Metadata:  sess.Metadata,
	}
}

func summarizeCall(call object.FunctionCall) CallSummary {
	return CallSummary{
		ID:             call.ID,
		SessionID:      call.SessionID,
		Function:       call.Function,
		File:           call.File,
		Line:           call.Line,
		StartTime:      call.StartTime,
		EndTime:        call.EndTime,
		Outcome:        call.Outcome(),
		OrderInSession: call.OrderInSession,
		InvokedBy:      call.InvokedBy,
		BranchedFrom:   call.BranchedFrom,
	}
}
