package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/retrace/internal/object"
)

const callColumns = `id, session_id, function, file, line, start_time, end_time,
	locals, globals, return_key, exception, stack_trace,
	invoked_by, branched_from, next_call_id,
	order_in_session, order_in_parent,
	code_definition_id, first_snapshot_id, metadata`

// InsertCall writes a call row created at function entry.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - the background writer
// may retry a batch that partially committed.
func (s *Store) InsertCall(ctx context.Context, call object.FunctionCall) error {
	if err := call.Validate(); err != nil {
		return fmt.Errorf("insert call: %w", err)
	}

	localsJSON, err := marshalKeyMap(call.Locals)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	globalsJSON, err := marshalKeyMap(call.Globals)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	metaJSON, err := marshalStringMap(call.Metadata)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO function_calls
		(id, session_id, function, file, line, start_time, end_time,
		 locals, globals, return_key, exception, stack_trace,
		 invoked_by, branched_from, next_call_id,
		 order_in_session, order_in_parent,
		 code_definition_id, first_snapshot_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		call.ID,
		call.SessionID,
		call.Function,
		call.File,
		call.Line,
		timeText(call.StartTime),
		nullableTime(call.EndTime),
		localsJSON,
		globalsJSON,
		nullableString(string(call.ReturnValue)),
		nullableString(call.Exception),
		nullableString(call.StackTrace),
		nullableString(call.InvokedBy),
		nullableString(call.BranchedFrom),
		nullableString(call.NextCallID),
		call.OrderInSession,
		call.OrderInParent,
		nullableString(string(call.CodeDefinitionID)),
		nullableString(call.FirstSnapshotID),
		metaJSON,
	)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

// CompleteCall writes the completion fields (end time, return key,
// exception, stack trace) of a pending call row. Returns false when the
// id does not exist or the call was already completed; completion
// happens exactly once per call.
func (s *Store) CompleteCall(ctx context.Context, call object.FunctionCall) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE function_calls
		SET end_time = ?, return_key = ?, exception = ?, stack_trace = ?
		WHERE id = ? AND end_time IS NULL
	`,
		nullableTime(call.EndTime),
		nullableString(string(call.ReturnValue)),
		nullableString(call.Exception),
		nullableString(call.StackTrace),
		call.ID,
	)
	if err != nil {
		return false, fmt.Errorf("complete call: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete call: rows affected: %w", err)
	}
	return n > 0, nil
}

// MergeCallMetadata folds entries into a call's metadata map. Existing
// keys the update does not mention survive; mentioned keys take the new
// value. Return-time annotations arrive this way because the completion
// update leaves metadata alone. Unknown ids are ignored.
func (s *Store) MergeCallMetadata(ctx context.Context, id string, metadata map[string]string) error {
	if len(metadata) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("merge metadata: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var existingJSON string
	err = tx.QueryRowContext(ctx, `
		SELECT metadata FROM function_calls WHERE id = ?
	`, id).Scan(&existingJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("merge metadata %s: %w", id, err)
	}

	merged, err := unmarshalStringMap(existingJSON)
	if err != nil {
		return fmt.Errorf("merge metadata %s: %w", id, err)
	}
	if merged == nil {
		merged = make(map[string]string, len(metadata))
	}
	for k, v := range metadata {
		merged[k] = v
	}
	mergedJSON, err := marshalStringMap(merged)
	if err != nil {
		return fmt.Errorf("merge metadata %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE function_calls SET metadata = ? WHERE id = ?
	`, mergedJSON, id); err != nil {
		return fmt.Errorf("merge metadata %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("merge metadata %s: commit: %w", id, err)
	}
	return nil
}

// LinkNextCall records the linear successor of a call within its
// session/branch.
func (s *Store) LinkNextCall(ctx context.Context, fromID, toID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE function_calls SET next_call_id = ? WHERE id = ?
	`, toID, fromID)
	if err != nil {
		return fmt.Errorf("link next call: %w", err)
	}
	return nil
}

// SetFirstSnapshot records the head of a call's snapshot chain. Only the
// first write takes effect.
func (s *Store) SetFirstSnapshot(ctx context.Context, callID, snapshotID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE function_calls SET first_snapshot_id = ?
		WHERE id = ? AND first_snapshot_id IS NULL
	`, snapshotID, callID)
	if err != nil {
		return fmt.Errorf("set first snapshot: %w", err)
	}
	return nil
}

// GetCall retrieves a single call by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) GetCall(ctx context.Context, id string) (object.FunctionCall, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+callColumns+`
		FROM function_calls
		WHERE id = ?
	`, id)
	return scanCallRow(row)
}

// HasCall reports whether a call row exists without decoding it.
func (s *Store) HasCall(ctx context.Context, id string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM function_calls WHERE id = ?
	`, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check call: %w", err)
	}
	return count > 0, nil
}

// ListCalls returns every recorded call across all sessions,
// chronologically.
func (s *Store) ListCalls(ctx context.Context) ([]object.FunctionCall, error) {
	return s.queryCalls(ctx, `
		SELECT `+callColumns+`
		FROM function_calls
		ORDER BY start_time ASC, id ASC
	`)
}

// CallsBySession returns every call of a session in recording order.
func (s *Store) CallsBySession(ctx context.Context, sessionID string) ([]object.FunctionCall, error) {
	return s.queryCalls(ctx, `
		SELECT `+callColumns+`
		FROM function_calls
		WHERE session_id = ?
		ORDER BY order_in_session ASC, id ASC
	`, sessionID)
}

// CallsByFunction returns every recorded call of a function,
// chronologically.
func (s *Store) CallsByFunction(ctx context.Context, function string) ([]object.FunctionCall, error) {
	return s.queryCalls(ctx, `
		SELECT `+callColumns+`
		FROM function_calls
		WHERE function = ?
		ORDER BY start_time ASC, id ASC
	`, function)
}

// FilterCalls returns the calls matching a parameterized WHERE fragment,
// chronologically, capped at limit rows when limit is positive. Callers
// build the fragment with ? placeholders only; values are never
// interpolated.
func (s *Store) FilterCalls(ctx context.Context, where string, args []any, limit int) ([]object.FunctionCall, error) {
	query := `
		SELECT ` + callColumns + `
		FROM function_calls
	`
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY start_time ASC, id ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryCalls(ctx, query, args...)
}

// SubcallsOf returns the calls invoked directly by a call, in invocation
// order.
func (s *Store) SubcallsOf(ctx context.Context, callID string) ([]object.FunctionCall, error) {
	return s.queryCalls(ctx, `
		SELECT `+callColumns+`
		FROM function_calls
		WHERE invoked_by = ?
		ORDER BY order_in_parent ASC, id ASC
	`, callID)
}

// BranchesOf returns the replay branch roots created from a call.
func (s *Store) BranchesOf(ctx context.Context, callID string) ([]object.FunctionCall, error) {
	return s.queryCalls(ctx, `
		SELECT `+callColumns+`
		FROM function_calls
		WHERE branched_from = ?
		ORDER BY start_time ASC, id ASC
	`, callID)
}

func (s *Store) queryCalls(ctx context.Context, query string, args ...any) ([]object.FunctionCall, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	var calls []object.FunctionCall
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calls: %w", err)
	}

	// Return empty slice instead of nil
	if calls == nil {
		calls = []object.FunctionCall{}
	}
	return calls, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCallFrom(sc rowScanner) (object.FunctionCall, error) {
	var call object.FunctionCall
	var start string
	var end, returnKey, exception, stackTrace sql.NullString
	var invokedBy, branchedFrom, nextCallID sql.NullString
	var codeDefID, firstSnapshotID sql.NullString
	var localsJSON, globalsJSON, metaJSON string

	if err := sc.Scan(
		&call.ID, &call.SessionID, &call.Function, &call.File, &call.Line,
		&start, &end,
		&localsJSON, &globalsJSON, &returnKey, &exception, &stackTrace,
		&invokedBy, &branchedFrom, &nextCallID,
		&call.OrderInSession, &call.OrderInParent,
		&codeDefID, &firstSnapshotID, &metaJSON,
	); err != nil {
		return object.FunctionCall{}, err
	}

	var err error
	if call.StartTime, err = parseTimeText(start); err != nil {
		return object.FunctionCall{}, fmt.Errorf("call %s: %w", call.ID, err)
	}
	if call.EndTime, err = timeFromNull(end); err != nil {
		return object.FunctionCall{}, fmt.Errorf("call %s: %w", call.ID, err)
	}
	if call.Locals, err = unmarshalKeyMap(localsJSON); err != nil {
		return object.FunctionCall{}, fmt.Errorf("call %s: %w", call.ID, err)
	}
	if call.Globals, err = unmarshalKeyMap(globalsJSON); err != nil {
		return object.FunctionCall{}, fmt.Errorf("call %s: %w", call.ID, err)
	}
	if call.Metadata, err = unmarshalStringMap(metaJSON); err != nil {
		return object.FunctionCall{}, fmt.Errorf("call %s: %w", call.ID, err)
	}

	call.ReturnValue = object.Key(returnKey.String)
	call.Exception = exception.String
	call.StackTrace = stackTrace.String
	call.InvokedBy = invokedBy.String
	call.BranchedFrom = branchedFrom.String
	call.NextCallID = nextCallID.String
	call.CodeDefinitionID = object.CodeID(codeDefID.String)
	call.FirstSnapshotID = firstSnapshotID.String
	return call, nil
}

// scanCall scans a row into a FunctionCall struct.
func scanCall(rows *sql.Rows) (object.FunctionCall, error) {
	call, err := scanCallFrom(rows)
	if err != nil {
		return object.FunctionCall{}, fmt.Errorf("scan call: %w", err)
	}
	return call, nil
}

// scanCallRow scans a single row into a FunctionCall struct.
func scanCallRow(row *sql.Row) (object.FunctionCall, error) {
	return scanCallFrom(row)
}
