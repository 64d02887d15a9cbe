package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/retrace/internal/object"
)

// CreateSession writes a session row at recording start. Unlike calls and
// snapshots this happens synchronously, before anything references the
// session id.
func (s *Store) CreateSession(ctx context.Context, sess object.MonitoringSession) error {
	if err := sess.Validate(); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	callsJSON, err := marshalNameLists(sess.Calls)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	metaJSON, err := marshalStringMap(sess.Metadata)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO monitoring_sessions
		(id, name, description, start_time, end_time, entry_point_call_id,
		 calls, common_globals, common_locals, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, '{}', '{}', ?)
		ON CONFLICT(id) DO NOTHING
	`,
		sess.ID,
		sess.Name,
		sess.Description,
		timeText(sess.StartTime),
		nullableTime(sess.EndTime),
		nullableString(sess.EntryPointCallID),
		callsJSON,
		metaJSON,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// UpdateSession rewrites the mutable session fields, written once at
// EndSession with the final call lists and derived commons.
func (s *Store) UpdateSession(ctx context.Context, sess object.MonitoringSession) error {
	callsJSON, err := marshalNameLists(sess.Calls)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	commonGlobalsJSON, err := marshalNameLists(sess.CommonGlobals)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	commonLocalsJSON, err := marshalNameLists(sess.CommonLocals)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	metaJSON, err := marshalStringMap(sess.Metadata)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE monitoring_sessions
		SET end_time = ?, entry_point_call_id = ?, calls = ?,
		    common_globals = ?, common_locals = ?, metadata = ?
		WHERE id = ?
	`,
		nullableTime(sess.EndTime),
		nullableString(sess.EntryPointCallID),
		callsJSON,
		commonGlobalsJSON,
		commonLocalsJSON,
		metaJSON,
		sess.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// GetSession retrieves a single session by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) GetSession(ctx context.Context, id string) (object.MonitoringSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, start_time, end_time, entry_point_call_id,
		       calls, common_globals, common_locals, metadata
		FROM monitoring_sessions
		WHERE id = ?
	`, id)
	return scanSessionFrom(row)
}

// ListSessions returns every session, oldest first.
func (s *Store) ListSessions(ctx context.Context) ([]object.MonitoringSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, start_time, end_time, entry_point_call_id,
		       calls, common_globals, common_locals, metadata
		FROM monitoring_sessions
		ORDER BY start_time ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []object.MonitoringSession
	for rows.Next() {
		sess, err := scanSessionFrom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	// Return empty slice instead of nil
	if sessions == nil {
		sessions = []object.MonitoringSession{}
	}
	return sessions, nil
}

// SessionCallCounts returns the number of recorded calls per session id,
// counted from the call table rather than the end-of-session summary so
// active sessions are covered too.
func (s *Store) SessionCallCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, COUNT(*)
		FROM function_calls
		GROUP BY session_id
	`)
	if err != nil {
		return nil, fmt.Errorf("count session calls: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan session count: %w", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session counts: %w", err)
	}
	return counts, nil
}

func scanSessionFrom(sc rowScanner) (object.MonitoringSession, error) {
	var sess object.MonitoringSession
	var start string
	var end, entryPoint sql.NullString
	var callsJSON, commonGlobalsJSON, commonLocalsJSON, metaJSON string

	if err := sc.Scan(
		&sess.ID, &sess.Name, &sess.Description, &start, &end, &entryPoint,
		&callsJSON, &commonGlobalsJSON, &commonLocalsJSON, &metaJSON,
	); err != nil {
		return object.MonitoringSession{}, err
	}

	var err error
	if sess.StartTime, err = parseTimeText(start); err != nil {
		return object.MonitoringSession{}, fmt.Errorf("session %s: %w", sess.ID, err)
	}
	if sess.EndTime, err = timeFromNull(end); err != nil {
		return object.MonitoringSession{}, fmt.Errorf("session %s: %w", sess.ID, err)
	}
	if sess.Calls, err = unmarshalNameLists(callsJSON); err != nil {
		return object.MonitoringSession{}, fmt.Errorf("session %s: %w", sess.ID, err)
	}
	if sess.CommonGlobals, err = unmarshalNameLists(commonGlobalsJSON); err != nil {
		return object.MonitoringSession{}, fmt.Errorf("session %s: %w", sess.ID, err)
	}
	if sess.CommonLocals, err = unmarshalNameLists(commonLocalsJSON); err != nil {
		return object.MonitoringSession{}, fmt.Errorf("session %s: %w", sess.ID, err)
	}
	if sess.Metadata, err = unmarshalStringMap(metaJSON); err != nil {
		return object.MonitoringSession{}, fmt.Errorf("session %s: %w", sess.ID, err)
	}
	sess.EntryPointCallID = entryPoint.String
	return sess, nil
}
