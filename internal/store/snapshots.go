package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/retrace/internal/object"
)

// InsertSnapshot writes one line-level frame snapshot.
// Uses ON CONFLICT(id) DO NOTHING for idempotency.
func (s *Store) InsertSnapshot(ctx context.Context, snap object.StackSnapshot) error {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	localsJSON, err := marshalKeyMap(snap.Locals)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	globalsJSON, err := marshalKeyMap(snap.Globals)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stack_snapshots
		(id, function_call_id, line, locals, globals, timestamp, position,
		 prev_snapshot_id, next_snapshot_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		snap.ID,
		snap.CallID,
		snap.Line,
		localsJSON,
		globalsJSON,
		timeText(snap.Timestamp),
		snap.Position,
		nullableString(snap.PrevID),
		nullableString(snap.NextID),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// LinkNextSnapshot points a snapshot at its successor, completing the
// doubly linked chain once the successor exists.
func (s *Store) LinkNextSnapshot(ctx context.Context, fromID, toID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE stack_snapshots SET next_snapshot_id = ? WHERE id = ?
	`, toID, fromID)
	if err != nil {
		return fmt.Errorf("link next snapshot: %w", err)
	}
	return nil
}

// GetSnapshot retrieves a single snapshot by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) GetSnapshot(ctx context.Context, id string) (object.StackSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, function_call_id, line, locals, globals, timestamp, position,
		       prev_snapshot_id, next_snapshot_id
		FROM stack_snapshots
		WHERE id = ?
	`, id)
	snap, err := scanSnapshotFrom(row)
	if err != nil {
		return object.StackSnapshot{}, err
	}
	return snap, nil
}

// SnapshotsForCall returns a call's snapshots in execution order.
func (s *Store) SnapshotsForCall(ctx context.Context, callID string) ([]object.StackSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, function_call_id, line, locals, globals, timestamp, position,
		       prev_snapshot_id, next_snapshot_id
		FROM stack_snapshots
		WHERE function_call_id = ?
		ORDER BY position ASC, id ASC
	`, callID)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []object.StackSnapshot
	for rows.Next() {
		snap, err := scanSnapshotFrom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}

	// Return empty slice instead of nil
	if snaps == nil {
		snaps = []object.StackSnapshot{}
	}
	return snaps, nil
}

func scanSnapshotFrom(sc rowScanner) (object.StackSnapshot, error) {
	var snap object.StackSnapshot
	var ts string
	var prev, next sql.NullString
	var localsJSON, globalsJSON string

	if err := sc.Scan(
		&snap.ID, &snap.CallID, &snap.Line, &localsJSON, &globalsJSON,
		&ts, &snap.Position, &prev, &next,
	); err != nil {
		return object.StackSnapshot{}, err
	}

	var err error
	if snap.Timestamp, err = parseTimeText(ts); err != nil {
		return object.StackSnapshot{}, fmt.Errorf("snapshot %s: %w", snap.ID, err)
	}
	if snap.Locals, err = unmarshalKeyMap(localsJSON); err != nil {
		return object.StackSnapshot{}, fmt.Errorf("snapshot %s: %w", snap.ID, err)
	}
	if snap.Globals, err = unmarshalKeyMap(globalsJSON); err != nil {
		return object.StackSnapshot{}, fmt.Errorf("snapshot %s: %w", snap.ID, err)
	}
	snap.PrevID = prev.String
	snap.NextID = next.String
	return snap, nil
}
