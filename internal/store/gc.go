package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/retrace/internal/object"
)

// DeleteCall removes one call, its snapshots, and every stored object
// that only that call kept alive. Linear next pointers relink around the
// removed call and the session's call lists drop its id. Returns false
// when the id does not exist.
//
// Serialized with CollectGarbage; everything happens in one transaction.
func (s *Store) DeleteCall(ctx context.Context, id string) (bool, error) {
	s.gcMu.Lock()
	defer s.gcMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("delete call: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var sessionID string
	var localsJSON, globalsJSON string
	var returnKey, nextCallID sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT session_id, locals, globals, return_key, next_call_id
		FROM function_calls
		WHERE id = ?
	`, id).Scan(&sessionID, &localsJSON, &globalsJSON, &returnKey, &nextCallID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete call: load: %w", err)
	}

	// Keys the call and its snapshots pinned; expanded through children
	// so shared substructure is considered too.
	candidates := make(map[object.Key]bool)
	if err := addKeyColumns(candidates, localsJSON, globalsJSON, returnKey); err != nil {
		return false, fmt.Errorf("delete call: %w", err)
	}
	snapRows, err := tx.QueryContext(ctx, `
		SELECT locals, globals FROM stack_snapshots WHERE function_call_id = ?
	`, id)
	if err != nil {
		return false, fmt.Errorf("delete call: snapshots: %w", err)
	}
	if err := addKeyRows(candidates, snapRows); err != nil {
		return false, fmt.Errorf("delete call: %w", err)
	}
	candidates, err = s.expandReachable(ctx, tx, candidates)
	if err != nil {
		return false, fmt.Errorf("delete call: %w", err)
	}

	// Relink the linear order around the removed call.
	if _, err := tx.ExecContext(ctx, `
		UPDATE function_calls SET next_call_id = ? WHERE next_call_id = ?
	`, nullableString(nextCallID.String), id); err != nil {
		return false, fmt.Errorf("delete call: relink: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE monitoring_sessions SET entry_point_call_id = NULL
		WHERE entry_point_call_id = ?
	`, id); err != nil {
		return false, fmt.Errorf("delete call: clear entry point: %w", err)
	}
	if err := stripSessionCall(ctx, tx, sessionID, id); err != nil {
		return false, fmt.Errorf("delete call: %w", err)
	}

	// Snapshots cascade with the call row.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM function_calls WHERE id = ?
	`, id); err != nil {
		return false, fmt.Errorf("delete call: %w", err)
	}

	reachable, err := s.reachableFromRows(ctx, tx)
	if err != nil {
		return false, fmt.Errorf("delete call: %w", err)
	}

	dead := subtractKeys(candidates, reachable)
	if err := s.sweep(ctx, tx, dead); err != nil {
		return false, fmt.Errorf("delete call: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("delete call: commit: %w", err)
	}
	if len(dead) > 0 && s.cache != nil {
		s.cache.Purge()
	}
	return true, nil
}

// CollectGarbage removes every stored object unreachable from surviving
// rows, pruning orphaned version rows and identities in the same
// transaction. Returns the number of objects removed.
func (s *Store) CollectGarbage(ctx context.Context) (int, error) {
	s.gcMu.Lock()
	defer s.gcMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("collect garbage: begin tx: %w", err)
	}
	defer tx.Rollback()

	reachable, err := s.reachableFromRows(ctx, tx)
	if err != nil {
		return 0, fmt.Errorf("collect garbage: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT key FROM stored_objects ORDER BY key ASC`)
	if err != nil {
		return 0, fmt.Errorf("collect garbage: list objects: %w", err)
	}
	defer rows.Close()

	var dead []object.Key
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return 0, fmt.Errorf("collect garbage: scan key: %w", err)
		}
		if !reachable[object.Key(k)] {
			dead = append(dead, object.Key(k))
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("collect garbage: iterate keys: %w", err)
	}
	rows.Close()

	if err := s.sweep(ctx, tx, dead); err != nil {
		return 0, fmt.Errorf("collect garbage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("collect garbage: commit: %w", err)
	}
	if len(dead) > 0 && s.cache != nil {
		s.cache.Purge()
	}
	return len(dead), nil
}

// reachableFromRows computes the full reachable set: every key referenced
// by a surviving call or snapshot, expanded through payload children.
// Identity chains are bookkeeping, not roots; keys kept alive only by a
// chain are garbage and the chain relinks around them.
func (s *Store) reachableFromRows(ctx context.Context, tx *sql.Tx) (map[object.Key]bool, error) {
	roots := make(map[object.Key]bool)

	callRows, err := tx.QueryContext(ctx, `
		SELECT locals, globals, return_key FROM function_calls
	`)
	if err != nil {
		return nil, fmt.Errorf("collect call roots: %w", err)
	}
	if err := addCallKeyRows(roots, callRows); err != nil {
		return nil, err
	}

	snapRows, err := tx.QueryContext(ctx, `
		SELECT locals, globals FROM stack_snapshots
	`)
	if err != nil {
		return nil, fmt.Errorf("collect snapshot roots: %w", err)
	}
	if err := addKeyRows(roots, snapRows); err != nil {
		return nil, err
	}

	return s.expandReachable(ctx, tx, roots)
}

// expandReachable walks payload children breadth-first from the seed set.
// Seeds whose payloads are not yet flushed are kept but not expanded.
func (s *Store) expandReachable(ctx context.Context, tx *sql.Tx, seeds map[object.Key]bool) (map[object.Key]bool, error) {
	reachable := make(map[object.Key]bool, len(seeds))
	queue := make([]object.Key, 0, len(seeds))
	for k := range seeds {
		reachable[k] = true
		queue = append(queue, k)
	}

	for len(queue) > 0 {
		k := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		var canonical string
		err := tx.QueryRowContext(ctx, `
			SELECT canonical FROM stored_objects WHERE key = ?
		`, string(k)).Scan(&canonical)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", k, err)
		}

		p, err := object.UnmarshalPayload([]byte(canonical))
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", k, err)
		}
		for _, child := range object.Refs(p) {
			if !reachable[child] {
				reachable[child] = true
				queue = append(queue, child)
			}
		}
	}
	return reachable, nil
}

// sweep deletes the given objects plus their version rows, fixing up or
// removing the identities whose chains shrank.
func (s *Store) sweep(ctx context.Context, tx *sql.Tx, dead []object.Key) error {
	if len(dead) == 0 {
		return nil
	}

	affected := make(map[int64]bool)
	for _, k := range dead {
		rows, err := tx.QueryContext(ctx, `
			SELECT DISTINCT identity_id FROM object_versions WHERE key = ?
		`, string(k))
		if err != nil {
			return fmt.Errorf("sweep %s: %w", k, err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("sweep %s: %w", k, err)
			}
			affected[id] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("sweep %s: %w", k, err)
		}
		rows.Close()

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM object_versions WHERE key = ?
		`, string(k)); err != nil {
			return fmt.Errorf("sweep %s: versions: %w", k, err)
		}
	}

	for identityID := range affected {
		if err := fixupIdentity(ctx, tx, identityID); err != nil {
			return err
		}
	}

	for _, k := range dead {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM stored_objects WHERE key = ?
		`, string(k)); err != nil {
			return fmt.Errorf("sweep %s: object: %w", k, err)
		}
	}
	return nil
}

// fixupIdentity repoints first/latest at the surviving chain ends, or
// removes the identity when nothing survives. Version numbers of the
// survivors are kept, so chains may hold gaps after a sweep.
func fixupIdentity(ctx context.Context, tx *sql.Tx, identityID int64) error {
	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM object_versions WHERE identity_id = ?
	`, identityID).Scan(&count); err != nil {
		return fmt.Errorf("fixup identity %d: %w", identityID, err)
	}

	if count == 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM object_identities WHERE id = ?
		`, identityID); err != nil {
			return fmt.Errorf("fixup identity %d: %w", identityID, err)
		}
		return nil
	}

	var first, latest string
	if err := tx.QueryRowContext(ctx, `
		SELECT key FROM object_versions WHERE identity_id = ?
		ORDER BY version ASC LIMIT 1
	`, identityID).Scan(&first); err != nil {
		return fmt.Errorf("fixup identity %d: %w", identityID, err)
	}
	if err := tx.QueryRowContext(ctx, `
		SELECT key FROM object_versions WHERE identity_id = ?
		ORDER BY version DESC LIMIT 1
	`, identityID).Scan(&latest); err != nil {
		return fmt.Errorf("fixup identity %d: %w", identityID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE object_identities SET first_key = ?, latest_key = ? WHERE id = ?
	`, first, latest, identityID); err != nil {
		return fmt.Errorf("fixup identity %d: %w", identityID, err)
	}
	return nil
}

// stripSessionCall removes a call id from the session's per-function call
// lists.
func stripSessionCall(ctx context.Context, tx *sql.Tx, sessionID, callID string) error {
	var callsJSON string
	err := tx.QueryRowContext(ctx, `
		SELECT calls FROM monitoring_sessions WHERE id = ?
	`, sessionID).Scan(&callsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("strip session call: %w", err)
	}

	lists, err := unmarshalNameLists(callsJSON)
	if err != nil {
		return fmt.Errorf("strip session call: %w", err)
	}
	changed := false
	for fn, ids := range lists {
		kept := ids[:0]
		for _, cid := range ids {
			if cid == callID {
				changed = true
				continue
			}
			kept = append(kept, cid)
		}
		lists[fn] = kept
	}
	if !changed {
		return nil
	}

	updated, err := marshalNameLists(lists)
	if err != nil {
		return fmt.Errorf("strip session call: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE monitoring_sessions SET calls = ? WHERE id = ?
	`, updated, sessionID); err != nil {
		return fmt.Errorf("strip session call: %w", err)
	}
	return nil
}

// addCallKeyRows accumulates locals/globals/return keys from call rows.
func addCallKeyRows(dst map[object.Key]bool, rows *sql.Rows) error {
	defer rows.Close()
	for rows.Next() {
		var localsJSON, globalsJSON string
		var returnKey sql.NullString
		if err := rows.Scan(&localsJSON, &globalsJSON, &returnKey); err != nil {
			return fmt.Errorf("scan call keys: %w", err)
		}
		if err := addKeyColumns(dst, localsJSON, globalsJSON, returnKey); err != nil {
			return err
		}
	}
	return rows.Err()
}

// addKeyRows accumulates locals/globals keys from snapshot rows.
func addKeyRows(dst map[object.Key]bool, rows *sql.Rows) error {
	defer rows.Close()
	for rows.Next() {
		var localsJSON, globalsJSON string
		if err := rows.Scan(&localsJSON, &globalsJSON); err != nil {
			return fmt.Errorf("scan snapshot keys: %w", err)
		}
		if err := addKeyColumns(dst, localsJSON, globalsJSON, sql.NullString{}); err != nil {
			return err
		}
	}
	return rows.Err()
}

func addKeyColumns(dst map[object.Key]bool, localsJSON, globalsJSON string, returnKey sql.NullString) error {
	locals, err := unmarshalKeyMap(localsJSON)
	if err != nil {
		return err
	}
	for _, k := range locals {
		dst[k] = true
	}
	globals, err := unmarshalKeyMap(globalsJSON)
	if err != nil {
		return err
	}
	for _, k := range globals {
		dst[k] = true
	}
	if returnKey.Valid && returnKey.String != "" {
		dst[object.Key(returnKey.String)] = true
	}
	return nil
}

// subtractKeys returns candidates not present in keep, sorted for
// deterministic delete order.
func subtractKeys(candidates, keep map[object.Key]bool) []object.Key {
	var out []object.Key
	for k := range candidates {
		if !keep[k] {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
