package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/retrace/internal/object"
)

// ExportTo copies the entire store verbatim to a new database file.
// Works from in-memory stores, which is the usual way a throwaway
// recording session gets promoted to durable storage. Fails if the
// target file already exists.
func (s *Store) ExportTo(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("export to %s: %w", path, err)
	}
	return nil
}

// ForEachObject streams every stored object to fn in key order. A non-nil
// error from fn stops the walk and is returned as-is.
func (s *Store) ForEachObject(ctx context.Context, fn func(object.StoredObject) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, kind, canonical, created_at
		FROM stored_objects
		ORDER BY key ASC
	`)
	if err != nil {
		return fmt.Errorf("list objects: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var obj object.StoredObject
		var key, kind, canonical, createdAt string
		if err := rows.Scan(&key, &kind, &canonical, &createdAt); err != nil {
			return fmt.Errorf("scan object: %w", err)
		}
		obj.Key = object.Key(key)
		obj.Kind = object.Kind(kind)
		obj.Canonical = []byte(canonical)
		obj.CreatedAt, err = parseTimeText(createdAt)
		if err != nil {
			return fmt.Errorf("object %s: %w", key, err)
		}
		if err := fn(obj); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate objects: %w", err)
	}
	return nil
}

// ImportObject inserts a foreign object row verbatim after verifying its
// key matches its canonical bytes. Rows already present are left alone.
func (s *Store) ImportObject(ctx context.Context, obj object.StoredObject) error {
	if err := obj.Verify(); err != nil {
		return fmt.Errorf("import object: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stored_objects (key, kind, canonical, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, string(obj.Key), string(obj.Kind), string(obj.Canonical), timeText(obj.CreatedAt))
	if err != nil {
		return fmt.Errorf("import object %s: %w", obj.Key, err)
	}
	return nil
}

// ListIdentities returns every identity chain head, ordered by handle.
func (s *Store) ListIdentities(ctx context.Context) ([]object.ObjectIdentity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, handle, first_key, latest_key
		FROM object_identities
		ORDER BY handle ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	// Return empty slice instead of nil
	idents := []object.ObjectIdentity{}
	for rows.Next() {
		var ident object.ObjectIdentity
		var first, latest string
		if err := rows.Scan(&ident.ID, &ident.Handle, &first, &latest); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		ident.FirstKey = object.Key(first)
		ident.LatestKey = object.Key(latest)
		idents = append(idents, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return idents, nil
}

// HandleHistory returns a handle's chain in version order. ok is false
// when the handle has no chain.
func (s *Store) HandleHistory(ctx context.Context, handle string) ([]object.Key, bool, error) {
	var identityID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM object_identities WHERE handle = ?
	`, handle).Scan(&identityID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("handle history %q: %w", handle, err)
	}

	keys, err := s.chainKeys(ctx, identityID)
	if err != nil {
		return nil, false, fmt.Errorf("handle history %q: %w", handle, err)
	}
	return keys, true, nil
}

// ImportChain recreates a handle's version chain from an export. Handles
// already present keep their local chain; the import is skipped rather
// than merged, since interleaving two version histories has no meaningful
// order.
func (s *Store) ImportChain(ctx context.Context, handle string, keys []object.Key) error {
	if len(keys) == 0 {
		return fmt.Errorf("import chain %q: empty chain", handle)
	}
	for _, k := range keys {
		if err := k.Validate(); err != nil {
			return fmt.Errorf("import chain %q: %w", handle, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("import chain %q: begin tx: %w", handle, err)
	}
	defer tx.Rollback() // No-op if committed

	var existing int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM object_identities WHERE handle = ?
	`, handle).Scan(&existing)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("import chain %q: %w", handle, err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO object_identities (handle, first_key, latest_key)
		VALUES (?, ?, ?)
	`, handle, string(keys[0]), string(keys[len(keys)-1]))
	if err != nil {
		return fmt.Errorf("import chain %q: %w", handle, err)
	}
	identityID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("import chain %q: %w", handle, err)
	}
	for i, k := range keys {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO object_versions (identity_id, version, key)
			VALUES (?, ?, ?)
		`, identityID, i+1, string(k)); err != nil {
			return fmt.Errorf("import chain %q version %d: %w", handle, i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("import chain %q: commit: %w", handle, err)
	}
	return nil
}
