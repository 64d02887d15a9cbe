package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"

	"github.com/roach88/retrace/internal/codec"
	"github.com/roach88/retrace/internal/object"
)

// PutOption configures a single Put.
type PutOption func(*putConfig)

type putConfig struct {
	handle string
}

// WithIdentity ties the stored value to a runtime identity handle and
// updates that handle's version chain: content equal to the chain's
// latest entry appends nothing, different content appends one version.
func WithIdentity(handle string) PutOption {
	return func(c *putConfig) { c.handle = handle }
}

// Put stores a live value as a graph of content-addressed payloads and
// returns the root key. The graph is decomposed first, then written
// bottom-up in one transaction; identical content anywhere in the graph
// shares rows (idempotent ON CONFLICT inserts). Unstorable values at any
// depth are replaced with the placeholder struct and logged, never
// failed.
func (s *Store) Put(ctx context.Context, value any, opts ...PutOption) (object.Key, error) {
	var cfg putConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	key, objs, err := s.Stage(value)
	if err != nil {
		return "", fmt.Errorf("put: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("put: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, obj := range objs {
		if err := insertStoredObject(ctx, tx, obj); err != nil {
			return "", fmt.Errorf("put: %w", err)
		}
	}

	if cfg.handle != "" {
		if err := appendVersion(ctx, tx, cfg.handle, key); err != nil {
			return "", fmt.Errorf("put %q: %w", cfg.handle, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("put: commit: %w", err)
	}
	return key, nil
}

// Stage decomposes a live value into its content-addressed rows without
// touching the database, returning the root key and every row the graph
// needs, children before parents. The capture path stages values on the
// hook thread so the stored state is the state at the moment of capture,
// even though the rows reach the database later through the background
// writer.
func (s *Store) Stage(value any) (object.Key, []object.StoredObject, error) {
	w := &walker{s: s, onPath: make(map[uintptr]bool), staged: make(map[object.Key]bool)}
	key, err := w.walk(value)
	if err != nil {
		return "", nil, err
	}
	return key, w.objs, nil
}

// PutObjects writes staged rows in one transaction. Keys that already
// exist keep their first row, so re-applying a batch that partially
// committed converges instead of duplicating.
func (s *Store) PutObjects(ctx context.Context, objs []object.StoredObject) error {
	if len(objs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put objects: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, obj := range objs {
		if err := insertStoredObject(ctx, tx, obj); err != nil {
			return fmt.Errorf("put objects: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put objects: commit: %w", err)
	}
	return nil
}

// Observe appends a content key to a handle's version chain outside a
// Put, with the same latest-only comparison as WithIdentity. The object
// row under key must already exist; callers write staged rows through
// PutObjects first.
func (s *Store) Observe(ctx context.Context, handle string, key object.Key) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("observe %q: begin tx: %w", handle, err)
	}
	defer tx.Rollback() // No-op if committed

	if err := appendVersion(ctx, tx, handle, key); err != nil {
		return fmt.Errorf("observe %q: %w", handle, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("observe %q: commit: %w", handle, err)
	}
	return nil
}

// walker decomposes one value graph into staged rows. onPath tracks
// container addresses on the current root-to-node path so cyclic values
// degrade to the unstorable placeholder instead of recursing forever;
// staged dedups rows within the graph.
type walker struct {
	s      *Store
	onPath map[uintptr]bool
	staged map[object.Key]bool
	objs   []object.StoredObject
}

func (w *walker) walk(value any) (object.Key, error) {
	if addr, tracked := containerAddr(value); tracked {
		if w.onPath[addr] {
			value = codec.Unstorable{
				TypeName: fmt.Sprintf("%T", value),
				Reason:   "cyclic reference",
			}
		} else {
			w.onPath[addr] = true
			defer delete(w.onPath, addr)
		}
	}

	form, err := w.s.codecs.Decompose(value)
	if err != nil {
		var uerr *codec.UnstorableError
		if !errors.As(err, &uerr) {
			return "", err
		}
		w.s.log.Warn("storing unstorable placeholder",
			"type", uerr.TypeName, "reason", uerr.Reason)
		form, err = w.s.codecs.Decompose(codec.PlaceholderFor(uerr))
		if err != nil {
			return "", err
		}
	}

	payload, err := w.payload(form)
	if err != nil {
		return "", err
	}
	return w.stage(payload)
}

// payload converts a one-level form into a payload by storing each live
// child and recording its key.
func (w *walker) payload(f codec.Form) (object.Payload, error) {
	switch v := f.(type) {
	case codec.FormPrimitive:
		return object.Primitive{Value: v.Scalar}, nil

	case codec.FormSequence:
		keys := make([]object.Key, len(v.Elements))
		for i, elem := range v.Elements {
			k, err := w.walk(elem)
			if err != nil {
				return nil, err
			}
			keys[i] = k
		}
		return object.Sequence{Elements: keys}, nil

	case codec.FormMapping:
		entries := make([]object.MapEntry, 0, len(v.Entries))
		for _, e := range v.Entries {
			repr, err := object.Repr(e.Key)
			if err != nil {
				return nil, err
			}
			k, err := w.walk(e.Value)
			if err != nil {
				return nil, err
			}
			entries = append(entries, object.MapEntry{KeyRepr: repr, Value: k})
		}
		m, err := object.NewMapping(entries)
		if err != nil {
			return nil, err
		}
		return m, nil

	case codec.FormStruct:
		fields := make([]object.Field, 0, len(v.Fields))
		for _, fd := range v.Fields {
			k, err := w.walk(fd.Value)
			if err != nil {
				return nil, err
			}
			fields = append(fields, object.Field{Name: fd.Name, Value: k})
		}
		st, err := object.NewStruct(v.TypeName, v.Code, fields)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown form %T", f)
}

// stage marshals a payload once, derives its key from the canonical
// bytes and collects the row unless the graph already holds it.
func (w *walker) stage(p object.Payload) (object.Key, error) {
	data, err := object.MarshalCanonical(p)
	if err != nil {
		return "", err
	}
	key := object.KeyForCanonical(data)
	if w.staged[key] {
		return key, nil
	}
	w.staged[key] = true
	w.objs = append(w.objs, object.StoredObject{
		Key:       key,
		Kind:      p.Kind(),
		Canonical: data,
		CreatedAt: w.s.now(),
	})
	return key, nil
}

// insertStoredObject writes one object row inside tx, keeping the first
// row when the key already exists.
func insertStoredObject(ctx context.Context, tx *sql.Tx, obj object.StoredObject) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stored_objects (key, kind, canonical, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, string(obj.Key), string(obj.Kind), string(obj.Canonical), timeText(obj.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert object %s: %w", obj.Key, err)
	}
	return nil
}

// containerAddr returns a stable address for values that can participate
// in reference cycles. Only pointers, maps and slices carry identity.
func containerAddr(value any) (uintptr, bool) {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return 0, false
		}
		return rv.Pointer(), true
	}
	return 0, false
}

// appendVersion updates the handle's chain inside the Put transaction.
// The comparison is against the latest entry only: returning to an
// earlier content appends a new version rather than folding into it.
func appendVersion(ctx context.Context, tx *sql.Tx, handle string, key object.Key) error {
	var identityID int64
	var latest string
	err := tx.QueryRowContext(ctx, `
		SELECT id, latest_key FROM object_identities WHERE handle = ?
	`, handle).Scan(&identityID, &latest)
	if errors.Is(err, sql.ErrNoRows) {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO object_identities (handle, first_key, latest_key)
			VALUES (?, ?, ?)
		`, handle, string(key), string(key))
		if err != nil {
			return fmt.Errorf("insert identity: %w", err)
		}
		identityID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("identity id: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO object_versions (identity_id, version, key)
			VALUES (?, 1, ?)
		`, identityID, string(key)); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup identity: %w", err)
	}

	if latest == string(key) {
		return nil
	}

	var next int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1 FROM object_versions WHERE identity_id = ?
	`, identityID).Scan(&next); err != nil {
		return fmt.Errorf("next version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO object_versions (identity_id, version, key)
		VALUES (?, ?, ?)
	`, identityID, next, string(key)); err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE object_identities SET latest_key = ? WHERE id = ?
	`, string(key), identityID); err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	return nil
}

// Get reads the value stored under key, rebuilding live children
// recursively through the codec registry. Returns (nil, nil) when the
// key is absent.
func (s *Store) Get(ctx context.Context, key object.Key) (any, error) {
	payload, err := s.GetPayload(ctx, key)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}
	return s.recompose(ctx, key, payload)
}

// GetPayload returns the decoded payload stored under key without
// recomposing children. Returns (nil, nil) when absent. Decoded payloads
// are served from the LRU cache when enabled.
func (s *Store) GetPayload(ctx context.Context, key object.Key) (object.Payload, error) {
	if s.cache != nil {
		if p, ok := s.cache.Get(key); ok {
			return p, nil
		}
	}

	var canonical string
	err := s.db.QueryRowContext(ctx, `
		SELECT canonical FROM stored_objects WHERE key = ?
	`, string(key)).Scan(&canonical)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}

	p, err := object.UnmarshalPayload([]byte(canonical))
	if err != nil {
		return nil, fmt.Errorf("decode object %s: %w", key, err)
	}
	if s.cache != nil {
		s.cache.Add(key, p)
	}
	return p, nil
}

// GetObject returns the raw stored row. ok is false when absent.
func (s *Store) GetObject(ctx context.Context, key object.Key) (object.StoredObject, bool, error) {
	var obj object.StoredObject
	var keyText, kind, canonical, createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT key, kind, canonical, created_at FROM stored_objects WHERE key = ?
	`, string(key)).Scan(&keyText, &kind, &canonical, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return object.StoredObject{}, false, nil
	}
	if err != nil {
		return object.StoredObject{}, false, fmt.Errorf("read object %s: %w", key, err)
	}

	obj.Key = object.Key(keyText)
	obj.Kind = object.Kind(kind)
	obj.Canonical = []byte(canonical)
	obj.CreatedAt, err = parseTimeText(createdAt)
	if err != nil {
		return object.StoredObject{}, false, fmt.Errorf("read object %s: %w", key, err)
	}
	return obj, true, nil
}

// Has reports whether a payload exists under key without decoding it.
func (s *Store) Has(ctx context.Context, key object.Key) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM stored_objects WHERE key = ?
	`, string(key)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check object %s: %w", key, err)
	}
	return count > 0, nil
}

func (s *Store) recompose(ctx context.Context, key object.Key, p object.Payload) (any, error) {
	var form codec.Form
	switch v := p.(type) {
	case object.Primitive:
		form = codec.FormPrimitive{Scalar: v.Value}

	case object.Sequence:
		elems := make([]any, len(v.Elements))
		for i, childKey := range v.Elements {
			child, err := s.getRequired(ctx, childKey)
			if err != nil {
				return nil, fmt.Errorf("object %s element %d: %w", key, i, err)
			}
			elems[i] = child
		}
		form = codec.FormSequence{Elements: elems}

	case object.Mapping:
		entries := make([]codec.FormMapEntry, 0, len(v.Entries))
		for _, e := range v.Entries {
			scalar, err := object.ParseRepr(e.KeyRepr)
			if err != nil {
				return nil, fmt.Errorf("object %s: %w", key, err)
			}
			child, err := s.getRequired(ctx, e.Value)
			if err != nil {
				return nil, fmt.Errorf("object %s entry %q: %w", key, e.KeyRepr, err)
			}
			entries = append(entries, codec.FormMapEntry{Key: scalar, Value: child})
		}
		form = codec.FormMapping{Entries: entries}

	case object.Struct:
		fields := make([]codec.FormField, 0, len(v.Fields))
		for _, f := range v.Fields {
			child, err := s.getRequired(ctx, f.Value)
			if err != nil {
				return nil, fmt.Errorf("object %s field %q: %w", key, f.Name, err)
			}
			fields = append(fields, codec.FormField{Name: f.Name, Value: child})
		}
		form = codec.FormStruct{TypeName: v.TypeName, Code: v.Code, Fields: fields}

	default:
		return nil, fmt.Errorf("object %s: unknown payload kind %T", key, p)
	}
	return s.codecs.Recompose(form)
}

// getRequired loads a child object that must exist; a missing child under
// a reachable parent means the store is corrupt.
func (s *Store) getRequired(ctx context.Context, key object.Key) (any, error) {
	payload, err := s.GetPayload(ctx, key)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, fmt.Errorf("missing child object %s", key)
	}
	return s.recompose(ctx, key, payload)
}

// History returns the version chain containing key, first to latest.
// A key stored without an identity (or never stored) yields an empty
// slice. When dedup places one key in several chains, the chain with the
// smallest identity rowid wins.
func (s *Store) History(ctx context.Context, key object.Key) ([]object.Key, error) {
	var identityID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT identity_id FROM object_versions
		WHERE key = ?
		ORDER BY identity_id ASC
		LIMIT 1
	`, string(key)).Scan(&identityID)
	if errors.Is(err, sql.ErrNoRows) {
		return []object.Key{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", key, err)
	}

	chain, err := s.chainKeys(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", key, err)
	}
	return chain, nil
}

// chainKeys returns one chain's keys in version order.
func (s *Store) chainKeys(ctx context.Context, identityID int64) ([]object.Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM object_versions
		WHERE identity_id = ?
		ORDER BY version ASC
	`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chain []object.Key
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		chain = append(chain, object.Key(k))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	if chain == nil {
		chain = []object.Key{}
	}
	return chain, nil
}

// Next returns the key of the version immediately after key in its
// chain. ok is false at the end of the chain or when key is in no chain.
// A key occurring several times in one chain resolves to its first
// occurrence.
func (s *Store) Next(ctx context.Context, key object.Key) (object.Key, bool, error) {
	var identityID, version int64
	err := s.db.QueryRowContext(ctx, `
		SELECT identity_id, version FROM object_versions
		WHERE key = ?
		ORDER BY identity_id ASC, version ASC
		LIMIT 1
	`, string(key)).Scan(&identityID, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("next %s: %w", key, err)
	}

	// Chains may hold version gaps after garbage collection, so take the
	// next surviving version rather than version+1 exactly.
	var next string
	err = s.db.QueryRowContext(ctx, `
		SELECT key FROM object_versions
		WHERE identity_id = ? AND version > ?
		ORDER BY version ASC
		LIMIT 1
	`, identityID, version).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("next %s: %w", key, err)
	}
	return object.Key(next), true, nil
}

// Identity returns the chain row for a handle. ok is false when the
// handle was never stored with WithIdentity.
func (s *Store) Identity(ctx context.Context, handle string) (object.ObjectIdentity, bool, error) {
	var ident object.ObjectIdentity
	var first, latest string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, handle, first_key, latest_key FROM object_identities WHERE handle = ?
	`, handle).Scan(&ident.ID, &ident.Handle, &first, &latest)
	if errors.Is(err, sql.ErrNoRows) {
		return object.ObjectIdentity{}, false, nil
	}
	if err != nil {
		return object.ObjectIdentity{}, false, fmt.Errorf("identity %q: %w", handle, err)
	}
	ident.FirstKey = object.Key(first)
	ident.LatestKey = object.Key(latest)
	return ident, true, nil
}
