package store

import (
	"context"
	"fmt"

	"github.com/roach88/retrace/internal/object"
)

// PutCodeDefinition stores a code definition, zstd-compressing the source
// text. Definitions are content-addressed, so identical source dedups via
// ON CONFLICT(id) DO NOTHING and later edits to the live source never
// touch stored rows.
func (s *Store) PutCodeDefinition(ctx context.Context, def object.CodeDefinition) error {
	if err := def.Validate(); err != nil {
		return fmt.Errorf("put code definition: %w", err)
	}

	compressed := s.zenc.EncodeAll([]byte(def.Source), nil)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO code_definitions (id, name, kind, module, source, first_line)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		string(def.ID),
		def.Name,
		string(def.Kind),
		def.Module,
		compressed,
		def.FirstLine,
	)
	if err != nil {
		return fmt.Errorf("put code definition: %w", err)
	}
	return nil
}

// GetCodeDefinition retrieves and decompresses a definition by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) GetCodeDefinition(ctx context.Context, id object.CodeID) (object.CodeDefinition, error) {
	var def object.CodeDefinition
	var idText, kind string
	var compressed []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, kind, module, source, first_line
		FROM code_definitions
		WHERE id = ?
	`, string(id)).Scan(&idText, &def.Name, &kind, &def.Module, &compressed, &def.FirstLine)
	if err != nil {
		return object.CodeDefinition{}, err
	}

	source, err := s.zdec.DecodeAll(compressed, nil)
	if err != nil {
		return object.CodeDefinition{}, fmt.Errorf("decompress code definition %s: %w", id, err)
	}

	def.ID = object.CodeID(idText)
	def.Kind = object.CodeKind(kind)
	def.Source = string(source)
	return def, nil
}

// HasCodeDefinition reports whether a definition exists, letting callers
// skip recompression for already-snapshotted source.
func (s *Store) HasCodeDefinition(ctx context.Context, id object.CodeID) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM code_definitions WHERE id = ?
	`, string(id)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check code definition: %w", err)
	}
	return count > 0, nil
}

// ListCodeDefinitions returns every stored definition, decompressed,
// ordered by id.
func (s *Store) ListCodeDefinitions(ctx context.Context) ([]object.CodeDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, module, source, first_line
		FROM code_definitions
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list code definitions: %w", err)
	}
	defer rows.Close()

	// Return empty slice instead of nil
	defs := []object.CodeDefinition{}
	for rows.Next() {
		var def object.CodeDefinition
		var idText, kind string
		var compressed []byte
		if err := rows.Scan(&idText, &def.Name, &kind, &def.Module, &compressed, &def.FirstLine); err != nil {
			return nil, fmt.Errorf("scan code definition: %w", err)
		}
		source, err := s.zdec.DecodeAll(compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress code definition %s: %w", idText, err)
		}
		def.ID = object.CodeID(idText)
		def.Kind = object.CodeKind(kind)
		def.Source = string(source)
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate code definitions: %w", err)
	}
	return defs, nil
}

