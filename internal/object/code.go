package object

import "fmt"

// CodeKind classifies what a code definition snapshots.
type CodeKind string

// Code definition kinds.
const (
	CodeFunction CodeKind = "function"
	CodeType     CodeKind = "type"
)

// ValidCodeKinds defines the allowed code definition kinds.
var ValidCodeKinds = map[CodeKind]bool{
	CodeFunction: true,
	CodeType:     true,
}

// CodeDefinition is an immutable snapshot of source text, captured the
// first time a function or type is recorded. The id is a content hash, so
// later edits to the source produce a new definition instead of mutating
// the one existing calls reference.
type CodeDefinition struct {
	ID        CodeID   `json:"id"` // Content hash
	Name      string   `json:"name"`
	Kind      CodeKind `json:"kind"`
	Module    string   `json:"module,omitempty"`
	Source    string   `json:"source"`
	FirstLine int      `json:"first_line"`
}

// NewCodeDefinition builds a definition and derives its content id.
func NewCodeDefinition(module, name string, kind CodeKind, source string, firstLine int) (CodeDefinition, error) {
	def := CodeDefinition{
		ID:        CodeDefinitionID(module, name, source),
		Name:      name,
		Kind:      kind,
		Module:    module,
		Source:    source,
		FirstLine: firstLine,
	}
	if err := def.Validate(); err != nil {
		return CodeDefinition{}, err
	}
	return def, nil
}

// Validate checks structural well-formedness.
func (d CodeDefinition) Validate() error {
	if err := d.ID.Validate(); err != nil {
		return err
	}
	if d.Name == "" {
		return fmt.Errorf("code definition %s: empty name", d.ID)
	}
	if !ValidCodeKinds[d.Kind] {
		return fmt.Errorf("code definition %s: invalid kind %q", d.ID, d.Kind)
	}
	if d.Source == "" {
		return fmt.Errorf("code definition %s: empty source", d.ID)
	}
	if d.FirstLine < 0 {
		return fmt.Errorf("code definition %s: negative first line", d.ID)
	}
	return nil
}
