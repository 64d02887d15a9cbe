package codec

import "github.com/roach88/retrace/internal/object"

// Form is a one-level decomposition of a live value. Composite forms hold
// live children (any), not stored keys; the store recurses through them.
// Only FormPrimitive, FormSequence, FormMapping, and FormStruct implement
// it.
type Form interface {
	form() // Sealed - only these types implement it
	Kind() object.Kind
}

// FormPrimitive is a scalar leaf.
type FormPrimitive struct {
	Scalar object.Scalar
}

func (FormPrimitive) form()             {}
func (FormPrimitive) Kind() object.Kind { return object.KindPrimitive }

// FormSequence is an ordered collection with live elements.
type FormSequence struct {
	Elements []any
}

func (FormSequence) form()             {}
func (FormSequence) Kind() object.Kind { return object.KindSequence }

// FormMapEntry pairs a scalar map key with its live value.
type FormMapEntry struct {
	Key   object.Scalar
	Value any
}

// FormMapping is a keyed collection with live values. Entry order carries
// no meaning; serialization orders by key representation.
type FormMapping struct {
	Entries []FormMapEntry
}

func (FormMapping) form()             {}
func (FormMapping) Kind() object.Kind { return object.KindMapping }

// FormField pairs a field name with its live value.
type FormField struct {
	Name  string
	Value any
}

// FormStruct is a typed object with live field values. Code optionally
// links the definition snapshot of the type's source.
type FormStruct struct {
	TypeName string
	Code     object.CodeID
	Fields   []FormField
}

func (FormStruct) form()             {}
func (FormStruct) Kind() object.Kind { return object.KindStruct }

// GenericStruct is what a stored struct recomposes to when its type was
// never registered: the type name plus a plain field map. Decomposing a
// GenericStruct reproduces the original payload, so unregistered values
// survive a read-modify-write cycle with their keys intact.
type GenericStruct struct {
	TypeName string
	Fields   map[string]any
}

// Unstorable is the placeholder recorded in place of a value that could
// not be captured. It decomposes to a struct payload, so traces keep the
// variable's slot plus the reason it is missing.
type Unstorable struct {
	TypeName string
	Reason   string
}

// UnstorableTypeName is the payload type name marking placeholder structs.
const UnstorableTypeName = "retrace.Unstorable"
