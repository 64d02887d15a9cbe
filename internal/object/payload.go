package object

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind discriminates the payload union of a stored object.
type Kind string

// Payload kinds.
const (
	KindPrimitive Kind = "primitive"
	KindSequence  Kind = "sequence"
	KindMapping   Kind = "mapping"
	KindStruct    Kind = "struct"
)

// ValidKinds defines the allowed payload kinds.
var ValidKinds = map[Kind]bool{
	KindPrimitive: true,
	KindSequence:  true,
	KindMapping:   true,
	KindStruct:    true,
}

// Payload is a sealed interface over stored object payloads.
// Only Primitive, Sequence, Mapping, and Struct implement it.
//
// Composite payloads never embed child values directly. They hold the
// content keys of separately stored objects, so sharing and deduplication
// fall out of the encoding.
type Payload interface {
	payload() // Sealed - only these types implement it
	Kind() Kind
}

// Primitive carries a single scalar value.
type Primitive struct {
	Value Scalar
}

func (Primitive) payload()   {}
func (Primitive) Kind() Kind { return KindPrimitive }

// Sequence is an ordered list of references to stored objects.
type Sequence struct {
	Elements []Key
}

func (Sequence) payload()   {}
func (Sequence) Kind() Kind { return KindSequence }

// MapEntry pairs the canonical representation of a mapping key with the
// content key of the value stored under it.
type MapEntry struct {
	KeyRepr string
	Value   Key
}

// Mapping is a set of entries ordered by key representation.
type Mapping struct {
	Entries []MapEntry
}

func (Mapping) payload()   {}
func (Mapping) Kind() Kind { return KindMapping }

// Field is a named reference to a stored object inside a Struct payload.
type Field struct {
	Name  string
	Value Key
}

// Struct captures a typed object: its type name, the content hash of the
// code definition that produced it when one was captured, and its fields
// ordered by name.
type Struct struct {
	TypeName string
	Code     CodeID
	Fields   []Field
}

func (Struct) payload()   {}
func (Struct) Kind() Kind { return KindStruct }

// NewMapping returns a Mapping with entries sorted by key representation.
// Duplicate key representations are an error.
func NewMapping(entries []MapEntry) (Mapping, error) {
	sorted := make([]MapEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return compareUTF16(sorted[i].KeyRepr, sorted[j].KeyRepr) < 0
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].KeyRepr == sorted[i-1].KeyRepr {
			return Mapping{}, fmt.Errorf("mapping: duplicate key %s", sorted[i].KeyRepr)
		}
	}
	return Mapping{Entries: sorted}, nil
}

// NewStruct returns a Struct with fields sorted by name.
// Duplicate field names are an error.
func NewStruct(typeName string, code CodeID, fields []Field) (Struct, error) {
	if typeName == "" {
		return Struct{}, fmt.Errorf("struct: empty type name")
	}
	sorted := make([]Field, len(fields))
	copy(sorted, fields)
	sort.SliceStable(sorted, func(i, j int) bool {
		return compareUTF16(sorted[i].Name, sorted[j].Name) < 0
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Name == sorted[i-1].Name {
			return Struct{}, fmt.Errorf("struct %s: duplicate field %q", typeName, sorted[i].Name)
		}
	}
	return Struct{TypeName: typeName, Code: code, Fields: sorted}, nil
}

// Validate checks structural well-formedness of a payload: known kinds and
// scalar types, valid content keys, and sorted, duplicate-free entries and
// fields. Canonical serialization requires a valid payload.
func Validate(p Payload) error {
	switch v := p.(type) {
	case Primitive:
		if v.Value == nil {
			return fmt.Errorf("primitive: nil scalar")
		}
		if !ValidScalarTypes[v.Value.Type()] {
			return fmt.Errorf("primitive: invalid scalar type %q", v.Value.Type())
		}
	case Sequence:
		for i, k := range v.Elements {
			if err := k.Validate(); err != nil {
				return fmt.Errorf("sequence element %d: %w", i, err)
			}
		}
	case Mapping:
		for i, e := range v.Entries {
			if err := e.Value.Validate(); err != nil {
				return fmt.Errorf("mapping entry %s: %w", e.KeyRepr, err)
			}
			if i > 0 {
				switch compareUTF16(v.Entries[i-1].KeyRepr, e.KeyRepr) {
				case 0:
					return fmt.Errorf("mapping: duplicate key %s", e.KeyRepr)
				case 1:
					return fmt.Errorf("mapping: entries out of order at %s", e.KeyRepr)
				}
			}
		}
	case Struct:
		if v.TypeName == "" {
			return fmt.Errorf("struct: empty type name")
		}
		if v.Code != "" {
			if err := v.Code.Validate(); err != nil {
				return fmt.Errorf("struct %s: %w", v.TypeName, err)
			}
		}
		for i, f := range v.Fields {
			if f.Name == "" {
				return fmt.Errorf("struct %s: empty field name", v.TypeName)
			}
			if err := f.Value.Validate(); err != nil {
				return fmt.Errorf("struct %s field %q: %w", v.TypeName, f.Name, err)
			}
			if i > 0 {
				switch compareUTF16(v.Fields[i-1].Name, f.Name) {
				case 0:
					return fmt.Errorf("struct %s: duplicate field %q", v.TypeName, f.Name)
				case 1:
					return fmt.Errorf("struct %s: fields out of order at %q", v.TypeName, f.Name)
				}
			}
		}
	default:
		return fmt.Errorf("unknown payload type %T", p)
	}
	return nil
}

// Refs returns the content keys a payload references directly.
// Primitives reference nothing.
func Refs(p Payload) []Key {
	switch v := p.(type) {
	case Sequence:
		out := make([]Key, len(v.Elements))
		copy(out, v.Elements)
		return out
	case Mapping:
		out := make([]Key, 0, len(v.Entries))
		for _, e := range v.Entries {
			out = append(out, e.Value)
		}
		return out
	case Struct:
		out := make([]Key, 0, len(v.Fields))
		for _, f := range v.Fields {
			out = append(out, f.Value)
		}
		return out
	default:
		return nil
	}
}

// UnmarshalPayload decodes canonical payload bytes back into the union.
// Unknown kinds, unknown fields, and structurally invalid payloads are
// rejected, so every decoded payload re-serializes to the input bytes.
func UnmarshalPayload(data []byte) (Payload, error) {
	var probe struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}

	var p Payload
	switch probe.Kind {
	case KindPrimitive:
		var wire struct {
			Kind  Kind            `json:"kind"`
			Type  ScalarType      `json:"type"`
			Value json.RawMessage `json:"value"`
		}
		if err := strictUnmarshal(data, &wire); err != nil {
			return nil, fmt.Errorf("primitive payload: %w", err)
		}
		s, err := unmarshalScalar(wire.Type, wire.Value)
		if err != nil {
			return nil, fmt.Errorf("primitive payload: %w", err)
		}
		p = Primitive{Value: s}
	case KindSequence:
		var wire struct {
			Elements []Key `json:"elements"`
			Kind     Kind  `json:"kind"`
		}
		if err := strictUnmarshal(data, &wire); err != nil {
			return nil, fmt.Errorf("sequence payload: %w", err)
		}
		p = Sequence{Elements: wire.Elements}
	case KindMapping:
		var wire struct {
			Entries [][]json.RawMessage `json:"entries"`
			Kind    Kind                `json:"kind"`
		}
		if err := strictUnmarshal(data, &wire); err != nil {
			return nil, fmt.Errorf("mapping payload: %w", err)
		}
		entries := make([]MapEntry, 0, len(wire.Entries))
		for i, pair := range wire.Entries {
			repr, key, err := unmarshalPair(pair)
			if err != nil {
				return nil, fmt.Errorf("mapping entry %d: %w", i, err)
			}
			entries = append(entries, MapEntry{KeyRepr: repr, Value: Key(key)})
		}
		p = Mapping{Entries: entries}
	case KindStruct:
		var wire struct {
			Code   CodeID              `json:"code"`
			Fields [][]json.RawMessage `json:"fields"`
			Kind   Kind                `json:"kind"`
			Type   string              `json:"type"`
		}
		if err := strictUnmarshal(data, &wire); err != nil {
			return nil, fmt.Errorf("struct payload: %w", err)
		}
		fields := make([]Field, 0, len(wire.Fields))
		for i, pair := range wire.Fields {
			name, key, err := unmarshalPair(pair)
			if err != nil {
				return nil, fmt.Errorf("struct field %d: %w", i, err)
			}
			fields = append(fields, Field{Name: name, Value: Key(key)})
		}
		p = Struct{TypeName: wire.Type, Code: wire.Code, Fields: fields}
	default:
		return nil, fmt.Errorf("payload: unknown kind %q", probe.Kind)
	}

	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// unmarshalScalar decodes the type and value columns of a primitive wire
// payload. Integers decode from JSON numbers without a float round trip.
// Floats decode from their canonical string form.
func unmarshalScalar(t ScalarType, raw json.RawMessage) (Scalar, error) {
	switch t {
	case TypeNull:
		if raw != nil {
			return nil, fmt.Errorf("null scalar carries a value")
		}
		return Null{}, nil
	case TypeBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("bool scalar: %w", err)
		}
		return Bool(b), nil
	case TypeInt:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("int scalar: %w", err)
		}
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("int scalar: %w", err)
		}
		return Int(i), nil
	case TypeFloat:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("float scalar: %w", err)
		}
		f, err := ParseFloat(s)
		if err != nil {
			return nil, fmt.Errorf("float scalar: %w", err)
		}
		return Float(f), nil
	case TypeString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("string scalar: %w", err)
		}
		return String(s), nil
	case TypeBytes:
		var s []byte
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("bytes scalar: %w", err)
		}
		return Bytes(s), nil
	default:
		return nil, fmt.Errorf("unknown scalar type %q", t)
	}
}

// unmarshalPair decodes a two-element ["name","key"] wire pair.
func unmarshalPair(pair []json.RawMessage) (string, string, error) {
	if len(pair) != 2 {
		return "", "", fmt.Errorf("expected 2 elements, got %d", len(pair))
	}
	var name, key string
	if err := json.Unmarshal(pair[0], &name); err != nil {
		return "", "", fmt.Errorf("pair name: %w", err)
	}
	if err := json.Unmarshal(pair[1], &key); err != nil {
		return "", "", fmt.Errorf("pair value: %w", err)
	}
	return name, key, nil
}

// strictUnmarshal decodes JSON rejecting unknown fields and trailing data.
func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after payload")
	}
	return nil
}
