package object

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ScalarType identifies the concrete type of a Primitive payload's value.
type ScalarType string

// Scalar type names as they appear in canonical payload encodings.
const (
	TypeNull   ScalarType = "null"
	TypeBool   ScalarType = "bool"
	TypeInt    ScalarType = "int"
	TypeFloat  ScalarType = "float"
	TypeString ScalarType = "string"
	TypeBytes  ScalarType = "bytes"
)

// ValidScalarTypes defines the allowed scalar type names.
var ValidScalarTypes = map[ScalarType]bool{
	TypeNull:   true,
	TypeBool:   true,
	TypeInt:    true,
	TypeFloat:  true,
	TypeString: true,
	TypeBytes:  true,
}

// Scalar is a sealed interface over primitive values.
// Only Null, Bool, Int, Float, String, and Bytes implement it.
type Scalar interface {
	scalar() // Sealed - only these types implement it
	Type() ScalarType
}

// Null represents the absence of a value.
// Using an explicit type keeps every Scalar non-nil inside the union.
type Null struct{}

func (Null) scalar()          {}
func (Null) Type() ScalarType { return TypeNull }

// Bool represents a boolean value.
type Bool bool

func (Bool) scalar()          {}
func (Bool) Type() ScalarType { return TypeBool }

// Int represents an integer value. Always int64; narrower widths are
// widened at decomposition time.
type Int int64

func (Int) scalar()          {}
func (Int) Type() ScalarType { return TypeInt }

// Float represents a floating-point value. Canonical encoding uses the
// shortest string that round-trips through strconv, so equal floats always
// produce equal canonical bytes.
type Float float64

func (Float) scalar()          {}
func (Float) Type() ScalarType { return TypeFloat }

// String represents a text value. NFC normalization happens at the
// canonical serialization boundary, not on construction.
type String string

func (String) scalar()          {}
func (String) Type() ScalarType { return TypeString }

// Bytes represents an opaque byte string. Canonical encoding is base64.
type Bytes []byte

func (Bytes) scalar()          {}
func (Bytes) Type() ScalarType { return TypeBytes }

// Repr returns the canonical text representation of a scalar, used as the
// key-representation in Mapping entries. The form is "type:value" so keys
// of different scalar types never collide. String values embed their
// canonical JSON encoding, which normalizes to NFC.
func Repr(s Scalar) (string, error) {
	switch v := s.(type) {
	case Null:
		return "null", nil
	case Bool:
		return "bool:" + strconv.FormatBool(bool(v)), nil
	case Int:
		return "int:" + strconv.FormatInt(int64(v), 10), nil
	case Float:
		return "float:" + FormatFloat(float64(v)), nil
	case String:
		b, err := marshalCanonicalString(string(v))
		if err != nil {
			return "", fmt.Errorf("string repr: %w", err)
		}
		return "string:" + string(b), nil
	case Bytes:
		return "bytes:" + base64.StdEncoding.EncodeToString(v), nil
	default:
		return "", fmt.Errorf("unknown scalar type %T", s)
	}
}

// ParseRepr is the inverse of Repr.
func ParseRepr(repr string) (Scalar, error) {
	if repr == "null" {
		return Null{}, nil
	}
	prefix, rest, ok := strings.Cut(repr, ":")
	if !ok {
		return nil, fmt.Errorf("malformed scalar repr %q", repr)
	}
	switch ScalarType(prefix) {
	case TypeBool:
		b, err := strconv.ParseBool(rest)
		if err != nil {
			return nil, fmt.Errorf("bool repr %q: %w", repr, err)
		}
		return Bool(b), nil
	case TypeInt:
		i, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("int repr %q: %w", repr, err)
		}
		return Int(i), nil
	case TypeFloat:
		f, err := ParseFloat(rest)
		if err != nil {
			return nil, fmt.Errorf("float repr %q: %w", repr, err)
		}
		return Float(f), nil
	case TypeString:
		var s string
		if err := json.Unmarshal([]byte(rest), &s); err != nil {
			return nil, fmt.Errorf("string repr %q: %w", repr, err)
		}
		return String(s), nil
	case TypeBytes:
		b, err := base64.StdEncoding.DecodeString(rest)
		if err != nil {
			return nil, fmt.Errorf("bytes repr %q: %w", repr, err)
		}
		return Bytes(b), nil
	default:
		return nil, fmt.Errorf("unknown scalar repr type %q", prefix)
	}
}

// FormatFloat renders a float in its canonical shortest-round-trip form.
// NaN and infinities format as "NaN", "+Inf", and "-Inf".
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// ParseFloat is the inverse of FormatFloat.
func ParseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse float %q: %w", s, err)
	}
	return f, nil
}
