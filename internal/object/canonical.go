package object

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical serializes a payload to its canonical JSON form: object
// members in UTF-16 code unit order, NFC-normalized strings, no HTML
// escaping, no insignificant whitespace. Equal payloads always produce
// identical bytes, which is what makes content keys deterministic.
func MarshalCanonical(p Payload) ([]byte, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writePayload(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustMarshalCanonical is MarshalCanonical for payloads already validated
// by the caller. It panics on error.
func MustMarshalCanonical(p Payload) []byte {
	b, err := MarshalCanonical(p)
	if err != nil {
		panic(fmt.Sprintf("object: marshal canonical: %v", err))
	}
	return b
}

func writePayload(buf *bytes.Buffer, p Payload) error {
	switch v := p.(type) {
	case Primitive:
		buf.WriteString(`{"kind":"primitive","type":"`)
		buf.WriteString(string(v.Value.Type()))
		buf.WriteByte('"')
		if _, isNull := v.Value.(Null); !isNull {
			buf.WriteString(`,"value":`)
			if err := writeScalarValue(buf, v.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case Sequence:
		buf.WriteString(`{"elements":[`)
		for i, k := range v.Elements {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeKey(buf, k)
		}
		buf.WriteString(`],"kind":"sequence"}`)
	case Mapping:
		buf.WriteString(`{"entries":[`)
		for i, e := range v.Entries {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteByte('[')
			if err := writeString(buf, e.KeyRepr); err != nil {
				return err
			}
			buf.WriteByte(',')
			writeKey(buf, e.Value)
			buf.WriteByte(']')
		}
		buf.WriteString(`],"kind":"mapping"}`)
	case Struct:
		buf.WriteByte('{')
		if v.Code != "" {
			buf.WriteString(`"code":"`)
			buf.WriteString(string(v.Code))
			buf.WriteString(`",`)
		}
		buf.WriteString(`"fields":[`)
		for i, f := range v.Fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteByte('[')
			if err := writeString(buf, f.Name); err != nil {
				return err
			}
			buf.WriteByte(',')
			writeKey(buf, f.Value)
			buf.WriteByte(']')
		}
		buf.WriteString(`],"kind":"struct","type":`)
		if err := writeString(buf, v.TypeName); err != nil {
			return err
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unknown payload type %T", p)
	}
	return nil
}

func writeScalarValue(buf *bytes.Buffer, s Scalar) error {
	switch v := s.(type) {
	case Bool:
		buf.WriteString(strconv.FormatBool(bool(v)))
	case Int:
		buf.WriteString(strconv.FormatInt(int64(v), 10))
	case Float:
		// Floats encode as JSON strings in shortest round-trip form, so
		// NaN and infinities stay representable and the bytes stay stable
		// across encoder implementations.
		buf.WriteByte('"')
		buf.WriteString(FormatFloat(float64(v)))
		buf.WriteByte('"')
	case String:
		return writeString(buf, string(v))
	case Bytes:
		buf.WriteByte('"')
		buf.WriteString(base64.StdEncoding.EncodeToString(v))
		buf.WriteByte('"')
	default:
		return fmt.Errorf("unknown scalar type %T", s)
	}
	return nil
}

// writeKey writes a content key. Keys are lowercase hex so they need no
// escaping or normalization.
func writeKey(buf *bytes.Buffer, k Key) {
	buf.WriteByte('"')
	buf.WriteString(string(k))
	buf.WriteByte('"')
}

func writeString(buf *bytes.Buffer, s string) error {
	b, err := marshalCanonicalString(s)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

// marshalCanonicalString encodes a string as canonical JSON: NFC
// normalization first, then encoding without HTML escaping.
func marshalCanonicalString(s string) ([]byte, error) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, fmt.Errorf("encode string: %w", err)
	}

	out := buf.Bytes()
	// Encoder.Encode appends a newline that is not part of the value.
	if n := len(out); n > 0 && out[n-1] == '\n' {
		out = out[:n-1]
	}
	return unescapeLineSeparators(out), nil
}

// unescapeLineSeparators rewrites \u2028 and \u2029 escapes back to their
// raw UTF-8 bytes. encoding/json escapes both even with HTML escaping off,
// but they are valid unescaped inside JSON strings and the canonical form
// keeps them raw.
func unescapeLineSeparators(in []byte) []byte {
	if !bytes.Contains(in, []byte(`\u202`)) {
		return in
	}
	out := make([]byte, 0, len(in))
	for i := 0; i < len(in); {
		switch {
		case escapeAt(in, i, `\u2028`):
			out = append(out, 0xe2, 0x80, 0xa8)
			i += 6
		case escapeAt(in, i, `\u2029`):
			out = append(out, 0xe2, 0x80, 0xa9)
			i += 6
		default:
			out = append(out, in[i])
			i++
		}
	}
	return out
}

// escapeAt reports whether the escape sequence esc starts at offset i and
// is a real escape. A sequence preceded by an odd number of backslashes is
// literal text ("\\u2028" is a backslash followed by "u2028").
func escapeAt(in []byte, i int, esc string) bool {
	if !bytes.HasPrefix(in[i:], []byte(esc)) {
		return false
	}
	backslashes := 0
	for j := i - 1; j >= 0 && in[j] == '\\'; j-- {
		backslashes++
	}
	return backslashes%2 == 0
}

// compareUTF16 orders strings by their UTF-16 code units, the member
// ordering RFC 8785 requires. It differs from byte order for code points
// above the basic multilingual plane.
func compareUTF16(a, b string) int {
	au := utf16.Encode([]rune(a))
	bu := utf16.Encode([]rune(b))
	for i := 0; i < len(au) && i < len(bu); i++ {
		switch {
		case au[i] < bu[i]:
			return -1
		case au[i] > bu[i]:
			return 1
		}
	}
	switch {
	case len(au) < len(bu):
		return -1
	case len(au) > len(bu):
		return 1
	default:
		return 0
	}
}
