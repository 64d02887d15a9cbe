package codec

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/roach88/retrace/internal/object"
)

// Codec converts between live values and forms for one type family.
type Codec interface {
	Decompose(v any) (Form, error)
	Recompose(f Form) (any, error)
}

// Registry is a Codec that dispatches to per-type overrides and falls
// back to reflection. It also keeps the type-name table Recompose needs
// to rebuild registered concrete types, and the code-definition links
// attached to struct payloads at store time.
//
// A Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byType map[reflect.Type]Codec
	byName map[string]registration
	codes  map[string]object.CodeID
}

type registration struct {
	typ   reflect.Type
	codec Codec // nil -> default reflection rebuild
}

// NewRegistry returns a registry with the built-in codecs installed:
// time.Time (RFC 3339) and both complex widths.
func NewRegistry() *Registry {
	r := &Registry{
		byType: make(map[reflect.Type]Codec),
		byName: make(map[string]registration),
		codes:  make(map[string]object.CodeID),
	}
	r.mustRegisterCodec(time.Time{}, timeCodec{})
	r.mustRegisterCodec(complex128(0), complexCodec{bits: 128})
	r.mustRegisterCodec(complex64(0), complexCodec{bits: 64})
	return r
}

// TypeNameOf returns the stored type name for a type: package path plus
// type name for named types, the reflect string otherwise.
func TypeNameOf(t reflect.Type) string {
	if t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

// Register makes the prototype's type recomposable by name with the
// default reflection codec. Pointer prototypes register their element
// type.
func (r *Registry) Register(prototype any) error {
	return r.register(prototype, nil)
}

// RegisterCodec installs a custom codec for the prototype's type, used
// for both decomposition and recomposition.
func (r *Registry) RegisterCodec(prototype any, c Codec) error {
	if c == nil {
		return fmt.Errorf("codec: nil codec")
	}
	return r.register(prototype, c)
}

func (r *Registry) register(prototype any, c Codec) error {
	if prototype == nil {
		return fmt.Errorf("codec: nil prototype")
	}
	t := reflect.TypeOf(prototype)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := TypeNameOf(t)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byName[name]; ok && existing.typ != t {
		return fmt.Errorf("codec: type name %q already registered to %s", name, existing.typ)
	}
	r.byName[name] = registration{typ: t, codec: c}
	if c != nil {
		r.byType[t] = c
	}
	return nil
}

func (r *Registry) mustRegisterCodec(prototype any, c Codec) {
	if err := r.RegisterCodec(prototype, c); err != nil {
		panic(fmt.Sprintf("codec: register builtin: %v", err))
	}
}

// BindCode links a type name to the code definition snapshotted for it.
// Struct payloads for that type carry the id from then on.
func (r *Registry) BindCode(typeName string, id object.CodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[typeName] = id
}

func (r *Registry) codeFor(typeName string) object.CodeID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.codes[typeName]
}

func (r *Registry) codecFor(t reflect.Type) Codec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byType[t]
}

func (r *Registry) lookup(name string) (registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byName[name]
	return reg, ok
}

// Decompose turns a live value into a one-level form. Pointers deref to
// their targets; a nil of any shape becomes the null scalar.
func (r *Registry) Decompose(v any) (Form, error) {
	if v == nil {
		return FormPrimitive{Scalar: object.Null{}}, nil
	}

	switch g := v.(type) {
	case GenericStruct:
		return decomposeGeneric(g), nil
	case *GenericStruct:
		return decomposeGeneric(*g), nil
	case Unstorable:
		return decomposeUnstorable(g), nil
	case *Unstorable:
		return decomposeUnstorable(*g), nil
	}

	rv := reflect.ValueOf(v)
	for {
		if c := r.codecFor(rv.Type()); c != nil {
			return c.Decompose(rv.Interface())
		}
		if rv.Kind() == reflect.Pointer && !rv.IsNil() {
			rv = rv.Elem()
			continue
		}
		break
	}
	if rv.Kind() == reflect.Pointer {
		return FormPrimitive{Scalar: object.Null{}}, nil
	}
	return r.decomposeReflect(rv)
}

// Recompose rebuilds a live value from a form whose children are already
// live. Struct forms dispatch through the type-name table; names that
// were never registered come back as GenericStruct.
func (r *Registry) Recompose(f Form) (any, error) {
	switch v := f.(type) {
	case FormPrimitive:
		return LiveScalar(v.Scalar), nil
	case FormSequence:
		out := make([]any, len(v.Elements))
		copy(out, v.Elements)
		return out, nil
	case FormMapping:
		m := make(map[any]any, len(v.Entries))
		for _, e := range v.Entries {
			m[liveMapKey(e.Key)] = e.Value
		}
		return m, nil
	case FormStruct:
		return r.recomposeStruct(v)
	default:
		return nil, fmt.Errorf("codec: unknown form %T", f)
	}
}

func (r *Registry) recomposeStruct(f FormStruct) (any, error) {
	if f.TypeName == UnstorableTypeName {
		u := Unstorable{}
		for _, fd := range f.Fields {
			switch fd.Name {
			case "typename":
				u.TypeName, _ = fd.Value.(string)
			case "reason":
				u.Reason, _ = fd.Value.(string)
			}
		}
		return u, nil
	}

	reg, ok := r.lookup(f.TypeName)
	if !ok {
		g := GenericStruct{TypeName: f.TypeName, Fields: make(map[string]any, len(f.Fields))}
		for _, fd := range f.Fields {
			g.Fields[fd.Name] = fd.Value
		}
		return g, nil
	}
	if reg.codec != nil {
		return reg.codec.Recompose(f)
	}
	return rebuildStruct(reg.typ, f)
}

// LiveScalar converts a stored scalar to its live Go value: nil, bool,
// int64, float64, string, or []byte.
func LiveScalar(s object.Scalar) any {
	switch v := s.(type) {
	case object.Null:
		return nil
	case object.Bool:
		return bool(v)
	case object.Int:
		return int64(v)
	case object.Float:
		return float64(v)
	case object.String:
		return string(v)
	case object.Bytes:
		return []byte(v)
	default:
		return nil
	}
}

// liveMapKey is LiveScalar for map keys. Byte strings convert to string
// because slices cannot key a Go map; such keys only appear in data
// captured outside Go.
func liveMapKey(s object.Scalar) any {
	if b, ok := s.(object.Bytes); ok {
		return string(b)
	}
	return LiveScalar(s)
}

func decomposeGeneric(g GenericStruct) Form {
	fields := make([]FormField, 0, len(g.Fields))
	for name, value := range g.Fields {
		fields = append(fields, FormField{Name: name, Value: value})
	}
	return FormStruct{TypeName: g.TypeName, Fields: fields}
}

func decomposeUnstorable(u Unstorable) Form {
	return FormStruct{
		TypeName: UnstorableTypeName,
		Fields: []FormField{
			{Name: "reason", Value: u.Reason},
			{Name: "typename", Value: u.TypeName},
		},
	}
}

// timeCodec stores time.Time as a struct carrying one RFC 3339 field, so
// times recompose to time.Time instead of a bare string.
type timeCodec struct{}

func (timeCodec) Decompose(v any) (Form, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, fmt.Errorf("codec: time codec got %T", v)
	}
	return FormStruct{
		TypeName: "time.Time",
		Fields:   []FormField{{Name: "rfc3339", Value: t.Format(time.RFC3339Nano)}},
	}, nil
}

func (timeCodec) Recompose(f Form) (any, error) {
	fs, ok := f.(FormStruct)
	if !ok {
		return nil, fmt.Errorf("codec: time codec got form %T", f)
	}
	for _, fd := range fs.Fields {
		if fd.Name != "rfc3339" {
			continue
		}
		s, ok := fd.Value.(string)
		if !ok {
			return nil, fmt.Errorf("codec: time field holds %T", fd.Value)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("codec: parse time: %w", err)
		}
		return t, nil
	}
	return nil, fmt.Errorf("codec: time struct missing rfc3339 field")
}

// complexCodec stores complex numbers as real/imag float pairs.
type complexCodec struct {
	bits int
}

func (c complexCodec) Decompose(v any) (Form, error) {
	var z complex128
	switch n := v.(type) {
	case complex64:
		z = complex128(n)
	case complex128:
		z = n
	default:
		return nil, fmt.Errorf("codec: complex codec got %T", v)
	}
	return FormStruct{
		TypeName: fmt.Sprintf("complex%d", c.bits),
		Fields: []FormField{
			{Name: "imag", Value: imag(z)},
			{Name: "real", Value: real(z)},
		},
	}, nil
}

func (c complexCodec) Recompose(f Form) (any, error) {
	fs, ok := f.(FormStruct)
	if !ok {
		return nil, fmt.Errorf("codec: complex codec got form %T", f)
	}
	var re, im float64
	for _, fd := range fs.Fields {
		val, ok := fd.Value.(float64)
		if !ok {
			return nil, fmt.Errorf("codec: complex field %s holds %T", fd.Name, fd.Value)
		}
		switch fd.Name {
		case "real":
			re = val
		case "imag":
			im = val
		}
	}
	if c.bits == 64 {
		return complex64(complex(re, im)), nil
	}
	return complex(re, im), nil
}
