package codec

import (
	"fmt"
	"math"
	"reflect"

	"github.com/roach88/retrace/internal/object"
)

// decomposeReflect handles values with no registered codec.
func (r *Registry) decomposeReflect(rv reflect.Value) (Form, error) {
	t := rv.Type()
	switch rv.Kind() {
	case reflect.Bool:
		return FormPrimitive{Scalar: object.Bool(rv.Bool())}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return FormPrimitive{Scalar: object.Int(rv.Int())}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, NewUnstorableError(TypeNameOf(t), "uint64 overflows int64")
		}
		return FormPrimitive{Scalar: object.Int(int64(u))}, nil
	case reflect.Float32, reflect.Float64:
		return FormPrimitive{Scalar: object.Float(rv.Float())}, nil
	case reflect.String:
		return FormPrimitive{Scalar: object.String(rv.String())}, nil
	case reflect.Slice:
		if rv.IsNil() {
			return FormPrimitive{Scalar: object.Null{}}, nil
		}
		if t.Elem().Kind() == reflect.Uint8 {
			return FormPrimitive{Scalar: object.Bytes(byteCopy(rv))}, nil
		}
		return decomposeSequence(rv), nil
	case reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return FormPrimitive{Scalar: object.Bytes(byteCopy(rv))}, nil
		}
		return decomposeSequence(rv), nil
	case reflect.Map:
		if rv.IsNil() {
			return FormPrimitive{Scalar: object.Null{}}, nil
		}
		entries := make([]FormMapEntry, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key, err := scalarMapKey(iter.Key())
			if err != nil {
				return nil, err
			}
			entries = append(entries, FormMapEntry{Key: key, Value: iter.Value().Interface()})
		}
		return FormMapping{Entries: entries}, nil
	case reflect.Struct:
		name := TypeNameOf(t)
		fields := make([]FormField, 0, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if !sf.IsExported() {
				continue
			}
			fields = append(fields, FormField{Name: sf.Name, Value: rv.Field(i).Interface()})
		}
		return FormStruct{TypeName: name, Code: r.codeFor(name), Fields: fields}, nil
	case reflect.Func:
		return nil, NewUnstorableError(TypeNameOf(t), "functions cannot be stored")
	case reflect.Chan:
		return nil, NewUnstorableError(TypeNameOf(t), "channels cannot be stored")
	case reflect.UnsafePointer, reflect.Uintptr:
		return nil, NewUnstorableError(TypeNameOf(t), "raw pointers cannot be stored")
	default:
		return nil, NewUnstorableError(TypeNameOf(t), fmt.Sprintf("unsupported kind %s", rv.Kind()))
	}
}

func decomposeSequence(rv reflect.Value) Form {
	elems := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		elems[i] = rv.Index(i).Interface()
	}
	return FormSequence{Elements: elems}
}

// byteCopy reads out a byte slice or array element by element, which also
// covers named byte types that reflect.Value.Bytes rejects.
func byteCopy(rv reflect.Value) []byte {
	b := make([]byte, rv.Len())
	for i := range b {
		b[i] = byte(rv.Index(i).Uint())
	}
	return b
}

// scalarMapKey converts a map key to its scalar. Only scalar-kinded keys
// are storable; anything else poisons the whole map.
func scalarMapKey(kv reflect.Value) (object.Scalar, error) {
	if kv.Kind() == reflect.Interface {
		if kv.IsNil() {
			return object.Null{}, nil
		}
		kv = kv.Elem()
	}
	switch kv.Kind() {
	case reflect.Bool:
		return object.Bool(kv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return object.Int(kv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := kv.Uint()
		if u > math.MaxInt64 {
			return nil, NewUnstorableError(TypeNameOf(kv.Type()), "uint64 map key overflows int64")
		}
		return object.Int(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return object.Float(kv.Float()), nil
	case reflect.String:
		return object.String(kv.String()), nil
	default:
		return nil, NewUnstorableError(TypeNameOf(kv.Type()), "map key is not a scalar")
	}
}

// rebuildStruct fills a new value of typ from the form fields. Field
// names with no match in typ are dropped, so captures taken before a
// field was removed still load.
func rebuildStruct(typ reflect.Type, f FormStruct) (any, error) {
	pv := reflect.New(typ).Elem()
	for _, fd := range f.Fields {
		sf, ok := typ.FieldByName(fd.Name)
		if !ok || !sf.IsExported() {
			continue
		}
		target := pv.FieldByIndex(sf.Index)
		if err := convertAssign(target, fd.Value); err != nil {
			return nil, fmt.Errorf("codec: field %s.%s: %w", f.TypeName, fd.Name, err)
		}
	}
	return pv.Interface(), nil
}

// convertAssign sets target from a recomposed live value, bridging the
// canonical live shapes (int64, float64, string, []byte, []any,
// map[any]any, GenericStruct) to the concrete field type.
func convertAssign(target reflect.Value, value any) error {
	if value == nil {
		target.SetZero()
		return nil
	}
	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(target.Type()) {
		target.Set(rv)
		return nil
	}

	if target.Kind() == reflect.Pointer {
		elem := reflect.New(target.Type().Elem())
		if err := convertAssign(elem.Elem(), value); err != nil {
			return err
		}
		target.Set(elem)
		return nil
	}

	if numericKind(rv.Kind()) && numericKind(target.Kind()) {
		target.Set(rv.Convert(target.Type()))
		return nil
	}
	if rv.Kind() == target.Kind() {
		switch rv.Kind() {
		case reflect.Bool, reflect.String:
			target.Set(rv.Convert(target.Type()))
			return nil
		}
	}

	switch target.Kind() {
	case reflect.String:
		if b, ok := value.([]byte); ok {
			target.Set(reflect.ValueOf(string(b)).Convert(target.Type()))
			return nil
		}
	case reflect.Slice:
		if target.Type().Elem().Kind() == reflect.Uint8 {
			b, isBytes := value.([]byte)
			if !isBytes {
				if s, isString := value.(string); isString {
					b, isBytes = []byte(s), true
				}
			}
			if isBytes {
				out := reflect.MakeSlice(target.Type(), len(b), len(b))
				for i, c := range b {
					out.Index(i).SetUint(uint64(c))
				}
				target.Set(out)
				return nil
			}
		}
		if src, ok := value.([]any); ok {
			out := reflect.MakeSlice(target.Type(), len(src), len(src))
			for i, elem := range src {
				if err := convertAssign(out.Index(i), elem); err != nil {
					return err
				}
			}
			target.Set(out)
			return nil
		}
	case reflect.Array:
		if b, ok := value.([]byte); ok && target.Type().Elem().Kind() == reflect.Uint8 {
			if len(b) != target.Len() {
				return fmt.Errorf("%d bytes do not fit %s", len(b), target.Type())
			}
			for i, c := range b {
				target.Index(i).SetUint(uint64(c))
			}
			return nil
		}
		if src, ok := value.([]any); ok {
			if len(src) != target.Len() {
				return fmt.Errorf("%d elements do not fit %s", len(src), target.Type())
			}
			for i, elem := range src {
				if err := convertAssign(target.Index(i), elem); err != nil {
					return err
				}
			}
			return nil
		}
	case reflect.Map:
		if src, ok := value.(map[any]any); ok {
			out := reflect.MakeMapWithSize(target.Type(), len(src))
			keyType := target.Type().Key()
			elemType := target.Type().Elem()
			for k, v := range src {
				key := reflect.New(keyType).Elem()
				if err := convertAssign(key, k); err != nil {
					return err
				}
				elem := reflect.New(elemType).Elem()
				if err := convertAssign(elem, v); err != nil {
					return err
				}
				out.SetMapIndex(key, elem)
			}
			target.Set(out)
			return nil
		}
	case reflect.Struct:
		if g, ok := value.(GenericStruct); ok {
			fields := make([]FormField, 0, len(g.Fields))
			for name, val := range g.Fields {
				fields = append(fields, FormField{Name: name, Value: val})
			}
			rebuilt, err := rebuildStruct(target.Type(), FormStruct{TypeName: g.TypeName, Fields: fields})
			if err != nil {
				return err
			}
			target.Set(reflect.ValueOf(rebuilt))
			return nil
		}
	}

	return fmt.Errorf("cannot assign %T to %s", value, target.Type())
}

func numericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
