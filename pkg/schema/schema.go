// Package schema adapts Go struct types into validation schemas. A schema parses
// structured records into typed objects and serializes typed objects or persisted
// model rows back into records.
//
// Field names come from json tags; constraints come from validate tags and are
// checked with go-playground/validator.
package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/morezero/resource-rpc/pkg/record"
	"github.com/morezero/resource-rpc/pkg/rpcerror"
)

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(sf reflect.StructField) string {
		name, _, skip := jsonName(sf)
		if skip {
			return ""
		}
		return name
	})
	return v
}

// Validator is the type-erased view of a schema used by the dispatcher.
type Validator interface {
	// Name is the schema's type name, for diagnostics.
	Name() string
	Fields() []Field
	// Parse converts a record into a validated object of the schema type.
	// Every invalid field is reported in a single VALIDATION_ERROR.
	Parse(r record.Record) (any, error)
	// Serialize converts a schema object or a record.Recorder into a record.
	Serialize(v any) (record.Record, error)
}

// Schema is a Validator backed by the struct type T.
type Schema[T any] struct {
	typ    reflect.Type
	fields []fieldInfo
}

// For returns the schema for struct type T. It panics if T is not a struct,
// since schemas are declared at setup time.
func For[T any]() *Schema[T] {
	t := reflect.TypeFor[T]()
	if t.Kind() != reflect.Struct {
		panic(fmt.Sprintf("schema: %s is not a struct type", t))
	}
	return &Schema[T]{typ: t, fields: structFields(t)}
}

func (s *Schema[T]) Name() string {
	return s.typ.Name()
}

func (s *Schema[T]) Fields() []Field {
	out := make([]Field, 0, len(s.fields))
	for _, f := range s.fields {
		out = append(out, f.Field)
	}
	return out
}

// Parse implements Validator.
func (s *Schema[T]) Parse(r record.Record) (any, error) {
	return s.Decode(r)
}

// Decode is the typed form of Parse. Keys not declared by the schema are ignored.
func (s *Schema[T]) Decode(r record.Record) (T, error) {
	var out T
	dst := reflect.ValueOf(&out).Elem()

	var fieldErrs []rpcerror.FieldError
	failed := map[string]bool{}
	for _, f := range s.fields {
		v, ok := r[f.Name]
		if !ok || v == nil {
			continue
		}
		if err := assign(dst.FieldByIndex(f.index), v); err != nil {
			fieldErrs = append(fieldErrs, rpcerror.FieldError{Field: f.Name, Message: err.Error()})
			failed[f.Name] = true
		}
	}

	if err := validate.Struct(&out); err != nil {
		var valErrs validator.ValidationErrors
		if !errors.As(err, &valErrs) {
			return out, rpcerror.SchemaMismatch("schema %s: %v", s.Name(), err)
		}
		for _, fe := range valErrs {
			name := fieldPath(fe)
			if failed[topLevel(name)] {
				continue
			}
			fieldErrs = append(fieldErrs, rpcerror.FieldError{Field: name, Message: formatValidationError(fe)})
		}
	}

	if len(fieldErrs) > 0 {
		return out, rpcerror.Validation(fieldErrs)
	}
	return out, nil
}

// Serialize implements Validator. Values of type T or *T are converted directly;
// a record.Recorder such as a persisted row is first projected through the schema.
// Raw mappings and other values fail with SCHEMA_MISMATCH.
func (s *Schema[T]) Serialize(v any) (record.Record, error) {
	switch x := v.(type) {
	case T:
		return s.toRecord(reflect.ValueOf(&x).Elem()), nil
	case *T:
		if x == nil {
			return nil, rpcerror.SchemaMismatch("cannot serialize a nil %s", s.Name())
		}
		return s.toRecord(reflect.ValueOf(x).Elem()), nil
	case record.Record, map[string]any:
		return nil, rpcerror.SchemaMismatch("raw mapping is not a %s or a model instance", s.Name())
	case record.Recorder:
		r, err := x.ToRecord()
		if err != nil {
			return nil, rpcerror.SchemaMismatch("%T cannot produce a record: %v", v, err)
		}
		obj, err := s.Decode(r)
		if err != nil {
			return nil, rpcerror.SchemaMismatch("%T does not fit schema %s: %v", v, s.Name(), err)
		}
		return s.toRecord(reflect.ValueOf(&obj).Elem()), nil
	default:
		return nil, rpcerror.SchemaMismatch("%T cannot be serialized as %s", v, s.Name())
	}
}

func (s *Schema[T]) toRecord(v reflect.Value) record.Record {
	return structRecord(v, s.fields)
}

func structRecord(v reflect.Value, fields []fieldInfo) record.Record {
	out := record.Record{}
	for _, f := range fields {
		fv := v.FieldByIndex(f.index)
		if f.omitEmpty && fv.IsZero() {
			continue
		}
		if rv, ok := toRecordValue(fv); ok {
			out[f.Name] = rv
		}
	}
	return out
}

var timeType = reflect.TypeFor[time.Time]()

// toRecordValue converts a Go value into its canonical record form.
// ok is false for nil pointers, which are omitted.
func toRecordValue(v reflect.Value) (any, bool) {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil, false
		}
		return toRecordValue(v.Elem())
	case reflect.Bool:
		return v.Bool(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint(), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.String:
		return v.String(), true
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return append([]byte(nil), v.Bytes()...), true
		}
		items := make([]any, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			if item, ok := toRecordValue(v.Index(i)); ok {
				items = append(items, item)
			}
		}
		return items, true
	case reflect.Map:
		out := record.Record{}
		iter := v.MapRange()
		for iter.Next() {
			if mv, ok := toRecordValue(iter.Value()); ok {
				out[fmt.Sprint(iter.Key().Interface())] = mv
			}
		}
		return out, true
	case reflect.Struct:
		if v.Type() == timeType {
			return v.Interface().(time.Time), true
		}
		return structRecord(v, structFields(v.Type())), true
	default:
		return v.Interface(), true
	}
}

// assign stores the record value v into dst, converting between compatible types.
func assign(dst reflect.Value, v any) error {
	src := reflect.ValueOf(v)
	t := dst.Type()

	if t.Kind() == reflect.Interface {
		if !src.Type().Implements(t) {
			return fmt.Errorf("expected %s", t)
		}
		dst.Set(src)
		return nil
	}
	if t.Kind() == reflect.Pointer {
		elem := reflect.New(t.Elem())
		if err := assign(elem.Elem(), v); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	switch t.Kind() {
	case reflect.Bool:
		b, ok := v.(bool)
		if !ok {
			return errors.New("expected bool")
		}
		dst.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := record.ToInt64(v)
		if err != nil {
			return errors.New("expected integer")
		}
		if dst.OverflowInt(n) {
			return fmt.Errorf("%d overflows %s", n, t)
		}
		dst.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		var n uint64
		if u, ok := v.(uint64); ok {
			n = u
		} else {
			i, err := record.ToInt64(v)
			if err != nil || i < 0 {
				return errors.New("expected unsigned integer")
			}
			n = uint64(i)
		}
		if dst.OverflowUint(n) {
			return fmt.Errorf("%d overflows %s", n, t)
		}
		dst.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := record.ToFloat64(v)
		if err != nil {
			return errors.New("expected number")
		}
		dst.SetFloat(f)
	case reflect.String:
		s, ok := v.(string)
		if !ok {
			return errors.New("expected string")
		}
		dst.SetString(s)
	case reflect.Struct:
		if t == timeType {
			return assignTime(dst, v)
		}
		nested, ok := asRecord(v)
		if !ok {
			return fmt.Errorf("expected object, got %T", v)
		}
		var msgs []string
		for _, f := range structFields(t) {
			fv, present := nested[f.Name]
			if !present || fv == nil {
				continue
			}
			if err := assign(dst.FieldByIndex(f.index), fv); err != nil {
				msgs = append(msgs, f.Name+": "+err.Error())
			}
		}
		if len(msgs) > 0 {
			return errors.New(strings.Join(msgs, "; "))
		}
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			switch b := v.(type) {
			case []byte:
				dst.SetBytes(append([]byte(nil), b...))
				return nil
			case string:
				dst.SetBytes([]byte(b))
				return nil
			}
		}
		items, ok := v.([]any)
		if !ok {
			if src.Kind() != reflect.Slice {
				return fmt.Errorf("expected list, got %T", v)
			}
			items = make([]any, src.Len())
			for i := range items {
				items[i] = src.Index(i).Interface()
			}
		}
		out := reflect.MakeSlice(t, len(items), len(items))
		for i, item := range items {
			if item == nil {
				continue
			}
			if err := assign(out.Index(i), item); err != nil {
				return fmt.Errorf("[%d]: %v", i, err)
			}
		}
		dst.Set(out)
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return fmt.Errorf("unsupported map key type %s", t.Key())
		}
		entries, ok := asRecord(v)
		if !ok {
			return fmt.Errorf("expected mapping, got %T", v)
		}
		out := reflect.MakeMapWithSize(t, len(entries))
		for k, ev := range entries {
			elem := reflect.New(t.Elem()).Elem()
			if ev != nil {
				if err := assign(elem, ev); err != nil {
					return fmt.Errorf("%s: %v", k, err)
				}
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), elem)
		}
		dst.Set(out)
	default:
		if !src.Type().AssignableTo(t) {
			return fmt.Errorf("expected %s", t)
		}
		dst.Set(src)
	}
	return nil
}

func assignTime(dst reflect.Value, v any) error {
	switch x := v.(type) {
	case time.Time:
		dst.Set(reflect.ValueOf(x))
	case string:
		ts, err := time.Parse(time.RFC3339Nano, x)
		if err != nil {
			return errors.New("expected RFC 3339 timestamp")
		}
		dst.Set(reflect.ValueOf(ts))
	default:
		return errors.New("expected timestamp")
	}
	return nil
}

func asRecord(v any) (record.Record, bool) {
	switch r := v.(type) {
	case record.Record:
		return r, true
	case map[string]any:
		return record.Record(r), true
	default:
		return nil, false
	}
}

// fieldPath drops the root struct name from the validator namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func topLevel(path string) string {
	if i := strings.IndexAny(path, ".["); i >= 0 {
		return path[:i]
	}
	return path
}

func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "len":
		return fmt.Sprintf("must have length %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "email":
		return "must be a valid email address"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
