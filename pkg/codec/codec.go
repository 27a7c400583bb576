// Package codec converts protobuf wire messages to structured records and back.
//
// Decoding only visits populated fields, so a field left at its wire default is
// absent from the record rather than present with a zero value. Decoded values
// use canonical Go types: int64 for signed integers, uint64 for unsigned, float64
// for floating point, string enum names, record.Record for nested messages and
// maps, []any for repeated fields and time.Time for google.protobuf.Timestamp.
package codec

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/morezero/resource-rpc/pkg/record"
	"github.com/morezero/resource-rpc/pkg/rpcerror"
)

const timestampFullName protoreflect.FullName = "google.protobuf.Timestamp"

// Decode converts a wire message into a structured record.
func Decode(msg proto.Message) (record.Record, error) {
	if msg == nil {
		return nil, rpcerror.SchemaMismatch("cannot decode a nil message")
	}
	m := msg.ProtoReflect()
	if !m.IsValid() {
		return record.Record{}, nil
	}
	return decodeMessage(m), nil
}

// Encode builds a new message of type mt from r. Keys of r must be field names of
// mt; fields missing from r keep their wire default.
func Encode(r record.Record, mt protoreflect.MessageType) (proto.Message, error) {
	if mt == nil {
		return nil, rpcerror.SchemaMismatch("no target message type")
	}
	m := mt.New()
	if err := encodeInto(m, r, ""); err != nil {
		return nil, err
	}
	return m.Interface(), nil
}

func decodeMessage(m protoreflect.Message) record.Record {
	out := record.Record{}
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		out[string(fd.Name())] = decodeField(fd, v)
		return true
	})
	return out
}

func decodeField(fd protoreflect.FieldDescriptor, v protoreflect.Value) any {
	switch {
	case fd.IsList():
		list := v.List()
		items := make([]any, 0, list.Len())
		for i := 0; i < list.Len(); i++ {
			items = append(items, decodeScalar(fd, list.Get(i)))
		}
		return items
	case fd.IsMap():
		out := record.Record{}
		v.Map().Range(func(k protoreflect.MapKey, mv protoreflect.Value) bool {
			out[k.String()] = decodeScalar(fd.MapValue(), mv)
			return true
		})
		return out
	default:
		return decodeScalar(fd, v)
	}
}

func decodeScalar(fd protoreflect.FieldDescriptor, v protoreflect.Value) any {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return v.Bool()
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return v.Int()
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return v.Uint()
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		return v.Float()
	case protoreflect.StringKind:
		return v.String()
	case protoreflect.BytesKind:
		return append([]byte(nil), v.Bytes()...)
	case protoreflect.EnumKind:
		if ev := fd.Enum().Values().ByNumber(v.Enum()); ev != nil {
			return string(ev.Name())
		}
		return int64(v.Enum())
	case protoreflect.MessageKind, protoreflect.GroupKind:
		if fd.Message().FullName() == timestampFullName {
			return decodeTimestamp(v.Message())
		}
		return decodeMessage(v.Message())
	default:
		return nil
	}
}

func encodeInto(m protoreflect.Message, r record.Record, path string) error {
	fields := m.Descriptor().Fields()
	for _, key := range r.Keys() {
		value := r[key]
		fd := fields.ByName(protoreflect.Name(key))
		if fd == nil {
			return rpcerror.SchemaMismatch("unknown field %q for %s", join(path, key), m.Descriptor().FullName())
		}
		if value == nil {
			continue
		}
		if err := encodeField(m, fd, value, join(path, key)); err != nil {
			return err
		}
	}
	return nil
}

func encodeField(m protoreflect.Message, fd protoreflect.FieldDescriptor, value any, path string) error {
	switch {
	case fd.IsList():
		items, ok := value.([]any)
		if !ok {
			return rpcerror.SchemaMismatch("field %q: expected a list, got %T", path, value)
		}
		list := m.Mutable(fd).List()
		for i, item := range items {
			elemPath := fmt.Sprintf("%s[%d]", path, i)
			if isMessage(fd) && fd.Message().FullName() != timestampFullName {
				elem := list.NewElement()
				if err := encodeNested(elem.Message(), item, elemPath); err != nil {
					return err
				}
				list.Append(elem)
				continue
			}
			v, err := scalarValue(fd, item, elemPath, list.NewElement)
			if err != nil {
				return err
			}
			list.Append(v)
		}
		return nil
	case fd.IsMap():
		entries, ok := asRecord(value)
		if !ok {
			return rpcerror.SchemaMismatch("field %q: expected a mapping, got %T", path, value)
		}
		mp := m.Mutable(fd).Map()
		for _, k := range entries.Keys() {
			mk, err := mapKey(fd.MapKey(), k, path)
			if err != nil {
				return err
			}
			entryPath := path + "." + k
			valFd := fd.MapValue()
			if isMessage(valFd) && valFd.Message().FullName() != timestampFullName {
				mv := mp.NewValue()
				if err := encodeNested(mv.Message(), entries[k], entryPath); err != nil {
					return err
				}
				mp.Set(mk, mv)
				continue
			}
			v, err := scalarValue(valFd, entries[k], entryPath, mp.NewValue)
			if err != nil {
				return err
			}
			mp.Set(mk, v)
		}
		return nil
	case isMessage(fd) && fd.Message().FullName() != timestampFullName:
		return encodeNested(m.Mutable(fd).Message(), value, path)
	default:
		v, err := scalarValue(fd, value, path, func() protoreflect.Value { return m.NewField(fd) })
		if err != nil {
			return err
		}
		m.Set(fd, v)
		return nil
	}
}

func encodeNested(m protoreflect.Message, value any, path string) error {
	nested, ok := asRecord(value)
	if !ok {
		return rpcerror.SchemaMismatch("field %q: expected a nested record, got %T", path, value)
	}
	return encodeInto(m, nested, path)
}

// scalarValue converts v for fd. newMessage supplies a fresh message value for
// Timestamp fields, which vary between list, map and singular contexts.
func scalarValue(fd protoreflect.FieldDescriptor, v any, path string, newMessage func() protoreflect.Value) (protoreflect.Value, error) {
	mismatch := func(want string) (protoreflect.Value, error) {
		return protoreflect.Value{}, rpcerror.SchemaMismatch("field %q: expected %s, got %T", path, want, v)
	}

	switch fd.Kind() {
	case protoreflect.BoolKind:
		b, ok := v.(bool)
		if !ok {
			return mismatch("bool")
		}
		return protoreflect.ValueOfBool(b), nil
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		n, err := record.ToInt64(v)
		if err != nil || n < math.MinInt32 || n > math.MaxInt32 {
			return mismatch("int32")
		}
		return protoreflect.ValueOfInt32(int32(n)), nil
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		n, err := record.ToInt64(v)
		if err != nil {
			return mismatch("int64")
		}
		return protoreflect.ValueOfInt64(n), nil
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		n, err := toUint64(v)
		if err != nil || n > math.MaxUint32 {
			return mismatch("uint32")
		}
		return protoreflect.ValueOfUint32(uint32(n)), nil
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		n, err := toUint64(v)
		if err != nil {
			return mismatch("uint64")
		}
		return protoreflect.ValueOfUint64(n), nil
	case protoreflect.FloatKind:
		f, err := record.ToFloat64(v)
		if err != nil {
			return mismatch("float")
		}
		return protoreflect.ValueOfFloat32(float32(f)), nil
	case protoreflect.DoubleKind:
		f, err := record.ToFloat64(v)
		if err != nil {
			return mismatch("double")
		}
		return protoreflect.ValueOfFloat64(f), nil
	case protoreflect.StringKind:
		switch s := v.(type) {
		case string:
			return protoreflect.ValueOfString(s), nil
		case time.Time:
			return protoreflect.ValueOfString(s.UTC().Format(time.RFC3339Nano)), nil
		default:
			return mismatch("string")
		}
	case protoreflect.BytesKind:
		switch b := v.(type) {
		case []byte:
			return protoreflect.ValueOfBytes(b), nil
		case string:
			return protoreflect.ValueOfBytes([]byte(b)), nil
		default:
			return mismatch("bytes")
		}
	case protoreflect.EnumKind:
		if name, ok := v.(string); ok {
			ev := fd.Enum().Values().ByName(protoreflect.Name(name))
			if ev == nil {
				return protoreflect.Value{}, rpcerror.SchemaMismatch("field %q: unknown enum value %q", path, name)
			}
			return protoreflect.ValueOfEnum(ev.Number()), nil
		}
		n, err := record.ToInt64(v)
		if err != nil || n < math.MinInt32 || n > math.MaxInt32 {
			return mismatch("enum")
		}
		return protoreflect.ValueOfEnum(protoreflect.EnumNumber(n)), nil
	case protoreflect.MessageKind, protoreflect.GroupKind:
		if fd.Message().FullName() != timestampFullName {
			return mismatch("message")
		}
		ts, ok := v.(time.Time)
		if !ok {
			return mismatch("time.Time")
		}
		mv := newMessage()
		encodeTimestamp(mv.Message(), ts)
		return mv, nil
	default:
		return mismatch(fd.Kind().String())
	}
}

func mapKey(fd protoreflect.FieldDescriptor, key, path string) (protoreflect.MapKey, error) {
	v, err := scalarValue(fd, key, path, nil)
	if err != nil {
		return protoreflect.MapKey{}, err
	}
	return v.MapKey(), nil
}

func decodeTimestamp(m protoreflect.Message) time.Time {
	fields := m.Descriptor().Fields()
	secs := m.Get(fields.ByName("seconds")).Int()
	nanos := m.Get(fields.ByName("nanos")).Int()
	return time.Unix(secs, nanos).UTC()
}

func encodeTimestamp(m protoreflect.Message, t time.Time) {
	fields := m.Descriptor().Fields()
	m.Set(fields.ByName("seconds"), protoreflect.ValueOfInt64(t.Unix()))
	m.Set(fields.ByName("nanos"), protoreflect.ValueOfInt32(int32(t.Nanosecond())))
}

func toUint64(v any) (uint64, error) {
	if u, ok := v.(uint64); ok {
		return u, nil
	}
	n, err := record.ToInt64(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%d is negative", n)
	}
	return uint64(n), nil
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

func isMessage(fd protoreflect.FieldDescriptor) bool {
	return fd.Kind() == protoreflect.MessageKind || fd.Kind() == protoreflect.GroupKind
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
