// Package testpb builds the wire types used by tests at runtime, so no protoc
// step is needed. The file declares a small users service plus a Sample message
// covering every field shape the codec handles.
package testpb

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
	_ "google.golang.org/protobuf/types/known/timestamppb"
)

// Package is the proto package of every message in this file.
const Package = "testpb"

// Types holds a dynamic message type for every message in the file.
var Types = mustBuild()

// MessageType returns the type registered for the short message name, e.g. "User".
func MessageType(name string) protoreflect.MessageType {
	mt, err := Types.FindMessageByName(protoreflect.FullName(Package + "." + name))
	if err != nil {
		panic(fmt.Sprintf("testpb: %v", err))
	}
	return mt
}

// New creates a message of the named type and sets the given scalar fields.
// Values must already have the Go type protoreflect.ValueOf expects for the
// field's kind (int32 for int32 fields, string for string fields...).
func New(name string, fields map[string]any) proto.Message {
	m := MessageType(name).New()
	for k, v := range fields {
		fd := m.Descriptor().Fields().ByName(protoreflect.Name(k))
		if fd == nil {
			panic(fmt.Sprintf("testpb: %s has no field %q", name, k))
		}
		m.Set(fd, protoreflect.ValueOf(v))
	}
	return m.Interface()
}

func mustBuild() *protoregistry.Types {
	fd, err := protodesc.NewFile(fileDescriptor(), protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("testpb: build descriptor: %v", err))
	}
	types := new(protoregistry.Types)
	if err := registerMessages(types, fd.Messages()); err != nil {
		panic(fmt.Sprintf("testpb: register: %v", err))
	}
	if err := types.RegisterEnum(dynamicpb.NewEnumType(fd.Enums().ByName("Color"))); err != nil {
		panic(fmt.Sprintf("testpb: register enum: %v", err))
	}
	return types
}

func registerMessages(types *protoregistry.Types, msgs protoreflect.MessageDescriptors) error {
	for i := 0; i < msgs.Len(); i++ {
		md := msgs.Get(i)
		if md.IsMapEntry() {
			continue
		}
		if err := types.RegisterMessage(dynamicpb.NewMessageType(md)); err != nil {
			return err
		}
		if err := registerMessages(types, md.Messages()); err != nil {
			return err
		}
	}
	return nil
}

func field(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		JsonName: proto.String(name),
		Number:   proto.Int32(number),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:     typ.Enum(),
	}
}

func repeated(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return f
}

func typed(f *descriptorpb.FieldDescriptorProto, typeName string) *descriptorpb.FieldDescriptorProto {
	f.TypeName = proto.String(typeName)
	return f
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

const (
	tBool    = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	tInt32   = descriptorpb.FieldDescriptorProto_TYPE_INT32
	tInt64   = descriptorpb.FieldDescriptorProto_TYPE_INT64
	tUint32  = descriptorpb.FieldDescriptorProto_TYPE_UINT32
	tUint64  = descriptorpb.FieldDescriptorProto_TYPE_UINT64
	tFloat   = descriptorpb.FieldDescriptorProto_TYPE_FLOAT
	tDouble  = descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
	tString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
	tBytes   = descriptorpb.FieldDescriptorProto_TYPE_BYTES
	tEnum    = descriptorpb.FieldDescriptorProto_TYPE_ENUM
	tMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
)

func fileDescriptor() *descriptorpb.FileDescriptorProto {
	scoresEntry := message("ScoresEntry",
		field("key", 1, tString),
		field("value", 2, tInt64),
	)
	scoresEntry.Options = &descriptorpb.MessageOptions{MapEntry: proto.Bool(true)}

	sample := message("Sample",
		field("flag", 1, tBool),
		field("small", 2, tInt32),
		field("big", 3, tInt64),
		field("usmall", 4, tUint32),
		field("ubig", 5, tUint64),
		field("ratio", 6, tFloat),
		field("score", 7, tDouble),
		field("name", 8, tString),
		field("blob", 9, tBytes),
		typed(field("color", 10, tEnum), ".testpb.Color"),
		typed(field("owner", 11, tMessage), ".testpb.User"),
		repeated(field("tags", 12, tString)),
		repeated(typed(field("friends", 13, tMessage), ".testpb.User")),
		repeated(typed(field("scores", 14, tMessage), ".testpb.Sample.ScoresEntry")),
		typed(field("created", 15, tMessage), ".google.protobuf.Timestamp"),
	)
	sample.NestedType = []*descriptorpb.DescriptorProto{scoresEntry}

	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String("testpb/users.proto"),
		Package:    proto.String(Package),
		Syntax:     proto.String("proto3"),
		Dependency: []string{"google/protobuf/timestamp.proto"},
		EnumType: []*descriptorpb.EnumDescriptorProto{{
			Name: proto.String("Color"),
			Value: []*descriptorpb.EnumValueDescriptorProto{
				{Name: proto.String("COLOR_UNSPECIFIED"), Number: proto.Int32(0)},
				{Name: proto.String("RED"), Number: proto.Int32(1)},
				{Name: proto.String("BLUE"), Number: proto.Int32(2)},
			},
		}},
		MessageType: []*descriptorpb.DescriptorProto{
			message("User",
				field("id", 1, tInt64),
				field("username", 2, tString),
			),
			message("ListUsersRequest",
				field("limit", 1, tInt32),
				field("offset", 2, tInt32),
				field("username", 3, tString),
			),
			message("ListUsersResponse",
				repeated(typed(field("items", 1, tMessage), ".testpb.User")),
				field("count", 2, tInt32),
				field("limit", 3, tInt32),
				field("offset", 4, tInt32),
			),
			message("GetUserRequest",
				field("id", 1, tInt64),
			),
			message("CreateUserRequest",
				field("username", 1, tString),
			),
			message("UpdateUserRequest",
				field("id", 1, tInt64),
				field("username", 2, tString),
			),
			message("DeleteUserResponse",
				field("result", 1, tBool),
			),
			sample,
		},
	}
}
