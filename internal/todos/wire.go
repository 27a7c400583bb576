package todos

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

// Package is the proto package of the todos wire types.
const Package = "todos.v1"

// ServiceName is the fully qualified RPC service exposing the todos resource.
const ServiceName = Package + ".TodoService"

// Types resolves every todos wire message by full name.
var Types = mustTypes()

// MessageType returns the todos wire type with the given short name, e.g. "Todo".
func MessageType(name string) protoreflect.MessageType {
	mt, err := Types.FindMessageByName(protoreflect.FullName(Package + "." + name))
	if err != nil {
		panic(fmt.Sprintf("todos: %v", err))
	}
	return mt
}

func mustTypes() *protoregistry.Types {
	fd, err := protodesc.NewFile(wireFile(), protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("todos: build descriptor: %v", err))
	}
	types := new(protoregistry.Types)
	msgs := fd.Messages()
	for i := 0; i < msgs.Len(); i++ {
		if err := types.RegisterMessage(dynamicpb.NewMessageType(msgs.Get(i))); err != nil {
			panic(fmt.Sprintf("todos: register %s: %v", msgs.Get(i).FullName(), err))
		}
	}
	return types
}

type msgBuilder struct {
	*descriptorpb.DescriptorProto
}

func newMessage(name string) *msgBuilder {
	return &msgBuilder{&descriptorpb.DescriptorProto{Name: proto.String(name)}}
}

func (b *msgBuilder) add(name string, typ descriptorpb.FieldDescriptorProto_Type, typeName string) *descriptorpb.FieldDescriptorProto {
	f := &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		JsonName: proto.String(name),
		Number:   proto.Int32(int32(len(b.Field) + 1)),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:     typ.Enum(),
	}
	if typeName != "" {
		f.TypeName = proto.String(typeName)
	}
	b.Field = append(b.Field, f)
	return f
}

func (b *msgBuilder) scalar(name string, typ descriptorpb.FieldDescriptorProto_Type) *msgBuilder {
	b.add(name, typ, "")
	return b
}

// optional adds a proto3 optional scalar, whose presence survives a false or
// zero value.
func (b *msgBuilder) optional(name string, typ descriptorpb.FieldDescriptorProto_Type) *msgBuilder {
	f := b.add(name, typ, "")
	f.Proto3Optional = proto.Bool(true)
	f.OneofIndex = proto.Int32(int32(len(b.OneofDecl)))
	b.OneofDecl = append(b.OneofDecl, &descriptorpb.OneofDescriptorProto{Name: proto.String("_" + name)})
	return b
}

func (b *msgBuilder) message(name, typeName string) *msgBuilder {
	b.add(name, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, typeName)
	return b
}

func (b *msgBuilder) list(name, typeName string) *msgBuilder {
	f := b.add(name, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, typeName)
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return b
}

const (
	tBool   = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	tInt32  = descriptorpb.FieldDescriptorProto_TYPE_INT32
	tInt64  = descriptorpb.FieldDescriptorProto_TYPE_INT64
	tString = descriptorpb.FieldDescriptorProto_TYPE_STRING

	timestamp = ".google.protobuf.Timestamp"
	todo      = "." + Package + ".Todo"
)

func wireFile() *descriptorpb.FileDescriptorProto {
	msgs := []*msgBuilder{
		newMessage("Todo").
			scalar("id", tInt64).
			scalar("title", tString).
			scalar("done", tBool).
			message("created_time", timestamp).
			message("updated_time", timestamp),
		newMessage("ListTodosRequest").
			scalar("limit", tInt32).
			scalar("offset", tInt32).
			scalar("title", tString).
			optional("done", tBool),
		newMessage("ListTodosResponse").
			list("items", todo).
			scalar("count", tInt32).
			scalar("limit", tInt32).
			scalar("offset", tInt32),
		newMessage("TodoRequest").
			scalar("id", tInt64),
		newMessage("CreateTodoRequest").
			scalar("title", tString).
			scalar("done", tBool),
		newMessage("UpdateTodoRequest").
			scalar("id", tInt64).
			optional("title", tString).
			optional("done", tBool),
		newMessage("DeleteTodoResponse").
			scalar("result", tBool),
	}

	file := &descriptorpb.FileDescriptorProto{
		Name:       proto.String("todos/v1/todos.proto"),
		Package:    proto.String(Package),
		Syntax:     proto.String("proto3"),
		Dependency: []string{"google/protobuf/timestamp.proto"},
	}
	for _, m := range msgs {
		file.MessageType = append(file.MessageType, m.DescriptorProto)
	}
	return file
}
