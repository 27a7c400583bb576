package resource

import (
	"context"
	"fmt"

	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Binding attaches one RPC method to an action of a resource.
type Binding struct {
	// Method is the RPC method name, e.g. "ListTodos".
	Method     string
	Dispatcher *Dispatcher
	Action     string
	Request    protoreflect.MessageType
	Response   protoreflect.MessageType
}

// Validate checks that the binding is complete and names a registered action.
func (b Binding) Validate() error {
	switch {
	case b.Method == "":
		return fmt.Errorf("resource: binding for action %q has no method", b.Action)
	case b.Dispatcher == nil:
		return fmt.Errorf("resource: method %s has no dispatcher", b.Method)
	case b.Request == nil || b.Response == nil:
		return fmt.Errorf("resource: method %s needs request and response types", b.Method)
	case !b.Dispatcher.Definition().Actions().Has(b.Action):
		return fmt.Errorf("resource: method %s binds unknown action %s.%s", b.Method, b.Dispatcher.Definition().Name(), b.Action)
	}
	return nil
}

// NewRequest returns an empty request message for the method.
func (b Binding) NewRequest() proto.Message {
	return b.Request.New().Interface()
}

// Call dispatches msg to the bound action.
func (b Binding) Call(ctx context.Context, msg proto.Message, md metadata.MD) (proto.Message, error) {
	return b.Dispatcher.Dispatch(ctx, b.Action, &Envelope{Message: msg, Meta: md, Response: b.Response})
}
