package commsutil

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

var (
	marshalOpts   = protojson.MarshalOptions{UseProtoNames: true}
	unmarshalOpts = protojson.UnmarshalOptions{DiscardUnknown: false}
)

// EncodePayload serializes an envelope or event to JSON bytes.
func EncodePayload(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload deserializes JSON bytes into the given target.
func DecodePayload(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// EncodeMessage renders a wire message as protojson with proto field names,
// for embedding in a JSON envelope.
func EncodeMessage(msg proto.Message) (json.RawMessage, error) {
	data, err := marshalOpts.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.ProtoReflect().Descriptor().FullName(), err)
	}
	return json.RawMessage(data), nil
}

// DecodeMessage fills msg from protojson data. Empty data leaves msg empty.
func DecodeMessage(data []byte, msg proto.Message) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := unmarshalOpts.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("decode %s: %w", msg.ProtoReflect().Descriptor().FullName(), err)
	}
	return nil
}
