package codec

import "google.golang.org/protobuf/proto"

// Protobuf encodes proto messages. The durable log collection stores entry
// details as *structpb.Struct through this codec; marshaling is
// deterministic so equal details encode to equal bytes.
type Protobuf[T proto.Message] struct {
	new func() T
}

// NewProtobuf takes a constructor for an empty message, e.g.
// func() *structpb.Struct { return &structpb.Struct{} }.
func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{new: ctor}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(v)
}

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	m := c.new()
	if err := proto.Unmarshal(b, m); err != nil {
		var zero T
		return zero, err
	}
	return m, nil
}
