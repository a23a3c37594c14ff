package rpcpb

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is registered with grpc's global encoding registry so that
// grpc.Server/grpc.ClientConn reach for this codec instead of the default
// proto codec, which expects the reflection-based golang/protobuf
// proto.Message interface our hand-marshaled messages don't implement.
const codecName = "tracebench-gogo"

func init() {
	encoding.RegisterCodec(wireCodec{})
}

// marshaler is satisfied by every message in this package.
type marshaler interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
}

type wireCodec struct{}

func (wireCodec) Name() string { return codecName }

func (wireCodec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(marshaler)
	if !ok {
		return nil, fmt.Errorf("rpcpb: %T does not implement marshaler", v)
	}
	return m.Marshal()
}

func (wireCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(marshaler)
	if !ok {
		return fmt.Errorf("rpcpb: %T does not implement marshaler", v)
	}
	return m.Unmarshal(data)
}

// CodecName returns the name the tracebench wire codec is registered under;
// clients in this module pass it to grpc.CallContentSubtype so every Exec
// call uses this codec rather than whatever default the grpc package falls
// back to.
func CodecName() string { return codecName }
