// Package codec turns envelopes into frame bodies and back, and serializes
// the payload messages carried inside them.
//
// Payload codecs play the role of the schema system: they know how to
// serialize a request or response value and how to parse bytes into an empty
// instance. Both endpoints must be configured with the same codec; the codec
// type is not carried on the wire.
package codec

import "fmt"

type CodecType byte

const (
	CodecTypeProto CodecType = 0
	CodecTypeJSON  CodecType = 1
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=Proto, 1=JSON
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &ProtoCodec{}
}

func (t CodecType) String() string {
	switch t {
	case CodecTypeProto:
		return "proto"
	case CodecTypeJSON:
		return "json"
	default:
		return fmt.Sprintf("codec(%d)", byte(t))
	}
}

// ParseCodecType maps a configuration name to a CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "", "proto", "protobuf":
		return CodecTypeProto, nil
	case "json":
		return CodecTypeJSON, nil
	default:
		return 0, fmt.Errorf("codec: unknown codec %q", name)
	}
}
