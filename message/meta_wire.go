package message

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the metadata record in protobuf wire format:
//
//	message RpcMeta {
//	  string service_name = 1;
//	  string method_name  = 2;
//	  uint64 request_id   = 3;
//	  bool   is_request   = 4;
//	  int32  error_code   = 5;
//	  string error_msg    = 6;
//	}
const (
	fieldServiceName protowire.Number = 1
	fieldMethodName  protowire.Number = 2
	fieldRequestID   protowire.Number = 3
	fieldIsRequest   protowire.Number = 4
	fieldErrorCode   protowire.Number = 5
	fieldErrorMsg    protowire.Number = 6
)

var ErrInvalidMeta = errors.New("message: invalid metadata")

// Marshal serializes m with proto3 rules: zero-valued fields are omitted.
func (m *RPCMeta) Marshal() []byte {
	var b []byte
	if m.ServiceName != "" {
		b = protowire.AppendTag(b, fieldServiceName, protowire.BytesType)
		b = protowire.AppendString(b, m.ServiceName)
	}
	if m.MethodName != "" {
		b = protowire.AppendTag(b, fieldMethodName, protowire.BytesType)
		b = protowire.AppendString(b, m.MethodName)
	}
	if m.RequestID != 0 {
		b = protowire.AppendTag(b, fieldRequestID, protowire.VarintType)
		b = protowire.AppendVarint(b, m.RequestID)
	}
	if m.IsRequest {
		b = protowire.AppendTag(b, fieldIsRequest, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if m.ErrorCode != 0 {
		// int32 is sign-extended to 64 bits on the wire
		b = protowire.AppendTag(b, fieldErrorCode, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(m.ErrorCode)))
	}
	if m.ErrorMsg != "" {
		b = protowire.AppendTag(b, fieldErrorMsg, protowire.BytesType)
		b = protowire.AppendString(b, m.ErrorMsg)
	}
	return b
}

// Unmarshal parses b into m, resetting m first. Unknown fields are skipped;
// string fields must hold valid UTF-8, as proto3 requires.
func (m *RPCMeta) Unmarshal(b []byte) error {
	*m = RPCMeta{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrInvalidMeta, protowire.ParseError(n))
		}
		b = b[n:]

		var str *string
		switch {
		case num == fieldServiceName && typ == protowire.BytesType:
			str = &m.ServiceName
			*str, n = protowire.ConsumeString(b)
		case num == fieldMethodName && typ == protowire.BytesType:
			str = &m.MethodName
			*str, n = protowire.ConsumeString(b)
		case num == fieldErrorMsg && typ == protowire.BytesType:
			str = &m.ErrorMsg
			*str, n = protowire.ConsumeString(b)
		case num == fieldRequestID && typ == protowire.VarintType:
			m.RequestID, n = protowire.ConsumeVarint(b)
		case num == fieldIsRequest && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			m.IsRequest = protowire.DecodeBool(v)
		case num == fieldErrorCode && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			m.ErrorCode = int32(v)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrInvalidMeta, num, protowire.ParseError(n))
		}
		if str != nil && !utf8.ValidString(*str) {
			return fmt.Errorf("%w: field %d: invalid UTF-8", ErrInvalidMeta, num)
		}
		b = b[n:]
	}
	return nil
}
