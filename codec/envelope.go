package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"pbrpc/message"
)

// Frame body layout:
//
//	0          4                 4+M
//	┌──────────┬─────────────────┬──────────────────┐
//	│ metaLen M│  metadata (M)   │  payload ...     │
//	│  uint32  │  protobuf wire  │  rest of frame   │
//	└──────────┴─────────────────┴──────────────────┘
const metaLenSize = 4

var (
	ErrShortFrame   = errors.New("codec: frame shorter than metadata length header")
	ErrMetaOverflow = errors.New("codec: metadata length exceeds frame")
)

// EncodeFrame serializes meta and payload into a frame body (without the outer length prefix).
func EncodeFrame(meta *message.RPCMeta, payload any, c Codec) ([]byte, error) {
	body, err := c.Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("codec: encode payload: %w", err)
	}
	return EncodeFrameBytes(meta, body), nil
}

// EncodeFrameBytes builds a frame body around an already serialized payload.
func EncodeFrameBytes(meta *message.RPCMeta, payload []byte) []byte {
	metaBytes := meta.Marshal()

	buf := make([]byte, metaLenSize+len(metaBytes)+len(payload))
	binary.BigEndian.PutUint32(buf[:metaLenSize], uint32(len(metaBytes)))
	copy(buf[metaLenSize:], metaBytes)
	copy(buf[metaLenSize+len(metaBytes):], payload)
	return buf
}

// DecodeFrame splits a frame body into its metadata and raw payload bytes.
// The payload is not parsed: its type is only known once the metadata is.
func DecodeFrame(frame []byte) (*message.RPCMessage, error) {
	if len(frame) < metaLenSize {
		return nil, ErrShortFrame
	}

	metaLen := binary.BigEndian.Uint32(frame[:metaLenSize])
	if uint64(len(frame)-metaLenSize) < uint64(metaLen) {
		return nil, fmt.Errorf("%w: %d > %d", ErrMetaOverflow, metaLen, len(frame)-metaLenSize)
	}

	msg := &message.RPCMessage{}
	end := metaLenSize + int(metaLen)
	if err := msg.Meta.Unmarshal(frame[metaLenSize:end]); err != nil {
		return nil, err
	}
	msg.Payload = frame[end:]
	return msg, nil
}
