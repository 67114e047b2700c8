package codec

import (
	"testing"

	"google.golang.org/protobuf/types/known/wrapperspb"

	"pbrpc/message"
)

func benchmarkEnvelope(b *testing.B, c Codec) {
	meta := &message.RPCMeta{ServiceName: "demo.EchoService", MethodName: "Echo", RequestID: 1, IsRequest: true}
	payload := wrapperspb.String("benchmark payload")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		frame, err := EncodeFrame(meta, payload, c)
		if err != nil {
			b.Fatal(err)
		}
		msg, err := DecodeFrame(frame)
		if err != nil {
			b.Fatal(err)
		}
		var out wrapperspb.StringValue
		if err := c.Decode(msg.Payload, &out); err != nil {
			b.Fatal(err)
		}
	}
}

// 场景: 信封 + 载荷编解码（不走网络，纯 codec）
func BenchmarkEnvelopeProto(b *testing.B) {
	benchmarkEnvelope(b, GetCodec(CodecTypeProto))
}

func BenchmarkEnvelopeJSON(b *testing.B) {
	benchmarkEnvelope(b, GetCodec(CodecTypeJSON))
}
