package classify

import "encoding/json"

// jsonCodecName is the gRPC content-subtype this codec's calls carry: the
// client forces the codec per call with grpc.ForceCodec, which sends
// Name() as the subtype. Real protobuf traffic on the same process uses the
// "proto" subtype, so "json-classify" never collides with it.
const jsonCodecName = "json-classify"

// jsonCodec implements google.golang.org/grpc/encoding.Codec by marshaling
// every message as JSON instead of protobuf wire bytes. This lets the
// classification client speak real gRPC — framing, compression, deadlines,
// streaming — without a generated protobuf stub package, which was never
// part of this module's inputs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return jsonCodecName
}
