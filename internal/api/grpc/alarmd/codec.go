package alarmd

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// CodecName is the gRPC content subtype the daemon speaks.
const CodecName = "alarmjson"

// codec encodes protobuf well-known types with protojson and the daemon's
// own records with encoding/json.
type codec struct{}

func init() { //nolint:gochecknoinits // gRPC codecs are registered globally.
	encoding.RegisterCodec(codec{})
}

// Marshal implements encoding.Codec.
func (codec) Marshal(v any) ([]byte, error) {
	if m, ok := v.(proto.Message); ok {
		return protojson.Marshal(m)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}

	return data, nil
}

// Unmarshal implements encoding.Codec.
func (codec) Unmarshal(data []byte, v any) error {
	if m, ok := v.(proto.Message); ok {
		return protojson.Unmarshal(data, m)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %T: %w", v, err)
	}

	return nil
}

// Name implements encoding.Codec.
func (codec) Name() string {
	return CodecName
}
