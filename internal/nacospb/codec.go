package nacospb

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec replaces grpc-go's built-in "proto" codec. grpc-go selects a
// codec by content-subtype name and defaults to "proto" when a client
// sets none, so registering under that same name is what lets unary and
// streaming calls built from a hand-assembled grpc.ServiceDesc (service.go)
// work without ever generating protobuf marshal code for Payload: every
// message this server exchanges is a *Payload, and *Payload is plain
// JSON-tagged Go, so there is nothing protobuf-specific left to do at the
// wire layer.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "proto" }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
