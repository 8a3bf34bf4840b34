// Package nacospb hand-assembles the gRPC transport (spec §4.4) that the
// Nacos wire protocol uses: a single Payload envelope, dispatched by a
// metadata.type string rather than by distinct RPC methods, carried over
// two services ("Request" for unary calls, "BiRequestStream" for the
// server-push stream).
//
// There is no .proto file behind this package and nothing here is
// generated: the upstream protocol's Payload is reused as-is (it is just
// a Metadata header plus a google.protobuf.Any body), so rather than
// hand-authoring a new protoreflect-backed message type we model it as a
// plain Go struct carrying a real google.golang.org/protobuf well-known
// type (anypb.Any) for the body, and pair it with a codec (codec.go) that
// (de)serializes the whole envelope as JSON instead of the protobuf wire
// format. Business payloads (ConfigQueryRequest and friends, in model.go)
// are plain JSON structs placed directly in that Any's Value bytes, the
// same way the original server left type_url empty and relied entirely
// on metadata.type to say what the bytes mean.
package nacospb

import "google.golang.org/protobuf/types/known/anypb"

// Metadata is the Payload header: type names which business message the
// body holds (see the Type* constants in model.go), client_ip is
// informational, and headers carries any request-scoped key/value pairs
// a caller attaches (unused by this server but preserved on the wire).
type Metadata struct {
	Type     string            `json:"type"`
	ClientIP string            `json:"clientIp,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// Payload is the single message type both gRPC services exchange.
type Payload struct {
	Metadata *Metadata  `json:"metadata,omitempty"`
	Body     *anypb.Any `json:"body,omitempty"`
}

// NewPayload builds a Payload whose body is the JSON encoding of val,
// tagged with typ in the metadata only; the Any's type_url is left blank,
// matching the upstream server — callers dispatch purely on
// metadata.Type, never on type_url.
func NewPayload(typ string, val []byte) *Payload {
	return &Payload{
		Metadata: &Metadata{Type: typ},
		Body:     &anypb.Any{Value: val},
	}
}

// BodyType returns the dispatch key carried in metadata.type, or "" if
// the payload has no metadata at all.
func (p *Payload) BodyType() string {
	if p == nil || p.Metadata == nil {
		return ""
	}
	return p.Metadata.Type
}

// BodyBytes returns the raw body bytes, or nil if the payload has no body.
func (p *Payload) BodyBytes() []byte {
	if p == nil || p.Body == nil {
		return nil
	}
	return p.Body.Value
}
