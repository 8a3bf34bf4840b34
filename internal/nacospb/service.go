package nacospb

import (
	"context"

	"google.golang.org/grpc"
)

// RequestHandler answers one unary Request-service call: decode payload,
// run business logic, return the Payload to send back (never an error —
// a business-logic failure is reported as an ErrorResponse Payload, per
// the upstream convention of never surfacing a gRPC transport error for
// anything short of total bincode/json corruption).
type RequestHandler interface {
	Handle(ctx context.Context, payload *Payload) *Payload
}

// RequestHandlerFunc adapts a function to RequestHandler.
type RequestHandlerFunc func(ctx context.Context, payload *Payload) *Payload

func (f RequestHandlerFunc) Handle(ctx context.Context, payload *Payload) *Payload {
	return f(ctx, payload)
}

// BiStreamHandler answers the single BiRequestStream-service call: it
// owns the duration of the stream and pushes Payloads until ctx is done
// or it decides to stop (a client hanging up cancels ctx).
type BiStreamHandler interface {
	Handle(stream grpc.ServerStream) error
}

// BiStreamHandlerFunc adapts a function to BiStreamHandler.
type BiStreamHandlerFunc func(stream grpc.ServerStream) error

func (f BiStreamHandlerFunc) Handle(stream grpc.ServerStream) error { return f(stream) }

// requestUnaryHandler adapts a RequestHandler to the shape
// grpc.MethodDesc.Handler requires, decoding the incoming Payload with
// whatever codec/interceptor chain the server is configured with rather
// than assuming our jsonCodec is the only one ever in play.
func requestUnaryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Payload)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := srv.(RequestHandler)
	if interceptor == nil {
		return handler.Handle(ctx, in), nil
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/Request/request"}
	wrapped := func(ctx context.Context, req interface{}) (interface{}, error) {
		return handler.Handle(ctx, req.(*Payload)), nil
	}
	return interceptor(ctx, in, info, wrapped)
}

// RequestServiceDesc is the hand-assembled equivalent of what protoc
// would generate for the upstream protocol's "Request" service: a single
// unary RPC named "request" taking and returning a Payload, dispatched
// on metadata.type inside the handler rather than on distinct methods.
// There is no .proto source to generate this from — the Payload type,
// service name, and method name are taken directly from the upstream
// wire protocol's own definitions, which is the one piece of this
// package that could not be learned from the reference Go repos; the
// ServiceDesc/codec mechanism itself is exactly what grpc-go's generated
// code produces, just assembled directly against the grpc-go API instead
// of by protoc-gen-go-grpc.
var RequestServiceDesc = grpc.ServiceDesc{
	ServiceName: "Request",
	HandlerType: (*RequestHandler)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "request",
			Handler:    requestUnaryHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "nacospb/request.proto",
}

// biRequestStreamHandler adapts a BiStreamHandler to grpc.StreamHandler.
func biRequestStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(BiStreamHandler).Handle(stream)
}

// BiRequestStreamServiceDesc is the hand-assembled "BiRequestStream"
// service: one bidirectional-streaming RPC named "requestBiStream".
var BiRequestStreamServiceDesc = grpc.ServiceDesc{
	ServiceName: "BiRequestStream",
	HandlerType: (*BiStreamHandler)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "requestBiStream",
			Handler:       biRequestStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "nacospb/bi_request_stream.proto",
}
