package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"

	"github.com/aws-samples/nacos-lambda-sidecar/internal/config"
	"github.com/aws-samples/nacos-lambda-sidecar/internal/manager"
	"github.com/aws-samples/nacos-lambda-sidecar/internal/nacospb"
)

// GRPCServer is the C4 gRPC front-end (spec §4.4): the unary Request
// service (HealthCheck/ServerCheck/ConfigQuery/ConfigBatchListen) plus
// the bidirectional push stream, both dispatched off the single Payload
// envelope defined in internal/nacospb.
type GRPCServer struct {
	provider config.Provider
	mgr      *manager.Manager
	log      *slog.Logger
}

// NewGRPCServer builds the gRPC front-end described in spec §4.4.
func NewGRPCServer(provider config.Provider, mgr *manager.Manager, log *slog.Logger) *GRPCServer {
	if log == nil {
		log = slog.Default()
	}
	return &GRPCServer{provider: provider, mgr: mgr, log: log}
}

// Register wires both hand-assembled service descriptors (nacospb's
// RequestServiceDesc and BiRequestStreamServiceDesc) onto srv, the same
// way generated *_grpc.pb.go code calls RegisterXxxServer — just without
// a .proto to generate it from (see internal/nacospb/service.go).
func (s *GRPCServer) Register(srv *grpc.Server) {
	srv.RegisterService(&nacospb.RequestServiceDesc, requestHandler{s})
	srv.RegisterService(&nacospb.BiRequestStreamServiceDesc, biStreamHandler{s})
}

type requestHandler struct{ s *GRPCServer }

// Handle implements nacospb.RequestHandler: decode the JSON body keyed by
// Metadata.Type, run the matching business logic, and always return a
// Payload — a provider or decode error is reported as an ErrorResponse
// body, never as a gRPC transport error (spec §4.4, matching the
// upstream convention noted in RequestServerImpl::handle).
func (h requestHandler) Handle(ctx context.Context, payload *nacospb.Payload) *nacospb.Payload {
	switch payload.BodyType() {
	case nacospb.TypeHealthCheckRequest:
		return jsonPayload(nacospb.TypeHealthCheckResponse, nacospb.SuccessResponse())

	case nacospb.TypeServerCheckRequest:
		return jsonPayload(nacospb.TypeServerCheckResponse, nacospb.ServerCheckResponse{
			BaseResponse: nacospb.SuccessResponse(),
			ConnectionID: "",
		})

	case nacospb.TypeConfigQueryRequest:
		return h.handleConfigQuery(ctx, payload)

	case nacospb.TypeConfigBatchListenRequest:
		return h.handleConfigBatchListen(ctx, payload)

	default:
		t := payload.BodyType()
		h.s.log.Warn("InvokerHandler not found", slog.String("type", t))
		return jsonPayload(nacospb.TypeErrorResponse, nacospb.BaseResponse{
			ResultCode: nacospb.NotFoundCode,
			Message:    fmt.Sprintf("%s RequestHandler Not Found", t),
		})
	}
}

func (h requestHandler) handleConfigQuery(ctx context.Context, payload *nacospb.Payload) *nacospb.Payload {
	var req nacospb.ConfigQueryRequest
	if err := json.Unmarshal(payload.BodyBytes(), &req); err != nil {
		return jsonPayload(nacospb.TypeErrorResponse, nacospb.ErrorResponseBody(nacospb.ErrorCode, err.Error()))
	}

	h.s.log.Debug("ConfigQueryRequest", slog.String("data_id", req.DataID), slog.String("group", req.Group), slog.String("tenant", req.Tenant))

	content, err := h.s.provider.Get(ctx, req.DataID, req.Group, req.Tenant, false)
	if err != nil {
		resp := nacospb.ConfigQueryResponse{
			BaseResponse: nacospb.BaseResponse{
				ResultCode: nacospb.ErrorCode,
				ErrorCode:  nacospb.ErrorCode,
				Message:    err.Error(),
				RequestID:  req.RequestID,
			},
		}
		return jsonPayload(nacospb.TypeErrorResponse, resp)
	}
	resp := nacospb.ConfigQueryResponse{
		BaseResponse: nacospb.BaseResponse{ResultCode: nacospb.SuccessCode, RequestID: req.RequestID},
		Content:      content.Content(),
		ContentType:  "text",
		LastModified: 0,
		MD5:          content.MD5(),
	}
	return jsonPayload(nacospb.TypeConfigQueryResponse, resp)
}

func (h requestHandler) handleConfigBatchListen(ctx context.Context, payload *nacospb.Payload) *nacospb.Payload {
	var req nacospb.ConfigBatchListenRequest
	if err := json.Unmarshal(payload.BodyBytes(), &req); err != nil {
		return jsonPayload(nacospb.TypeErrorResponse, nacospb.ErrorResponseBody(nacospb.ErrorCode, err.Error()))
	}

	resp := nacospb.ConfigChangeBatchListenResponse{
		BaseResponse: nacospb.BaseResponse{ResultCode: nacospb.SuccessCode, RequestID: req.RequestID},
	}
	for _, item := range req.ConfigListenContexts {
		h.s.log.Debug("ConfigBatchListenRequest", slog.String("data_id", item.DataID), slog.String("group", item.Group), slog.String("tenant", item.Tenant))
		target := config.NewTarget(item.DataID, item.Group, item.Tenant)

		content, err := h.s.provider.Get(ctx, item.DataID, item.Group, item.Tenant, false)
		if err != nil && !errors.Is(err, config.ErrNotFound) {
			h.s.log.Warn("batch listen: provider read failed", slog.String("data_id", item.DataID), slog.Any("error", err))
		}
		if err == nil && content.MD5() != item.MD5 {
			resp.ChangedConfigs = append(resp.ChangedConfigs, nacospb.ConfigContext{
				DataID: item.DataID, Group: item.Group, Tenant: item.Tenant,
			})
		}
		if regErr := h.s.mgr.Register(ctx, target, item.MD5); regErr != nil {
			h.s.log.Warn("batch listen: register failed", slog.Any("error", regErr))
		}
	}
	return jsonPayload(nacospb.TypeConfigChangeBatchListenResponse, resp)
}

func jsonPayload(typ string, v interface{}) *nacospb.Payload {
	body, err := json.Marshal(v)
	if err != nil {
		// v is always one of our own response structs; json.Marshal only
		// fails on unsupported types (channels, funcs), which none of
		// these carry.
		panic(err)
	}
	return nacospb.NewPayload(typ, body)
}

// nextRequestID advances a bi-stream's per-stream requestId counter: a
// monotonic id in [1, 2^63) that wraps to 0 once it reaches the upper
// bound, matching the original's own wraparound check exactly. Extracted
// as a pure function so the wraparound itself is directly testable
// without looping a stream through 2^63 pushes.
func nextRequestID(cur uint64) uint64 {
	if cur >= 1<<63-1 {
		return 0
	}
	return cur + 1
}

type biStreamHandler struct{ s *GRPCServer }

// Handle implements nacospb.BiStreamHandler: it owns the bi-stream for
// its entire lifetime, subscribing to the Target Manager's changed
// broadcast and pushing a ConfigChangeNotifyRequest for every target it
// receives until the client disconnects (stream.Context() is cancelled).
// Like the Rust reference it does not filter by what this particular
// client batch-listened for — the client's own dataId/group/tenant check
// on receipt is what the real Nacos SDK already does.
func (h biStreamHandler) Handle(stream grpc.ServerStream) error {
	events, cancel := h.s.mgr.Subscribe()
	defer cancel()

	var nextID uint64
	requestID := func() string {
		nextID = nextRequestID(nextID)
		return fmt.Sprintf("%d", nextID)
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			notify := nacospb.ConfigChangeNotifyRequest{
				RequestID: requestID(),
				Module:    nacospb.ConfigModel,
				DataID:    ev.Target.DataID,
				Group:     ev.Target.Group,
				Tenant:    ev.Target.Tenant,
			}
			ev.Ack()
			payload := jsonPayload(nacospb.TypeConfigChangeNotifyRequest, notify)
			if err := stream.SendMsg(payload); err != nil {
				h.s.log.Warn("bi-stream send failed", slog.Any("error", err))
				return err
			}
		}
	}
}
