package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"

	"github.com/aws-samples/nacos-lambda-sidecar/internal/config"
	"github.com/aws-samples/nacos-lambda-sidecar/internal/manager"
	"github.com/aws-samples/nacos-lambda-sidecar/internal/nacospb"
)

func startGRPC(t *testing.T, p config.Provider) (requestHandler, *manager.Manager, func()) {
	t.Helper()
	mgr := manager.New(p, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go mgr.Run(ctx)
	s := NewGRPCServer(p, mgr, nil)
	return requestHandler{s}, mgr, cancel
}

func TestGRPC_HealthCheck(t *testing.T) {
	p := newFakeProvider()
	h, _, cancel := startGRPC(t, p)
	defer cancel()

	in := nacospb.NewPayload(nacospb.TypeHealthCheckRequest, nil)
	out := h.Handle(context.Background(), in)

	require.Equal(t, nacospb.TypeHealthCheckResponse, out.BodyType())
	var resp nacospb.BaseResponse
	require.NoError(t, json.Unmarshal(out.BodyBytes(), &resp))
	require.Equal(t, nacospb.SuccessCode, resp.ResultCode)
}

func TestGRPC_ServerCheck(t *testing.T) {
	p := newFakeProvider()
	h, _, cancel := startGRPC(t, p)
	defer cancel()

	in := nacospb.NewPayload(nacospb.TypeServerCheckRequest, nil)
	out := h.Handle(context.Background(), in)

	require.Equal(t, nacospb.TypeServerCheckResponse, out.BodyType())
	var resp nacospb.ServerCheckResponse
	require.NoError(t, json.Unmarshal(out.BodyBytes(), &resp))
	require.Equal(t, nacospb.SuccessCode, resp.ResultCode)
	require.Equal(t, "", resp.ConnectionID)
}

func TestGRPC_ConfigQuery_Success(t *testing.T) {
	p := newFakeProvider()
	p.set("d1", "g1", "", "a=1")
	h, _, cancel := startGRPC(t, p)
	defer cancel()

	reqBody, _ := json.Marshal(nacospb.ConfigQueryRequest{DataID: "d1", Group: "g1"})
	in := nacospb.NewPayload(nacospb.TypeConfigQueryRequest, reqBody)
	out := h.Handle(context.Background(), in)

	require.Equal(t, nacospb.TypeConfigQueryResponse, out.BodyType())
	var resp nacospb.ConfigQueryResponse
	require.NoError(t, json.Unmarshal(out.BodyBytes(), &resp))
	require.Equal(t, nacospb.SuccessCode, resp.ResultCode)
	require.Equal(t, "a=1", resp.Content)
	require.Equal(t, "text", resp.ContentType)
}

func TestGRPC_ConfigQuery_NotFound(t *testing.T) {
	p := newFakeProvider()
	h, _, cancel := startGRPC(t, p)
	defer cancel()

	reqBody, _ := json.Marshal(nacospb.ConfigQueryRequest{DataID: "missing", Group: "g1"})
	in := nacospb.NewPayload(nacospb.TypeConfigQueryRequest, reqBody)
	out := h.Handle(context.Background(), in)

	require.Equal(t, nacospb.TypeErrorResponse, out.BodyType())
	var resp nacospb.ConfigQueryResponse
	require.NoError(t, json.Unmarshal(out.BodyBytes(), &resp))
	require.Equal(t, nacospb.ErrorCode, resp.ResultCode)
}

func TestGRPC_BatchListen_ReportsChangedAndRegisters(t *testing.T) {
	p := newFakeProvider()
	p.set("d1", "g1", "", "a=2")
	h, mgr, cancel := startGRPC(t, p)
	defer cancel()

	reqBody, _ := json.Marshal(nacospb.ConfigBatchListenRequest{
		ConfigListenContexts: []nacospb.ConfigListenContext{
			{DataID: "d1", Group: "g1", MD5: "stale-md5"},
		},
	})
	in := nacospb.NewPayload(nacospb.TypeConfigBatchListenRequest, reqBody)
	out := h.Handle(context.Background(), in)

	require.Equal(t, nacospb.TypeConfigChangeBatchListenResponse, out.BodyType())
	var resp nacospb.ConfigChangeBatchListenResponse
	require.NoError(t, json.Unmarshal(out.BodyBytes(), &resp))
	require.Equal(t, nacospb.SuccessCode, resp.ResultCode)
	require.Len(t, resp.ChangedConfigs, 1)
	require.Equal(t, "d1", resp.ChangedConfigs[0].DataID)

	// The registration landed on the manager with the client's stale md5,
	// so a refresh publishes a change for d1; the cycle drains once the
	// client re-registers with the current md5.
	events, unsub := mgr.Subscribe()
	defer unsub()
	done, err := mgr.Refresh(context.Background())
	require.NoError(t, err)
	select {
	case ev := <-events:
		require.Equal(t, config.NewTarget("d1", "g1", ""), ev.Target)
		ev.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("expected a change event for the batch-listened target")
	}
	require.NoError(t, mgr.Register(context.Background(), config.NewTarget("d1", "g1", ""), config.NewConfigContent("a=2").MD5()))
	for range done {
	}
}

func TestNextRequestID_WrapsAtUpperBound(t *testing.T) {
	require.EqualValues(t, 1, nextRequestID(0))
	require.EqualValues(t, 1<<63-1, nextRequestID(1<<63-2))
	require.EqualValues(t, 0, nextRequestID(1<<63-1))
	require.EqualValues(t, 1, nextRequestID(0))
}

// fakeServerStream is a minimal grpc.ServerStream fake: it has no wire
// transport at all, just a cancellable Context and a channel that
// captures every message the handler sends, so biStreamHandler.Handle
// can be driven end to end without a real *grpc.Server/ClientConn pair.
type fakeServerStream struct {
	ctx  context.Context
	sent chan *nacospb.Payload
}

func (f *fakeServerStream) SetHeader(metadata.MD) error { return nil }
func (f *fakeServerStream) SendHeader(metadata.MD) error { return nil }
func (f *fakeServerStream) SetTrailer(metadata.MD)       {}
func (f *fakeServerStream) Context() context.Context     { return f.ctx }

func (f *fakeServerStream) RecvMsg(m interface{}) error {
	<-f.ctx.Done()
	return f.ctx.Err()
}

func (f *fakeServerStream) SendMsg(m interface{}) error {
	f.sent <- m.(*nacospb.Payload)
	return nil
}

func TestGRPC_BiStream_PushesNotifyOnRefresh(t *testing.T) {
	p := newFakeProvider()
	p.set("d1", "g1", "", "a=1")
	p.set("d2", "g1", "", "b=1")
	mgr := manager.New(p, nil)
	mgrCtx, mgrCancel := context.WithCancel(context.Background())
	go mgr.Run(mgrCtx)
	defer mgrCancel()

	s := NewGRPCServer(p, mgr, nil)
	h := biStreamHandler{s}

	streamCtx, streamCancel := context.WithCancel(context.Background())
	defer streamCancel()
	stream := &fakeServerStream{ctx: streamCtx, sent: make(chan *nacospb.Payload, 8)}

	handleDone := make(chan error, 1)
	go func() { handleDone <- h.Handle(stream) }()

	t1 := config.NewTarget("d1", "g1", "")
	t2 := config.NewTarget("d2", "g1", "")
	require.NoError(t, mgr.Register(mgrCtx, t1, "stale-1"))
	require.NoError(t, mgr.Register(mgrCtx, t2, "stale-2"))

	done, err := mgr.Refresh(mgrCtx)
	require.NoError(t, err)

	var notifies []nacospb.ConfigChangeNotifyRequest
	for i := 0; i < 2; i++ {
		select {
		case payload := <-stream.sent:
			require.Equal(t, nacospb.TypeConfigChangeNotifyRequest, payload.BodyType())
			var notify nacospb.ConfigChangeNotifyRequest
			require.NoError(t, json.Unmarshal(payload.BodyBytes(), &notify))
			notifies = append(notifies, notify)
		case <-time.After(2 * time.Second):
			t.Fatalf("expected 2 bi-stream pushes, got %d", len(notifies))
		}
	}

	require.Equal(t, nacospb.ConfigModel, notifies[0].Module)
	require.ElementsMatch(t, []string{"d1", "d2"}, []string{notifies[0].DataID, notifies[1].DataID})
	// requestId is a numeric, monotonically increasing per-stream counter
	// (spec §4.4): the two notifications on this one stream get "1" then "2".
	require.ElementsMatch(t, []string{"1", "2"}, []string{notifies[0].RequestID, notifies[1].RequestID})

	// The cycle drains once both clients catch up with the current md5s.
	require.NoError(t, mgr.Register(mgrCtx, t1, config.NewConfigContent("a=1").MD5()))
	require.NoError(t, mgr.Register(mgrCtx, t2, config.NewConfigContent("b=1").MD5()))
	for range done {
	}

	streamCancel()
	select {
	case err := <-handleDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Handle did not return after stream context cancellation")
	}
}

func TestGRPC_UnknownType(t *testing.T) {
	p := newFakeProvider()
	h, _, cancel := startGRPC(t, p)
	defer cancel()

	in := nacospb.NewPayload("SomeUnknownRequest", nil)
	out := h.Handle(context.Background(), in)

	var resp nacospb.BaseResponse
	require.NoError(t, json.Unmarshal(out.BodyBytes(), &resp))
	require.Equal(t, nacospb.NotFoundCode, resp.ResultCode)
	require.Equal(t, "SomeUnknownRequest RequestHandler Not Found", resp.Message)
}
