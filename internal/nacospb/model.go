package nacospb

// Result/error codes, matching the upstream Nacos server's convention
// (200 success, 500 generic error) rather than inventing a new scheme.
const (
	SuccessCode = 200
	ErrorCode   = 500
)

// ConfigModel is the module name stamped on config-related push
// notifications.
const ConfigModel = "config"

// Dispatch keys carried in Metadata.Type for the unary Request service.
// A type this server doesn't recognize gets NotFoundCode (302), matching
// the upstream "RequestHandler Not Found" behavior rather than a gRPC
// transport error.
const (
	TypeHealthCheckRequest       = "HealthCheckRequest"
	TypeServerCheckRequest       = "ServerCheckRequest"
	TypeConfigQueryRequest       = "ConfigQueryRequest"
	TypeConfigBatchListenRequest = "ConfigBatchListenRequest"

	TypeHealthCheckResponse             = "HealthCheckResponse"
	TypeServerCheckResponse             = "ServerCheckResponse"
	TypeConfigQueryResponse             = "ConfigQueryResponse"
	TypeConfigChangeBatchListenResponse = "ConfigChangeBatchListenResponse"
	TypeConfigChangeNotifyRequest       = "ConfigChangeNotifyRequest"
	TypeErrorResponse                   = "ErrorResponse"
)

const NotFoundCode = 302

// BaseResponse is the envelope every response carries: a result/error
// code pair plus an optional message, embedded by value in the more
// specific response types below.
type BaseResponse struct {
	ResultCode int    `json:"resultCode"`
	ErrorCode  int    `json:"errorCode,omitempty"`
	Message    string `json:"message,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
}

// SuccessResponse builds the bare BaseResponse a HealthCheckResponse
// carries: success, no message.
func SuccessResponse() BaseResponse {
	return BaseResponse{ResultCode: SuccessCode}
}

// ErrorResponseBody builds an error BaseResponse with code and message
// set, matching PayloadUtils::build_error_payload's ErrorResponse shape.
func ErrorResponseBody(code int, message string) BaseResponse {
	return BaseResponse{ResultCode: ErrorCode, ErrorCode: code, Message: message}
}

type ServerCheckResponse struct {
	BaseResponse
	ConnectionID string `json:"connectionId"`
}

type ConfigQueryRequest struct {
	RequestID string `json:"requestId,omitempty"`
	Module    string `json:"module,omitempty"`
	DataID    string `json:"dataId"`
	Group     string `json:"group"`
	Tenant    string `json:"tenant,omitempty"`
}

type ConfigQueryResponse struct {
	BaseResponse
	Content      string `json:"content,omitempty"`
	ContentType  string `json:"contentType,omitempty"`
	MD5          string `json:"md5,omitempty"`
	LastModified int64  `json:"lastModified,omitempty"`
}

// ConfigListenContext is one entry of a batch-listen request: the target
// the client wants to watch plus the md5 it last saw for it.
type ConfigListenContext struct {
	DataID string `json:"dataId"`
	Group  string `json:"group"`
	Tenant string `json:"tenant,omitempty"`
	MD5    string `json:"md5"`
}

type ConfigBatchListenRequest struct {
	RequestID            string                `json:"requestId,omitempty"`
	Module               string                `json:"module,omitempty"`
	Listen               bool                  `json:"listen"`
	ConfigListenContexts []ConfigListenContext `json:"configListenContexts"`
}

// ConfigContext names one changed target in a batch-listen response —
// no md5, the client is expected to re-fetch it.
type ConfigContext struct {
	DataID string `json:"dataId"`
	Group  string `json:"group"`
	Tenant string `json:"tenant,omitempty"`
}

type ConfigChangeBatchListenResponse struct {
	BaseResponse
	ChangedConfigs []ConfigContext `json:"changedConfigs"`
}

// ConfigChangeNotifyRequest is pushed down the BiRequestStream when the
// Target Manager publishes a change for a target this stream is assumed
// to care about (spec §4.4 step 3 — the server does not itself filter by
// subscription; see biStreamHandler.Handle in internal/server/grpc.go).
type ConfigChangeNotifyRequest struct {
	RequestID string `json:"requestId,omitempty"`
	Module    string `json:"module,omitempty"`
	DataID    string `json:"dataId"`
	Group     string `json:"group"`
	Tenant    string `json:"tenant,omitempty"`
}
