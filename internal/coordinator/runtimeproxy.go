package coordinator

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
)

// nextPath is the Lambda Runtime API path this proxy intercepts: the
// function's own runtime client polls it for the next invocation.
const nextPath = "/2018-06-01/runtime/invocation/next"

// RuntimeProxy is the optional second trigger path from spec §4.5: a
// reverse proxy that sits in front of the real Lambda Runtime API
// (AWS_LAMBDA_RUNTIME_API) on SYNC_PORT, refreshing after it has
// received the upstream response but before handing it back to the
// function code, so the function always observes a freshly-refreshed
// cache on its very first read of an invocation.
type RuntimeProxy struct {
	coordinator *Coordinator
	upstream    *url.URL
	log         *slog.Logger
}

// NewRuntimeProxy builds a proxy in front of runtimeAPI ("host:port",
// normally AWS_LAMBDA_RUNTIME_API).
func NewRuntimeProxy(runtimeAPI string, c *Coordinator, log *slog.Logger) *RuntimeProxy {
	if log == nil {
		log = slog.Default()
	}
	return &RuntimeProxy{
		coordinator: c,
		upstream:    &url.URL{Scheme: "http", Host: runtimeAPI},
		log:         log,
	}
}

// Handler builds the http.Handler to serve on SYNC_PORT. Every request
// is forwarded unchanged to the real runtime API; only a response to
// nextPath triggers a refresh, once the upstream response headers have
// arrived (ModifyResponse runs before the body is copied) and before
// anything is written back to the function's runtime client.
func (p *RuntimeProxy) Handler() http.Handler {
	proxy := httputil.NewSingleHostReverseProxy(p.upstream)
	proxy.ModifyResponse = func(resp *http.Response) error {
		if isNextInvocation(resp.Request) {
			if err := p.coordinator.Trigger(resp.Request.Context()); err != nil {
				p.log.Warn("runtime-proxy refresh trigger failed", slog.Any("error", err))
			}
		}
		return nil
	}
	return proxy
}

func isNextInvocation(req *http.Request) bool {
	return req.Method == http.MethodGet && strings.HasSuffix(req.URL.Path, nextPath)
}
