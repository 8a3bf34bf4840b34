// Package server implements the HTTP and gRPC front-ends (spec §4.3,
// §4.4): the HTTP long-poll and the gRPC batch-listen both turn a client
// request into a registration on the Target Manager plus a refresh=false
// provider read. The HTTP long-poll waits on a subscription to the
// manager's changed broadcast filtered to its own targets; the gRPC
// bi-stream pushes every change it receives, unfiltered.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/aws-samples/nacos-lambda-sidecar/internal/config"
	"github.com/aws-samples/nacos-lambda-sidecar/internal/manager"
)

// Fixed response bodies, byte-exact per spec §6.
const (
	dataIDNotFound1 = "caused: Required request parameter &#39;dataId&#39; for method parameter type String is not present;"
	groupNotFound1  = "caused: Required request parameter &#39;group&#39; for method parameter type String is not present;"
	dataIDNotFound2 = `{"code":10000,"message":"parameter missing","data":"Required request parameter 'dataId' for method parameter type String is not present"}`
	groupNotFound2  = `{"code":10000,"message":"parameter missing","data":"Required request parameter 'group' for method parameter type String is not present"}`
	configNotFound2 = `{"code":20004,"message":"resource not found","data":"config data not exist"}`
)

const defaultLongPollTimeout = 30 * time.Second

// HTTPServer is the C3 HTTP front-end: it never touches the targets map
// directly, only through Manager's channel-based API.
type HTTPServer struct {
	provider config.Provider
	mgr      *manager.Manager
	log      *slog.Logger
}

// NewHTTPServer builds the HTTP front-end described in spec §4.3.
func NewHTTPServer(provider config.Provider, mgr *manager.Manager, log *slog.Logger) *HTTPServer {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPServer{provider: provider, mgr: mgr, log: log}
}

// Handler builds the gorilla/mux router serving the three Nacos routes
// plus a catch-all 404, matching the router-as-http.Handler shape of
// ipiton-alert-history-service's internal/api/router.go rather
// than registering routes directly on http.DefaultServeMux.
func (s *HTTPServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/nacos/v1/cs/configs", s.handleV1Get).Methods(http.MethodGet)
	r.HandleFunc("/nacos/v2/cs/config", s.handleV2Get).Methods(http.MethodGet)
	r.HandleFunc("/nacos/v1/cs/configs/listener", s.handleListener).Methods(http.MethodPost)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.log.Warn("unhandled request", slog.String("path", req.URL.Path))
		writeExact(w, http.StatusNotFound, "Not Found")
	})
	return r
}

// writeExact writes body byte-for-byte with no trailing newline, unlike
// http.Error (which appends one) — several of spec §6's fixed strings
// are asserted byte-exact by real Nacos clients.
func writeExact(w http.ResponseWriter, status int, body string) {
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// nonEmpty mirrors the Rust get_non_empty: an absent or empty-string
// query parameter is treated as missing, not as an empty tenant.
func nonEmpty(values url.Values, key string) (string, bool) {
	v := values.Get(key)
	if v == "" {
		return "", false
	}
	return v, true
}

func (s *HTTPServer) handleV1Get(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	dataID, ok := nonEmpty(q, "dataId")
	if !ok {
		writeExact(w, http.StatusInternalServerError, dataIDNotFound1)
		return
	}
	group, ok := nonEmpty(q, "group")
	if !ok {
		writeExact(w, http.StatusInternalServerError, groupNotFound1)
		return
	}
	tenant, _ := nonEmpty(q, "tenant")

	content, err := s.provider.Get(req.Context(), dataID, group, tenant, false)
	if err != nil {
		if !errors.Is(err, config.ErrNotFound) {
			s.log.Error("v1 get failed", slog.String("data_id", dataID), slog.String("group", group), slog.Any("error", err))
		}
		writeExact(w, http.StatusNotFound, "Not Found")
		return
	}
	writeExact(w, http.StatusOK, content.Content())
}

type v2Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (s *HTTPServer) handleV2Get(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	dataID, ok := nonEmpty(q, "dataId")
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		writeExact(w, http.StatusBadRequest, dataIDNotFound2)
		return
	}
	group, ok := nonEmpty(q, "group")
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		writeExact(w, http.StatusBadRequest, groupNotFound2)
		return
	}
	// namespaceId replaces tenant in v2; "tag" is an explicit non-goal (spec §1).
	tenant, _ := nonEmpty(q, "namespaceId")

	content, err := s.provider.Get(req.Context(), dataID, group, tenant, false)
	if err != nil {
		if !errors.Is(err, config.ErrNotFound) {
			s.log.Error("v2 get failed", slog.String("data_id", dataID), slog.String("group", group), slog.Any("error", err))
		}
		w.Header().Set("Content-Type", "application/json")
		writeExact(w, http.StatusNotFound, configNotFound2)
		return
	}
	body, _ := json.Marshal(v2Envelope{Code: 0, Message: "success", Data: content.Content()})
	w.Header().Set("Content-Type", "application/json")
	writeExact(w, http.StatusOK, string(body))
}

// listenRecord is one \x02-separated record from the Listening-Configs
// form field.
type listenRecord struct {
	target config.Target
	md5    string
}

func parseListeningConfigs(raw string) []listenRecord {
	var records []listenRecord
	for _, rec := range strings.Split(raw, "\x01") {
		if rec == "" {
			continue
		}
		parts := strings.Split(rec, "\x02")
		if len(parts) < 3 {
			continue
		}
		tenant := ""
		if len(parts) >= 4 {
			tenant = parts[3]
		}
		records = append(records, listenRecord{
			target: config.NewTarget(parts[0], parts[1], tenant),
			md5:    parts[2],
		})
	}
	return records
}

func (s *HTTPServer) handleListener(w http.ResponseWriter, req *http.Request) {
	const probeModifyError = "caused: invalid probeModify;"
	if err := req.ParseForm(); err != nil {
		writeExact(w, http.StatusBadRequest, probeModifyError)
		return
	}
	raw := req.PostForm.Get("Listening-Configs")
	if raw == "" {
		writeExact(w, http.StatusBadRequest, probeModifyError)
		return
	}
	records := parseListeningConfigs(raw)
	if len(records) == 0 {
		writeExact(w, http.StatusBadRequest, probeModifyError)
		return
	}

	// Subscribe before any provider read (step 2) so a change published
	// between subscribing and the immediate-check loop below is never
	// lost to a race.
	events, cancel := s.mgr.Subscribe()
	defer cancel()

	watched := make(map[config.Target]struct{}, len(records))
	for _, rec := range records {
		watched[rec.target] = struct{}{}
	}

	ctx := req.Context()
	var mu sync.Mutex
	var updateNow []config.Target
	var wg sync.WaitGroup
	for _, rec := range records {
		rec := rec
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.mgr.Register(ctx, rec.target, rec.md5); err != nil {
				return
			}
			content, err := s.provider.Get(ctx, rec.target.DataID, rec.target.Group, rec.target.Tenant, false)
			if err != nil {
				return
			}
			if content.MD5() != rec.md5 {
				mu.Lock()
				updateNow = append(updateNow, rec.target)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(updateNow) > 0 {
		var sb strings.Builder
		for _, t := range updateNow {
			sb.WriteString(t.ParamString())
		}
		writeListenerResponse(w, sb.String())
		return
	}

	timeout := defaultLongPollTimeout
	if raw := req.Header.Get("Long-Pulling-Timeout"); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
			timeout = time.Duration(ms) * time.Millisecond
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			s.log.Debug("listener timeout")
			writeListenerResponse(w, "")
			return
		case ev, ok := <-events:
			// A timeout that fired at the same tick as a change event must
			// win (spec §4.3 step 5's "timeout-first" tie-break); select
			// picks pseudo-randomly between two ready cases, so re-check
			// timer.C non-blockingly before acting on the change.
			select {
			case <-timer.C:
				if ok {
					ev.Ack()
				}
				s.log.Debug("listener timeout")
				writeListenerResponse(w, "")
				return
			default:
			}
			if !ok {
				writeListenerResponse(w, "")
				return
			}
			if _, watching := watched[ev.Target]; !watching {
				ev.Ack()
				continue
			}
			ev.Ack()
			writeListenerResponse(w, ev.Target.ParamString())
			return
		}
	}
}

// writeListenerResponse percent-encodes body (spec §14 open-question 1:
// the listener body is percent-encoded to match real Nacos clients) and
// writes it with a 200 status.
func writeListenerResponse(w http.ResponseWriter, body string) {
	writeExact(w, http.StatusOK, percentEncode(body))
}

// percentEncode mimics Rust's urlencoding::encode (RFC 3986 unreserved
// characters left as-is, every other byte escaped). It differs from
// url.QueryEscape only for space, which QueryEscape writes as "+" instead
// of "%20"; control bytes such as "\x01"/"\x02" come out as %01/%02 in
// both.
func percentEncode(s string) string {
	const hex = "0123456789ABCDEF"
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '_' || c == '.' || c == '~' {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(hex[c>>4])
		sb.WriteByte(hex[c&0xf])
	}
	return sb.String()
}
