package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
)

// extensionName is registered with the Lambda Extensions API; it has no
// effect on behavior, only on what shows up in the platform's own logs.
const extensionName = "nacos-sidecar"

// registerResponse is the subset of the /register response body we need.
type registerResponse struct {
	FunctionName string `json:"functionName"`
}

// nextEvent is the subset of the /event/next response body we need: only
// eventType matters (INVOKE vs SHUTDOWN), per spec §2's "supplies
// invocation-start and shutdown events".
type nextEvent struct {
	EventType string `json:"eventType"`
}

const (
	eventTypeInvoke   = "INVOKE"
	eventTypeShutdown = "SHUTDOWN"
)

// Extension drives the AWS Lambda Extensions API event loop: register
// once, then repeatedly long-poll /event/next and trigger a refresh on
// every INVOKE event, exiting cleanly on SHUTDOWN. This is the
// "extension-event path" spec §4.5 requires to use the same Coordinator
// as the runtime-proxy path.
type Extension struct {
	runtimeAPI  string
	client      *http.Client
	coordinator *Coordinator
	log         *slog.Logger
	extensionID string
}

// NewExtension builds an Extension talking to the Lambda Extensions API
// at runtimeAPI (normally the value of AWS_LAMBDA_RUNTIME_API).
func NewExtension(runtimeAPI string, c *Coordinator, log *slog.Logger) *Extension {
	if log == nil {
		log = slog.Default()
	}
	return &Extension{
		runtimeAPI:  runtimeAPI,
		client:      &http.Client{},
		coordinator: c,
		log:         log,
	}
}

// Register performs the one-time /2020-01-01/extension/register call and
// stashes the Lambda-Extension-Identifier header for subsequent calls.
func (e *Extension) Register(ctx context.Context) error {
	body, _ := json.Marshal(struct {
		Events []string `json:"events"`
	}{Events: []string{eventTypeInvoke, eventTypeShutdown}})

	url := fmt.Sprintf("http://%s/2020-01-01/extension/register", e.runtimeAPI)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Lambda-Extension-Name", extensionName)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("register extension: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("register extension: unexpected status %d", resp.StatusCode)
	}

	var out registerResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)
	e.extensionID = resp.Header.Get("Lambda-Extension-Identifier")
	e.log.Info("extension registered", slog.String("function_name", out.FunctionName), slog.String("extension_id", e.extensionID))
	return nil
}

// Run executes the long-poll event loop until a SHUTDOWN event arrives
// or ctx is cancelled. Register must be called first.
func (e *Extension) Run(ctx context.Context) error {
	for {
		ev, err := e.next(ctx)
		if err != nil {
			return err
		}
		switch ev.EventType {
		case eventTypeInvoke:
			if err := e.coordinator.Trigger(ctx); err != nil {
				e.log.Warn("refresh trigger failed", slog.Any("error", err))
			}
		case eventTypeShutdown:
			e.log.Info("extension received shutdown")
			return nil
		default:
			e.log.Warn("unknown extension event type", slog.String("type", ev.EventType))
		}
	}
}

func (e *Extension) next(ctx context.Context) (nextEvent, error) {
	url := fmt.Sprintf("http://%s/2020-01-01/extension/event/next", e.runtimeAPI)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nextEvent{}, err
	}
	req.Header.Set("Lambda-Extension-Identifier", e.extensionID)

	resp, err := e.client.Do(req)
	if err != nil {
		return nextEvent{}, fmt.Errorf("poll next event: %w", err)
	}
	defer resp.Body.Close()

	var ev nextEvent
	if err := json.NewDecoder(resp.Body).Decode(&ev); err != nil {
		return nextEvent{}, fmt.Errorf("decode next event: %w", err)
	}
	return ev, nil
}

// RuntimeAPIFromEnv reads AWS_LAMBDA_RUNTIME_API, the address the
// Extensions API and the Runtime API both listen on inside the execution
// environment.
func RuntimeAPIFromEnv() string {
	return os.Getenv("AWS_LAMBDA_RUNTIME_API")
}
