package config

import (
	"context"
	"errors"
)

// Error kinds a ConfigProvider can return. The front-ends tell NotFound
// apart from the other kinds only to decide whether to log it: the HTTP
// routes answer every provider error with their not-found response, and
// the gRPC ConfigQuery answers every one with an error envelope.
var (
	// ErrNotFound means the entry does not exist at the source of truth
	// (file missing, upstream 404).
	ErrNotFound = errors.New("config: not found")
	// ErrIO means a transient failure talking to the source of truth.
	ErrIO = errors.New("config: i/o failure")
	// ErrDecode means the content could not be decoded as UTF-8 text.
	ErrDecode = errors.New("config: decode failure")
)

// Provider is the polymorphic source of truth for a single Target (spec
// §4.1). The two implementations in this package (FSProvider,
// UpstreamProvider) are the only variants; callers depend on this
// interface, never on a concrete type.
type Provider interface {
	// Get resolves one entry. With refresh=false the provider may answer
	// from cache; it must never answer staler than the most recent
	// refresh=true call for the same key. With refresh=true it must
	// consult the source of truth.
	Get(ctx context.Context, dataID, group, tenant string, refresh bool) (ConfigContent, error)
}
