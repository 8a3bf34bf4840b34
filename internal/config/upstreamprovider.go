package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// UpstreamProvider is the upstream-passthrough ConfigProvider variant
// (spec §4.1): it proxies GETs to a real Nacos server and treats the
// upstream as the sole authority, replacing its cache unconditionally on
// every refresh=true call (no mtime to compare against).
type UpstreamProvider struct {
	base   string
	client *http.Client
	cache  *cache
	log    *slog.Logger
}

// NewUpstreamProvider builds an upstream provider pointed at addr (a
// "host:port" pair, per spec §6's ORIGIN_ADDRESS).
func NewUpstreamProvider(addr string, cacheSize int, log *slog.Logger) *UpstreamProvider {
	if log == nil {
		log = slog.Default()
	}
	return &UpstreamProvider{
		base:   fmt.Sprintf("http://%s/nacos/v1/cs/configs", addr),
		client: &http.Client{},
		cache:  newCache(cacheSize),
		log:    log,
	}
}

func cacheKey(dataID, group, tenant string) string {
	return tenant + "/" + group + "/" + dataID
}

// Get implements Provider.
func (p *UpstreamProvider) Get(ctx context.Context, dataID, group, tenant string, refresh bool) (ConfigContent, error) {
	key := cacheKey(dataID, group, tenant)

	if !refresh {
		if content, ok := p.cache.getAny(key); ok {
			return content, nil
		}
	}

	values := url.Values{}
	values.Set("dataId", dataID)
	values.Set("group", group)
	if tenant != "" {
		values.Set("tenant", tenant)
	}
	reqURL := p.base + "?" + values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return ConfigContent{}, fmt.Errorf("build upstream request: %w: %w", ErrIO, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return ConfigContent{}, fmt.Errorf("upstream request %s: %w: %w", key, ErrIO, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ConfigContent{}, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return ConfigContent{}, fmt.Errorf("upstream %s returned %d: %w", key, resp.StatusCode, ErrIO)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ConfigContent{}, fmt.Errorf("read upstream body %s: %w: %w", key, ErrIO, err)
	}

	content := NewConfigContent(string(raw))
	p.cache.put(key, 0, content)
	p.log.Debug("upstream provider refreshed entry", slog.String("key", key), slog.String("md5", content.MD5()))
	return content, nil
}
