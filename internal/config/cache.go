package config

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// cacheEntry binds a provider-specific key to a validator (the filesystem
// mtime in seconds; unused by the upstream provider) and the content last
// read for it, per spec §3's CacheEntry.
type cacheEntry struct {
	validator int64
	content   ConfigContent
}

// cache is the size-bounded, LRU-evicting store shared by both
// ConfigProvider variants. It wraps hashicorp/golang-lru/v2 rather than a
// plain map so that a long-running sidecar with many distinct targets
// never grows its provider-side memory without bound.
type cache struct {
	inner *lru.Cache[string, cacheEntry]
}

// newCache builds a cache bounded to size entries. size <= 0 falls back
// to the spec §6 default of 64.
func newCache(size int) *cache {
	if size <= 0 {
		size = 64
	}
	inner, err := lru.New[string, cacheEntry](size)
	if err != nil {
		// lru.New only errors when size <= 0, which we've just excluded.
		panic(err)
	}
	return &cache{inner: inner}
}

// get returns the cached entry for key if the cache holds one and its
// validator matches want. A mismatched or absent validator is a cache
// miss.
func (c *cache) get(key string, want int64) (ConfigContent, bool) {
	entry, ok := c.inner.Get(key)
	if !ok || entry.validator != want {
		return ConfigContent{}, false
	}
	return entry.content, true
}

// getAny returns whatever is cached for key regardless of validator, used
// by the upstream provider which has no validator of its own.
func (c *cache) getAny(key string) (ConfigContent, bool) {
	entry, ok := c.inner.Get(key)
	if !ok {
		return ConfigContent{}, false
	}
	return entry.content, true
}

func (c *cache) put(key string, validator int64, content ConfigContent) {
	c.inner.Add(key, cacheEntry{validator: validator, content: content})
}
