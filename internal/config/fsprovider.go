package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"unicode/utf8"
)

// FSProvider is the filesystem ConfigProvider variant (spec §4.1): entries
// live under prefix + tenant (or "public") + "/" + group + "/" + data_id
// as UTF-8 text, and the file's mtime in seconds is the cache validator.
// No path escaping is attempted; a ".." in data_id or group reaches the
// filesystem as-is (sandboxing is an explicit non-goal).
type FSProvider struct {
	prefix string
	cache  *cache
	log    *slog.Logger
}

// NewFSProvider builds a filesystem provider rooted at prefix (expected to
// end in "/", per spec §6) with a cache bounded to cacheSize entries.
func NewFSProvider(prefix string, cacheSize int, log *slog.Logger) *FSProvider {
	if log == nil {
		log = slog.Default()
	}
	return &FSProvider{
		prefix: prefix,
		cache:  newCache(cacheSize),
		log:    log,
	}
}

func (p *FSProvider) path(dataID, group, tenant string) string {
	if tenant == "" {
		tenant = "public"
	}
	return p.prefix + tenant + "/" + group + "/" + dataID
}

// Get implements Provider.
func (p *FSProvider) Get(_ context.Context, dataID, group, tenant string, refresh bool) (ConfigContent, error) {
	key := p.path(dataID, group, tenant)

	if !refresh {
		if content, ok := p.cache.getAny(key); ok {
			return content, nil
		}
	}

	info, err := os.Stat(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ConfigContent{}, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return ConfigContent{}, fmt.Errorf("stat %s: %w: %w", key, ErrIO, err)
	}
	mtime := info.ModTime().Unix()

	if !refresh {
		if content, ok := p.cache.get(key, mtime); ok {
			return content, nil
		}
	} else if content, ok := p.cache.get(key, mtime); ok {
		// mtime unchanged since last read: no re-read needed.
		return content, nil
	}

	raw, err := os.ReadFile(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ConfigContent{}, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return ConfigContent{}, fmt.Errorf("read %s: %w: %w", key, ErrIO, err)
	}
	if !utf8.Valid(raw) {
		return ConfigContent{}, fmt.Errorf("%s: %w", key, ErrDecode)
	}

	content := NewConfigContent(string(raw))
	p.cache.put(key, mtime, content)
	p.log.Debug("fs provider refreshed entry", slog.String("path", key), slog.String("md5", content.MD5()))
	return content, nil
}
