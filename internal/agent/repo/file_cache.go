package repo

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/communityfinder/server/internal/geo"
	logx "github.com/communityfinder/server/pkg/logger"
)

// FileCache is the local-file cache variant: one JSON object on disk,
// entries live for the lifetime of the file. TTLs are ignored.
type FileCache struct {
	path string

	mu      sync.Mutex
	entries map[string]json.RawMessage
}

// NewFileCache loads path if it exists. A missing or unreadable file starts
// an empty cache.
func NewFileCache(path string) *FileCache {
	c := &FileCache{path: path, entries: map[string]json.RawMessage{}}
	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logx.Warn().Err(err).Str("path", path).Msg("cache file unreadable; starting empty")
		}
		return c
	}
	if err := json.Unmarshal(raw, &c.entries); err != nil {
		logx.Warn().Err(err).Str("path", path).Msg("cache file corrupt; starting empty")
		c.entries = map[string]json.RawMessage{}
	}
	return c
}

func (c *FileCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

func (c *FileCache) Set(_ context.Context, key string, value []byte, _ time.Duration) {
	if !json.Valid(value) {
		logx.Warn().Str("key", key).Msg("file cache only stores JSON values; skipping")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = append(json.RawMessage(nil), value...)
	if err := c.flush(); err != nil {
		logx.Warn().Err(err).Str("path", c.path).Msg("cache file write failed")
	}
}

// flush writes atomically via a temp file; callers hold mu.
func (c *FileCache) flush() error {
	raw, err := json.Marshal(c.entries)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(c.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}

var _ geo.Cache = (*FileCache)(nil)
