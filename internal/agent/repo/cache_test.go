package repo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisCacheRoundTrip(t *testing.T) {
	mr, rdb := newTestRedis(t)
	c := NewRedisCache(rdb)
	ctx := context.Background()

	_, ok := c.Get(ctx, "geocode:missing")
	assert.False(t, ok)

	c.Set(ctx, "geocode:100 queen st w", []byte(`{"lat":43.65,"lng":-79.38}`), 24*time.Hour)
	v, ok := c.Get(ctx, "geocode:100 queen st w")
	require.True(t, ok)
	assert.JSONEq(t, `{"lat":43.65,"lng":-79.38}`, string(v))
	assert.Equal(t, 24*time.Hour, mr.TTL("geocode:100 queen st w"))

	mr.FastForward(25 * time.Hour)
	_, ok = c.Get(ctx, "geocode:100 queen st w")
	assert.False(t, ok, "entry should expire after its ttl")
}

func TestRedisCacheBackendFailureIsMiss(t *testing.T) {
	mr, rdb := newTestRedis(t)
	c := NewRedisCache(rdb)
	ctx := context.Background()

	c.Set(ctx, "k", []byte(`1`), time.Minute)
	mr.Close()

	assert.NotPanics(t, func() {
		_, ok := c.Get(ctx, "k")
		assert.False(t, ok)
		c.Set(ctx, "k", []byte(`2`), time.Minute)
	})
}

func TestRedisCacheDisabled(t *testing.T) {
	c := NewRedisCache(nil)
	c.Set(context.Background(), "k", []byte(`1`), time.Minute)
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestFileCacheRoundTripAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "geocode.json")
	ctx := context.Background()

	c := NewFileCache(path)
	_, ok := c.Get(ctx, "geocode:a")
	assert.False(t, ok)

	c.Set(ctx, "geocode:a", []byte(`{"lat":1,"lng":2}`), time.Hour)
	c.Set(ctx, "geocode:bad", []byte(`not json`), time.Hour)

	v, ok := c.Get(ctx, "geocode:a")
	require.True(t, ok)
	assert.JSONEq(t, `{"lat":1,"lng":2}`, string(v))
	_, ok = c.Get(ctx, "geocode:bad")
	assert.False(t, ok)

	reloaded := NewFileCache(path)
	v, ok = reloaded.Get(ctx, "geocode:a")
	require.True(t, ok)
	assert.JSONEq(t, `{"lat":1,"lng":2}`, string(v))
}

func TestFileCacheCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geocode.json")
	require.NoError(t, os.WriteFile(path, []byte("{{{"), 0o644))

	c := NewFileCache(path)
	_, ok := c.Get(context.Background(), "anything")
	assert.False(t, ok)
}
