package geo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttls[key] = ttl
}

type stubProvider struct {
	calls int
	point *Point
	err   error
}

func (s *stubProvider) Lookup(context.Context, string) (*Point, error) {
	s.calls++
	return s.point, s.err
}

func TestDistance(t *testing.T) {
	toronto := Point{Lat: 43.6532, Lng: -79.3832}
	montreal := Point{Lat: 45.5017, Lng: -73.5673}

	assert.InDelta(t, 0, Distance(toronto, toronto), 1e-9)
	assert.InDelta(t, 504, Distance(toronto, montreal), 5)
	assert.InDelta(t, Distance(toronto, montreal), Distance(montreal, toronto), 1e-9)

	// a quarter of the equator
	assert.InDelta(t, EarthRadiusKm*3.141592653589793/2, Distance(Point{0, 0}, Point{0, 90}), 1e-6)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "geocode:100 queen st w", CacheKey("  100 Queen St W "))
}

func TestGeocodeCachesProviderResult(t *testing.T) {
	cache := newMemCache()
	provider := &stubProvider{point: &Point{Lat: 43.65, Lng: -79.38}}
	g := NewGeocoder(cache, provider, 0)

	p, ok := g.Geocode(context.Background(), "100 Queen St W")
	require.True(t, ok)
	assert.Equal(t, Point{Lat: 43.65, Lng: -79.38}, p)
	assert.Equal(t, DefaultGeocodeTTL, cache.ttls["geocode:100 queen st w"])

	p, ok = g.Geocode(context.Background(), "100 QUEEN ST W")
	require.True(t, ok)
	assert.Equal(t, 43.65, p.Lat)
	assert.Equal(t, 1, provider.calls, "second lookup should be served from cache")
}

func TestGeocodeNotFound(t *testing.T) {
	tests := []struct {
		name     string
		provider *stubProvider
		address  string
	}{
		{name: "no match", provider: &stubProvider{}, address: "nowhere"},
		{name: "provider error", provider: &stubProvider{err: errors.New("quota")}, address: "somewhere"},
		{name: "blank address", provider: &stubProvider{point: &Point{}}, address: "  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := newMemCache()
			_, ok := NewGeocoder(cache, tt.provider, time.Hour).Geocode(context.Background(), tt.address)
			assert.False(t, ok)
			assert.Empty(t, cache.data)
		})
	}
}

func TestGeocodeWithoutCache(t *testing.T) {
	provider := &stubProvider{point: &Point{Lat: 1, Lng: 2}}
	p, ok := NewGeocoder(nil, provider, 0).Geocode(context.Background(), "x")
	require.True(t, ok)
	assert.Equal(t, Point{Lat: 1, Lng: 2}, p)
}
