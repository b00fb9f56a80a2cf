// Package geo holds the distance math and the cached address geocoder used
// for proximity ranking.
package geo

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"time"

	logx "github.com/communityfinder/server/pkg/logger"
)

// EarthRadiusKm is the mean Earth radius used by Distance.
const EarthRadiusKm = 6371.0

// DefaultGeocodeTTL is how long a resolved address stays cached.
const DefaultGeocodeTTL = 24 * time.Hour

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Distance returns the great-circle distance between a and b in kilometres.
func Distance(a, b Point) float64 {
	phi1 := a.Lat * math.Pi / 180
	phi2 := b.Lat * math.Pi / 180
	dPhi := (b.Lat - a.Lat) * math.Pi / 180
	dLambda := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Cache is the key-value store consulted before the provider. Implementations
// report backend failures as misses.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// Provider resolves a free-text address. A nil point with a nil error means
// the provider had no match.
type Provider interface {
	Lookup(ctx context.Context, address string) (*Point, error)
}

// Geocoder resolves addresses through a cache-first lookup.
type Geocoder struct {
	cache    Cache
	provider Provider
	ttl      time.Duration
}

func NewGeocoder(cache Cache, provider Provider, ttl time.Duration) *Geocoder {
	if ttl <= 0 {
		ttl = DefaultGeocodeTTL
	}
	return &Geocoder{cache: cache, provider: provider, ttl: ttl}
}

// CacheKey normalises an address into its cache key.
func CacheKey(address string) string {
	return "geocode:" + strings.ToLower(strings.TrimSpace(address))
}

// Geocode returns the coordinates for address, or false when it cannot be
// resolved. Provider errors are logged and reported as not found.
func (g *Geocoder) Geocode(ctx context.Context, address string) (Point, bool) {
	if strings.TrimSpace(address) == "" {
		return Point{}, false
	}
	key := CacheKey(address)

	if g.cache != nil {
		if raw, ok := g.cache.Get(ctx, key); ok {
			var p Point
			if err := json.Unmarshal(raw, &p); err == nil {
				return p, true
			}
			logx.Warn().Str("key", key).Msg("discarding malformed cached geocode")
		}
	}

	if g.provider == nil {
		return Point{}, false
	}
	p, err := g.provider.Lookup(ctx, address)
	if err != nil {
		logx.Warn().Err(err).Str("address", address).Msg("geocode lookup failed")
		return Point{}, false
	}
	if p == nil {
		return Point{}, false
	}

	if g.cache != nil {
		if raw, err := json.Marshal(p); err == nil {
			g.cache.Set(ctx, key, raw, g.ttl)
		}
	}
	return *p, true
}
