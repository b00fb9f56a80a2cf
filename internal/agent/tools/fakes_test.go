package tools

import (
	"context"
	"strings"
	"sync"

	"github.com/communityfinder/server/internal/agent/model"
	"github.com/communityfinder/server/internal/geo"
	"github.com/communityfinder/server/internal/opendata"
	"github.com/communityfinder/server/internal/places"
)

type fakeExtractor struct {
	shelter *model.ShelterFilter
	family  *model.FamilyCenterFilter
	err     error
}

func (f *fakeExtractor) ShelterFilter(context.Context, string) (*model.ShelterFilter, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := *f.shelter
	return &out, out.Validate()
}

func (f *fakeExtractor) FamilyCenterFilter(context.Context, string) (*model.FamilyCenterFilter, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := *f.family
	return &out, out.Validate()
}

// fakeSearcher answers full-text queries from byText and everything else
// from records.
type fakeSearcher struct {
	mu      sync.Mutex
	records []model.Record
	byText  map[string][]model.Record
	err     error
	queries []opendata.Query
}

func (f *fakeSearcher) Search(_ context.Context, q opendata.Query) ([]model.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	if q.FullText != "" {
		return f.byText[q.FullText], nil
	}
	if q.Limit > 0 && len(f.records) > q.Limit {
		return f.records[:q.Limit], nil
	}
	return f.records, nil
}

type fakeLocator map[string]geo.Point

func (f fakeLocator) Geocode(_ context.Context, address string) (geo.Point, bool) {
	p, ok := f[strings.ToLower(address)]
	return p, ok
}

// countingLocator places every address at the same point and counts lookups.
type countingLocator struct {
	mu    sync.Mutex
	calls int
}

func (c *countingLocator) Geocode(context.Context, string) (geo.Point, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return geo.Point{Lat: 43.7, Lng: -79.4}, true
}

type fakePlaces struct {
	mu         sync.Mutex
	candidates []places.Candidate
	details    map[string]places.Details
	searchErr  error
	center     geo.Point
	radius     uint
	query      string
}

func (f *fakePlaces) TextSearch(_ context.Context, query string, center geo.Point, radius uint) ([]places.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.query, f.center, f.radius = query, center, radius
	return f.candidates, f.searchErr
}

func (f *fakePlaces) Details(_ context.Context, placeID string) (places.Details, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.details[placeID]
	if !ok {
		return places.Details{}, errDetails
	}
	return d, nil
}
