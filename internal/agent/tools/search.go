package tools

import (
	"context"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/communityfinder/server/internal/agent/model"
	"github.com/communityfinder/server/internal/geo"
	"github.com/communityfinder/server/internal/places"
	"github.com/communityfinder/server/internal/shaping"
	logx "github.com/communityfinder/server/pkg/logger"
)

// DetailsErrorMarker flags a search result whose contact lookup failed.
const DetailsErrorMarker = "Could not fetch detailed contact information"

// nearbyRadius is the bias radius in metres around a known point.
const nearbyRadius uint = 10000

var (
	parenthesisedPlace = regexp.MustCompile(`\(([^)]+)\)`)
	inPlace            = regexp.MustCompile(`(?i)\bin ([^.,;!?]+)`)
)

// PlacesClient is the subset of the places API the search adapter uses.
type PlacesClient interface {
	TextSearch(ctx context.Context, query string, center geo.Point, radius uint) ([]places.Candidate, error)
	Details(ctx context.Context, placeID string) (places.Details, error)
}

// PlacesSearchAdapter is the fallback search over a general places index.
type PlacesSearchAdapter struct {
	places  PlacesClient
	locator shaping.Locator
	limit   int
}

func NewPlacesSearchAdapter(client PlacesClient, locator shaping.Locator, limit int) *PlacesSearchAdapter {
	if limit <= 0 {
		limit = 6
	}
	return &PlacesSearchAdapter{places: client, locator: locator, limit: limit}
}

func (a *PlacesSearchAdapter) Name() string { return NamePlacesSearch }

// Retrieve searches around the caller, then around a place named in the
// query, then around Toronto, and enriches the top candidates with contact
// details. A failed detail lookup keeps a partial record.
func (a *PlacesSearchAdapter) Retrieve(ctx context.Context, query string, loc *geo.Point) ([]model.Record, error) {
	center, radius := a.bias(ctx, query, loc)

	candidates, err := a.places.TextSearch(ctx, query, center, radius)
	if err != nil {
		return nil, err
	}
	if len(candidates) > a.limit {
		candidates = candidates[:a.limit]
	}

	out := make([]model.Record, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range candidates {
		g.Go(func() error {
			out[i] = a.enrich(gctx, c)
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

func (a *PlacesSearchAdapter) bias(ctx context.Context, query string, loc *geo.Point) (geo.Point, uint) {
	if loc != nil {
		return *loc, nearbyRadius
	}
	if phrase := ExtractLocation(query); phrase != "" && a.locator != nil {
		if p, ok := a.locator.Geocode(ctx, phrase); ok {
			return p, nearbyRadius
		}
	}
	return places.Toronto, places.DefaultRadius
}

func (a *PlacesSearchAdapter) enrich(ctx context.Context, c places.Candidate) model.Record {
	d, err := a.places.Details(ctx, c.PlaceID)
	if err != nil {
		logx.Warn().Err(err).Str("place_id", c.PlaceID).Str("name", c.Name).Msg("place details failed; keeping partial result")
		r := model.Record{
			"name":     c.Name,
			"address":  c.Address,
			"place_id": c.PlaceID,
			"error":    DetailsErrorMarker,
		}
		if c.Rating > 0 {
			r["rating"] = c.Rating
		}
		return r
	}

	r := model.Record{}
	setNonEmpty(r, "name", d.Name)
	setNonEmpty(r, "phone_number", d.Phone)
	setNonEmpty(r, "website", d.Website)
	setNonEmpty(r, "url", d.URL)
	setNonEmpty(r, "address", d.Address)
	return r
}

func setNonEmpty(r model.Record, key, value string) {
	if value != "" {
		r[key] = value
	}
}

// ExtractLocation returns the place named in query: parenthesised text
// first, then the phrase after "in". It returns "" when neither is present.
func ExtractLocation(query string) string {
	if m := parenthesisedPlace.FindStringSubmatch(query); len(m) > 1 {
		if s := strings.TrimSpace(m[1]); s != "" {
			return s
		}
	}
	if m := inPlace.FindStringSubmatch(query); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return ""
}
