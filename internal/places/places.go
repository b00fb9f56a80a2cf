// Package places wraps the Google Maps geocoding and places APIs.
package places

import (
	"context"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	errx "github.com/communityfinder/server/internal/core/error"
	"github.com/communityfinder/server/internal/geo"
)

const providerName = "google_maps"

// Toronto is the default search bias when nothing better is known.
var Toronto = geo.Point{Lat: 43.6532, Lng: -79.3832}

// DefaultRadius is the search bias radius in metres around Toronto.
const DefaultRadius uint = 50000

var detailFields = []maps.PlaceDetailsFieldMask{
	maps.PlaceDetailsFieldMaskName,
	maps.PlaceDetailsFieldMaskFormattedPhoneNumber,
	maps.PlaceDetailsFieldMaskWebsite,
	maps.PlaceDetailsFieldMaskURL,
	maps.PlaceDetailsFieldMaskFormattedAddress,
}

// Candidate is one text search hit before enrichment.
type Candidate struct {
	PlaceID string
	Name    string
	Address string
	Rating  float32
}

// Details is the contact information of one place.
type Details struct {
	Name    string
	Phone   string
	Website string
	URL     string
	Address string
}

// Client talks to Google Maps. Every call is bounded by the client timeout.
type Client struct {
	maps    *maps.Client
	timeout time.Duration
}

// New builds a client authenticated with apiKey. Extra options (base URL,
// HTTP client) are passed through to the maps client.
func New(apiKey string, timeout time.Duration, opts ...maps.ClientOption) (*Client, error) {
	mc, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create maps client: %w", err)
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{maps: mc, timeout: timeout}, nil
}

// Lookup geocodes address, restricted to Ontario. It returns nil when
// there is no match.
func (c *Client) Lookup(ctx context.Context, address string) (*geo.Point, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.maps.Geocode(ctx, &maps.GeocodingRequest{
		Address: address,
		Region:  "ca",
		Components: map[maps.Component]string{
			maps.ComponentCountry:            "CA",
			maps.ComponentAdministrativeArea: "ON",
		},
	})
	if err != nil {
		return nil, errx.WrapProvider(providerName, err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	loc := res[0].Geometry.Location
	return &geo.Point{Lat: loc.Lat, Lng: loc.Lng}, nil
}

// TextSearch runs a places text search biased to a circle around center.
func (c *Client) TextSearch(ctx context.Context, query string, center geo.Point, radius uint) ([]Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.maps.TextSearch(ctx, &maps.TextSearchRequest{
		Query:    query,
		Location: &maps.LatLng{Lat: center.Lat, Lng: center.Lng},
		Radius:   radius,
		Region:   "ca",
	})
	if err != nil {
		return nil, errx.WrapProvider(providerName, err)
	}

	out := make([]Candidate, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, Candidate{
			PlaceID: r.PlaceID,
			Name:    r.Name,
			Address: r.FormattedAddress,
			Rating:  r.Rating,
		})
	}
	return out, nil
}

// Details fetches the contact fields of one place.
func (c *Client) Details(ctx context.Context, placeID string) (Details, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	r, err := c.maps.PlaceDetails(ctx, &maps.PlaceDetailsRequest{
		PlaceID: placeID,
		Fields:  detailFields,
	})
	if err != nil {
		return Details{}, errx.WrapProvider(providerName, err)
	}
	return Details{
		Name:    r.Name,
		Phone:   r.FormattedPhoneNumber,
		Website: r.Website,
		URL:     r.URL,
		Address: r.FormattedAddress,
	}, nil
}
