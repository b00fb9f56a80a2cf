// Package tools holds the capability adapters the graph calls to retrieve
// candidate resources.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/tool"

	"github.com/communityfinder/server/internal/agent/model"
	"github.com/communityfinder/server/internal/geo"
	"github.com/communityfinder/server/internal/opendata"
	"github.com/communityfinder/server/internal/shaping"
	logx "github.com/communityfinder/server/pkg/logger"
)

const (
	NameShelters      = "retrieve_shelters"
	NameFamilyCenters = "retrieve_family_centers"
	NamePlacesSearch  = "google_maps_search"
)

// Essential fields kept for the evaluator and the final answer.
var (
	ShelterFields = []string{
		"LOCATION_NAME", "LOCATION_ADDRESS", "OVERNIGHT_SERVICE_TYPE", "SECTOR",
		"LOCATION_CITY", "PROGRAM_MODEL", "OCCUPANCY_RATE_ROOMS",
	}
	FamilyCenterFields = []string{
		"program_name", "full_address", "website", "consultant_phone",
		"email", "phone", "contact_email",
	}
)

const languagesField = "languages"

// Adapter retrieves candidate records for a free-text query. loc is the
// caller's location when known.
type Adapter interface {
	Name() string
	Retrieve(ctx context.Context, query string, loc *geo.Point) ([]model.Record, error)
}

// Searcher queries an open data dataset.
type Searcher interface {
	Search(ctx context.Context, q opendata.Query) ([]model.Record, error)
}

type ShelterFilterExtractor interface {
	ShelterFilter(ctx context.Context, query string) (*model.ShelterFilter, error)
}

type FamilyCenterFilterExtractor interface {
	FamilyCenterFilter(ctx context.Context, query string) (*model.FamilyCenterFilter, error)
}

// Limits bounds how many records an adapter fetches and returns.
type Limits struct {
	Candidates int // records returned after ranking
	Page       int // records requested per provider call
	Bulk       int // records requested for client-side matching
}

func (l Limits) withDefaults() Limits {
	if l.Candidates <= 0 {
		l.Candidates = 6
	}
	if l.Page <= 0 {
		l.Page = 50
	}
	if l.Bulk <= 0 {
		l.Bulk = 500
	}
	return l
}

// ===================================
// Shelters
// ===================================

type ShelterAdapter struct {
	extractor ShelterFilterExtractor
	data      Searcher
	locator   shaping.Locator
	limits    Limits
}

func NewShelterAdapter(extractor ShelterFilterExtractor, data Searcher, locator shaping.Locator, limits Limits) *ShelterAdapter {
	return &ShelterAdapter{extractor: extractor, data: data, locator: locator, limits: limits.withDefaults()}
}

func (a *ShelterAdapter) Name() string { return NameShelters }

func (a *ShelterAdapter) Retrieve(ctx context.Context, query string, loc *geo.Point) ([]model.Record, error) {
	f, err := a.extractor.ShelterFilter(ctx, query)
	if err != nil {
		if errors.Is(err, model.ErrInvalidFilter) {
			logx.Warn().Err(err).Str("adapter", a.Name()).Msg("filter outside vocabulary; returning no records")
			return nil, nil
		}
		return nil, err
	}

	records, err := a.data.Search(ctx, opendata.Query{
		Dataset: opendata.DatasetShelters,
		Filters: f.Exact(),
		Limit:   a.limits.Page,
	})
	if err != nil {
		return nil, err
	}

	ranked := shaping.RankByProximity(ctx, records, loc, "LOCATION_ADDRESS", a.locator, a.limits.Candidates)
	return shaping.Prune(ranked, ShelterFields), nil
}

// ===================================
// Family centres
// ===================================

type FamilyCenterAdapter struct {
	extractor FamilyCenterFilterExtractor
	data      Searcher
	locator   shaping.Locator
	limits    Limits
}

func NewFamilyCenterAdapter(extractor FamilyCenterFilterExtractor, data Searcher, locator shaping.Locator, limits Limits) *FamilyCenterAdapter {
	return &FamilyCenterAdapter{extractor: extractor, data: data, locator: locator, limits: limits.withDefaults()}
}

func (a *FamilyCenterAdapter) Name() string { return NameFamilyCenters }

func (a *FamilyCenterAdapter) Retrieve(ctx context.Context, query string, loc *geo.Point) ([]model.Record, error) {
	f, err := a.extractor.FamilyCenterFilter(ctx, query)
	if err != nil {
		if errors.Is(err, model.ErrInvalidFilter) {
			logx.Warn().Err(err).Str("adapter", a.Name()).Msg("filter outside vocabulary; returning no records")
			return nil, nil
		}
		return nil, err
	}

	records, err := a.search(ctx, f)
	if err != nil {
		return nil, err
	}

	ranked := shaping.RankByProximity(ctx, records, loc, "full_address", a.locator, a.limits.Candidates)
	return shaping.Prune(ranked, FamilyCenterFields), nil
}

// search matches a single language with the provider's full-text search
// first and falls back to a bulk page matched locally. Several languages go
// straight to local matching since full-text requires every term.
func (a *FamilyCenterAdapter) search(ctx context.Context, f *model.FamilyCenterFilter) ([]model.Record, error) {
	q := opendata.Query{
		Dataset: opendata.DatasetFamilyCenters,
		Filters: f.Exact(),
		Limit:   a.limits.Page,
	}
	langs := f.LanguageList()
	if len(langs) == 0 {
		return a.data.Search(ctx, q)
	}

	if len(langs) == 1 {
		q.FullText = langs[0]
		records, err := a.data.Search(ctx, q)
		if err != nil {
			return nil, err
		}
		if len(records) > 0 {
			return records, nil
		}
		logx.Debug().Strs("languages", langs).Msg("full-text language search empty; matching bulk page")
	}

	q.FullText = ""
	q.Limit = a.limits.Bulk
	bulk, err := a.data.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	return shaping.Limit(matchLanguages(bulk, langs), a.limits.Page), nil
}

// matchLanguages keeps records whose languages field mentions any of langs.
func matchLanguages(records []model.Record, langs []string) []model.Record {
	var out []model.Record
	for _, r := range records {
		spoken := strings.ToLower(r.String(languagesField))
		if spoken == "" {
			continue
		}
		for _, l := range langs {
			if strings.Contains(spoken, strings.ToLower(l)) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// Run calls a.Retrieve wrapped in tool callbacks so graph observers see
// adapter calls like any other component.
func Run(ctx context.Context, a Adapter, query string, loc *geo.Point) ([]model.Record, error) {
	ctx = callbacks.ReuseHandlers(ctx, &callbacks.RunInfo{
		Name:      a.Name(),
		Type:      "Adapter",
		Component: components.ComponentOfTool,
	})
	args, _ := json.Marshal(map[string]any{"query": query, "location": loc})
	ctx = callbacks.OnStart(ctx, &tool.CallbackInput{ArgumentsInJSON: string(args)})

	records, err := a.Retrieve(ctx, query, loc)
	if err != nil {
		callbacks.OnError(ctx, err)
		return nil, err
	}

	resp, _ := json.Marshal(records)
	callbacks.OnEnd(ctx, &tool.CallbackOutput{Response: string(resp)})
	return records, nil
}
