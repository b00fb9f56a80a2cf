package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/communityfinder/server/internal/agent/model"
	"github.com/communityfinder/server/internal/geo"
	"github.com/communityfinder/server/internal/opendata"
)

var (
	errDetails  = errors.New("details unavailable")
	downtown    = geo.Point{Lat: 43.6532, Lng: -79.3832}
	scarborough = geo.Point{Lat: 43.7764, Lng: -79.2318}
	etobicoke   = geo.Point{Lat: 43.6205, Lng: -79.5132}
)

func shelterRecord(name, address string, occupancy float64) model.Record {
	return model.Record{
		"_id":                  1,
		"LOCATION_NAME":        name,
		"LOCATION_ADDRESS":     address,
		"SECTOR":               "Women",
		"OCCUPANCY_RATE_ROOMS": occupancy,
		"ORGANIZATION_NAME":    "dropped by pruning",
	}
}

func TestShelterAdapterRanksAndPrunes(t *testing.T) {
	data := &fakeSearcher{records: []model.Record{
		shelterRecord("Far", "100 Far Rd", 90),
		shelterRecord("Unknown", "nowhere", 10),
		shelterRecord("Near", "1 Near St", 50),
	}}
	locator := fakeLocator{"100 far rd": etobicoke, "1 near st": scarborough}
	a := NewShelterAdapter(
		&fakeExtractor{shelter: &model.ShelterFilter{Sector: "Women"}},
		data, locator, Limits{Candidates: 6},
	)

	got, err := a.Retrieve(context.Background(), "women's shelter", &scarborough)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Near", got[0]["LOCATION_NAME"])
	assert.Equal(t, "Far", got[1]["LOCATION_NAME"])
	assert.Equal(t, "Unknown", got[2]["LOCATION_NAME"])
	for _, r := range got {
		assert.NotContains(t, r, "_id")
		assert.NotContains(t, r, "ORGANIZATION_NAME")
	}

	require.Len(t, data.queries, 1)
	assert.Equal(t, opendata.DatasetShelters, data.queries[0].Dataset)
	assert.Equal(t, map[string]string{"SECTOR": "Women"}, data.queries[0].Filters)
	assert.Equal(t, 50, data.queries[0].Limit)
}

func TestShelterAdapterUnknownLocationKeepsProviderOrder(t *testing.T) {
	var records []model.Record
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		records = append(records, shelterRecord(name, name+" St", 20))
	}
	a := NewShelterAdapter(
		&fakeExtractor{shelter: &model.ShelterFilter{}},
		&fakeSearcher{records: records}, fakeLocator{}, Limits{Candidates: 6},
	)

	got, err := a.Retrieve(context.Background(), "shelter", nil)
	require.NoError(t, err)
	require.Len(t, got, 6)
	assert.Equal(t, "a", got[0]["LOCATION_NAME"])
	assert.Equal(t, "f", got[5]["LOCATION_NAME"])
}

func TestShelterAdapterInvalidFilterSkipsProvider(t *testing.T) {
	data := &fakeSearcher{records: []model.Record{shelterRecord("x", "y", 1)}}
	a := NewShelterAdapter(
		&fakeExtractor{shelter: &model.ShelterFilter{Sector: "Seniors"}},
		data, nil, Limits{},
	)

	got, err := a.Retrieve(context.Background(), "seniors shelter", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, data.queries)
}

func TestShelterAdapterPropagatesProviderError(t *testing.T) {
	a := NewShelterAdapter(
		&fakeExtractor{shelter: &model.ShelterFilter{}},
		&fakeSearcher{err: errors.New("ckan down")}, nil, Limits{},
	)
	_, err := a.Retrieve(context.Background(), "shelter", nil)
	assert.Error(t, err)
}

func familyRecord(name, languages string) model.Record {
	return model.Record{
		"program_name": name,
		"full_address": name + " address",
		"languages":    languages,
		"phone":        "416-555-0100",
	}
}

func TestFamilyCenterAdapterNoLanguages(t *testing.T) {
	data := &fakeSearcher{records: []model.Record{familyRecord("Centre A", "English")}}
	a := NewFamilyCenterAdapter(
		&fakeExtractor{family: &model.FamilyCenterFilter{IndigenousProgram: "Yes"}},
		data, nil, Limits{},
	)

	got, err := a.Retrieve(context.Background(), "indigenous family centre", nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotContains(t, got[0], "languages")
	require.Len(t, data.queries, 1)
	assert.Equal(t, opendata.DatasetFamilyCenters, data.queries[0].Dataset)
	assert.Equal(t, map[string]string{"indigenous_program": "Yes"}, data.queries[0].Filters)
	assert.Empty(t, data.queries[0].FullText)
}

func TestFamilyCenterAdapterFullTextHit(t *testing.T) {
	data := &fakeSearcher{byText: map[string][]model.Record{
		"Arabic": {familyRecord("Centre Arabic", "Arabic; English")},
	}}
	a := NewFamilyCenterAdapter(
		&fakeExtractor{family: &model.FamilyCenterFilter{Languages: "arabic"}},
		data, nil, Limits{},
	)

	got, err := a.Retrieve(context.Background(), "centre that speaks Arabic", nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Centre Arabic", got[0]["program_name"])
	assert.Len(t, data.queries, 1)
}

func TestFamilyCenterAdapterFallsBackToBulkMatch(t *testing.T) {
	data := &fakeSearcher{records: []model.Record{
		familyRecord("Centre English", "English"),
		familyRecord("Centre Tamil", "English; Tamil"),
		familyRecord("Centre None", ""),
		familyRecord("Centre Tamil 2", "TAMIL"),
	}}
	a := NewFamilyCenterAdapter(
		&fakeExtractor{family: &model.FamilyCenterFilter{Languages: "Tamil"}},
		data, nil, Limits{Bulk: 500},
	)

	got, err := a.Retrieve(context.Background(), "Tamil speaking child centre", nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Centre Tamil", got[0]["program_name"])
	assert.Equal(t, "Centre Tamil 2", got[1]["program_name"])

	require.Len(t, data.queries, 2)
	assert.Equal(t, "Tamil", data.queries[0].FullText)
	assert.Empty(t, data.queries[1].FullText)
	assert.Equal(t, 500, data.queries[1].Limit)
}

func TestFamilyCenterAdapterCapsBulkMatchesBeforeRanking(t *testing.T) {
	bulk := make([]model.Record, 0, 500)
	for i := range 500 {
		bulk = append(bulk, familyRecord(fmt.Sprintf("Centre %d", i), "English; Tamil"))
	}
	data := &fakeSearcher{records: bulk}
	locator := &countingLocator{}
	a := NewFamilyCenterAdapter(
		&fakeExtractor{family: &model.FamilyCenterFilter{Languages: "Tamil"}},
		data, locator, Limits{Candidates: 6, Page: 50, Bulk: 500},
	)

	got, err := a.Retrieve(context.Background(), "Tamil speaking child centre", &geo.Point{Lat: 43.65, Lng: -79.38})
	require.NoError(t, err)
	assert.Len(t, got, 6)
	assert.Equal(t, 50, locator.calls)
}

func TestFamilyCenterAdapterSeveralLanguagesMatchLocally(t *testing.T) {
	data := &fakeSearcher{
		records: []model.Record{
			familyRecord("Centre Tamil", "English; Tamil"),
			familyRecord("Centre English", "English"),
			familyRecord("Centre Arabic", "Arabic"),
		},
		byText: map[string][]model.Record{
			"Tamil": {familyRecord("Full text hit", "Tamil")},
		},
	}
	a := NewFamilyCenterAdapter(
		&fakeExtractor{family: &model.FamilyCenterFilter{Languages: "Tamil;Arabic"}},
		data, nil, Limits{Bulk: 500},
	)

	got, err := a.Retrieve(context.Background(), "Tamil or Arabic speaking centre", nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Centre Tamil", got[0]["program_name"])
	assert.Equal(t, "Centre Arabic", got[1]["program_name"])

	require.Len(t, data.queries, 1)
	assert.Empty(t, data.queries[0].FullText)
	assert.Equal(t, 500, data.queries[0].Limit)
}

func TestRunForwardsResults(t *testing.T) {
	a := NewShelterAdapter(
		&fakeExtractor{shelter: &model.ShelterFilter{}},
		&fakeSearcher{records: []model.Record{shelterRecord("x", "y", 1)}}, nil, Limits{},
	)
	got, err := Run(context.Background(), a, "shelter", &downtown)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = Run(context.Background(), NewShelterAdapter(&fakeExtractor{err: errors.New("llm down")}, &fakeSearcher{}, nil, Limits{}), "shelter", nil)
	assert.Error(t, err)
}
