package opendata

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	errx "github.com/communityfinder/server/internal/core/error"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCKAN struct {
	packageCalls atomic.Int32
	searchCalls  atomic.Int32
	lastQuery    atomic.Value
	records      []map[string]any
	searchStatus int
}

func (f *fakeCKAN) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/3/action/package_show", func(w http.ResponseWriter, r *http.Request) {
		f.packageCalls.Add(1)
		assert.Equal(t, DatasetShelters, r.URL.Query().Get("id"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"result": map[string]any{"resources": []map[string]any{
				{"id": "csv-only", "datastore_active": false},
				{"id": "res-1", "datastore_active": true},
			}},
		})
	})
	mux.HandleFunc("/api/3/action/datastore_search", func(w http.ResponseWriter, r *http.Request) {
		f.searchCalls.Add(1)
		f.lastQuery.Store(r.URL.Query())
		if f.searchStatus != 0 {
			w.WriteHeader(f.searchStatus)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"result":  map[string]any{"records": f.records, "total": len(f.records)},
		})
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeCKAN, opts ...Option) *Client {
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, srv.Client(), append([]Option{WithRetries(0)}, opts...)...)
}

func TestSearchSendsOnlyNonEmptyFilters(t *testing.T) {
	f := &fakeCKAN{records: []map[string]any{{"LOCATION_NAME": "Nellie's", "OCCUPANCY_RATE_ROOMS": 40.0}}}
	c := newTestClient(t, f)

	got, err := c.Search(context.Background(), Query{
		Dataset: DatasetShelters,
		Filters: map[string]string{"SECTOR": "Women", "OVERNIGHT_SERVICE_TYPE": ""},
		Limit:   50,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Nellie's", got[0].String("LOCATION_NAME"))

	q := f.lastQuery.Load().(url.Values)
	assert.Equal(t, []string{"res-1"}, q["id"])
	assert.Equal(t, []string{"50"}, q["limit"])
	assert.JSONEq(t, `{"SECTOR":"Women"}`, q["filters"][0])
	_, hasQ := q["q"]
	assert.False(t, hasQ)
}

func TestSearchWithoutFiltersOmitsParam(t *testing.T) {
	f := &fakeCKAN{}
	c := newTestClient(t, f)

	got, err := c.Search(context.Background(), Query{Dataset: DatasetShelters, FullText: "Arabic"})
	require.NoError(t, err)
	assert.Empty(t, got)

	q := f.lastQuery.Load().(url.Values)
	_, hasFilters := q["filters"]
	assert.False(t, hasFilters)
	assert.Equal(t, []string{"Arabic"}, q["q"])
}

func TestResourceIDIsCached(t *testing.T) {
	f := &fakeCKAN{}
	c := newTestClient(t, f)

	for i := 0; i < 3; i++ {
		_, err := c.Search(context.Background(), Query{Dataset: DatasetShelters})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.packageCalls.Load())
	assert.Equal(t, int32(3), f.searchCalls.Load())
}

func TestSearchServerErrorIsRetriedThenWrapped(t *testing.T) {
	f := &fakeCKAN{searchStatus: http.StatusServiceUnavailable}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()
	c := NewClient(srv.URL, srv.Client(), WithRetries(1))

	_, err := c.Search(context.Background(), Query{Dataset: DatasetShelters})
	require.Error(t, err)
	assert.Equal(t, int32(2), f.searchCalls.Load())

	var appErr *errx.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, http.StatusBadGateway, appErr.Status)
	assert.True(t, errx.IsRetryable(err))
}

func TestSearchClientErrorIsNotRetried(t *testing.T) {
	f := &fakeCKAN{searchStatus: http.StatusNotFound}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()
	c := NewClient(srv.URL, srv.Client(), WithRetries(3))

	_, err := c.Search(context.Background(), Query{Dataset: DatasetShelters})
	require.Error(t, err)
	assert.Equal(t, int32(1), f.searchCalls.Load())
}

func TestSearchUnsuccessfulEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":{"message":"Not found"}}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, srv.Client(), WithRetries(0)).Search(context.Background(), Query{Dataset: "missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsuccessful response")
}

func TestSearchNoDatastore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"result":{"resources":[]}}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, srv.Client(), WithRetries(0)).Search(context.Background(), Query{Dataset: "empty"})
	assert.ErrorIs(t, err, ErrNoDatastore)
}

func TestSearchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), WithRetries(0), WithTimeout(50*time.Millisecond))
	_, err := c.Search(context.Background(), Query{Dataset: DatasetShelters})
	require.Error(t, err)

	var appErr *errx.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, http.StatusGatewayTimeout, appErr.Status)
}
