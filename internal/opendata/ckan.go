// Package opendata is a client for the CKAN datastore API that backs the
// City of Toronto open data portal.
package opendata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/communityfinder/server/internal/agent/model"
	errx "github.com/communityfinder/server/internal/core/error"
	logx "github.com/communityfinder/server/pkg/logger"
)

const (
	DatasetShelters      = "daily-shelter-overnight-service-occupancy-capacity"
	DatasetFamilyCenters = "earlyon-child-and-family-centres"

	providerName = "ckan"
)

// ErrNoDatastore is returned when a package has no queryable resource.
var ErrNoDatastore = errors.New("package has no active datastore resource")

type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Query selects records from one dataset. Empty filter values are never sent.
type Query struct {
	Dataset  string
	Filters  map[string]string
	FullText string
	Limit    int
}

// Client talks to a CKAN instance.
type Client struct {
	baseURL    string
	httpClient doer
	timeout    time.Duration
	retries    uint64

	resources sync.Map // dataset id -> resource id
}

type Option func(*Client)

// WithTimeout bounds each HTTP round trip.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRetries sets how many times transient failures are retried.
func WithRetries(n uint64) Option {
	return func(c *Client) { c.retries = n }
}

func NewClient(baseURL string, httpClient doer, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		timeout:    20 * time.Second,
		retries:    2,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error,omitempty"`
}

type packageResult struct {
	Resources []struct {
		ID              string `json:"id"`
		DatastoreActive bool   `json:"datastore_active"`
	} `json:"resources"`
}

type searchResult struct {
	Records []model.Record `json:"records"`
	Total   int            `json:"total"`
}

// Search returns matching records. Zero records is not an error.
func (c *Client) Search(ctx context.Context, q Query) ([]model.Record, error) {
	resourceID, err := c.resourceID(ctx, q.Dataset)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("id", resourceID)
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if filters := nonEmpty(q.Filters); len(filters) > 0 {
		raw, err := json.Marshal(filters)
		if err != nil {
			return nil, fmt.Errorf("encode filters: %w", err)
		}
		params.Set("filters", string(raw))
	}
	if q.FullText != "" {
		params.Set("q", q.FullText)
	}

	var res searchResult
	if err := c.call(ctx, "datastore_search", params, &res); err != nil {
		return nil, err
	}
	logx.Debug().
		Str("dataset", q.Dataset).
		Int("records", len(res.Records)).
		Int("total", res.Total).
		Msg("datastore search finished")
	return res.Records, nil
}

func (c *Client) resourceID(ctx context.Context, dataset string) (string, error) {
	if id, ok := c.resources.Load(dataset); ok {
		return id.(string), nil
	}

	var pkg packageResult
	if err := c.call(ctx, "package_show", url.Values{"id": {dataset}}, &pkg); err != nil {
		return "", err
	}
	for _, r := range pkg.Resources {
		if r.DatastoreActive {
			c.resources.Store(dataset, r.ID)
			return r.ID, nil
		}
	}
	return "", fmt.Errorf("%s: %w", dataset, ErrNoDatastore)
}

// call performs GET /api/3/action/{action}, retrying transient failures.
func (c *Client) call(ctx context.Context, action string, params url.Values, out any) error {
	endpoint := c.baseURL + "/api/3/action/" + action + "?" + params.Encode()

	op := func() error {
		return c.get(ctx, endpoint, out)
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.retries),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		logx.Warn().Err(err).Str("action", action).Dur("retry_in", wait).Msg("open data call failed; retrying")
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return errx.WrapProvider(providerName, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("status %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return backoff.Permanent(fmt.Errorf("status %s", resp.Status))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return backoff.Permanent(fmt.Errorf("decode envelope: %w", err))
	}
	if !env.Success {
		return backoff.Permanent(fmt.Errorf("unsuccessful response: %s", string(env.Error)))
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode result: %w", err))
	}
	return nil
}

func nonEmpty(filters map[string]string) map[string]string {
	out := make(map[string]string, len(filters))
	for k, v := range filters {
		if strings.TrimSpace(v) != "" {
			out[k] = v
		}
	}
	return out
}
