// Copyright 2024 OrbitWatch

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package discos implements a client for the ESA DISCOS web API: paginated
// retrieval of raw catalog records with bearer-token authorization and
// rate-limit aware sequencing of page requests.
package discos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
)

type contextKey int

const (
	clientContextKey contextKey = iota
)

// URL is the default base URL of the server. It may be overwritten in tests
// before creating a new client.
var URL = "https://discosweb.esoc.esa.int"

// defaultPageSize is the fixed page size used for all dataset queries.
const defaultPageSize = 100

// rateLimitPadding is added to the server-supplied Retry-After value before
// going back for the next page.
const rateLimitPadding = 5.0

// Client for querying the DISCOS API.
type Client struct {
	baseURL    string
	token      string // bearer token for the Authorization header
	httpClient *http.Client
	sleep      func(time.Duration)
}

// newClient creates a new client.
func newClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: http.DefaultClient,
		sleep:      time.Sleep,
	}
}

// GetClient extracts the Client from the context, if any.
func GetClient(ctx context.Context) *Client {
	c, ok := ctx.Value(clientContextKey).(*Client)
	if !ok {
		return nil
	}
	return c
}

// UseClient creates a new client for the bearer token and injects it into the
// context.
func UseClient(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, clientContextKey, newClient(URL, token))
}

// SetHTTPClient replaces the underlying HTTP client, for tests.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// SetSleep replaces the rate-limit wait implementation, for tests.
func (c *Client) SetSleep(f func(time.Duration)) {
	c.sleep = f
}

// Query is a builder for a paginated dataset query.
type Query struct {
	path     string // URL path under /api/, e.g. "objects"
	include  string
	sort     string
	filter   string
	pageSize int
}

// NewQuery creates a new query for the given dataset path.
func NewQuery(path string) *Query {
	return &Query{path: path, pageSize: defaultPageSize}
}

// Copy creates a copy of the query. It is primarily used in its builder
// methods.
func (q *Query) Copy() *Query {
	q2 := *q
	return &q2
}

// Include sets the "include" query parameter. This and the other builder
// methods always create a copy of the query, leaving the original intact.
func (q *Query) Include(include string) *Query {
	q2 := q.Copy()
	q2.include = include
	return q2
}

// Sort sets the "sort" query parameter.
func (q *Query) Sort(sort string) *Query {
	q2 := q.Copy()
	q2.sort = sort
	return q2
}

// Filter sets the "filter" query parameter.
func (q *Query) Filter(filter string) *Query {
	q2 := q.Copy()
	q2.filter = filter
	return q2
}

// PageSize overrides the default page size, [1..100].
func (q *Query) PageSize(size int) *Query {
	if size < 1 {
		size = 1
	}
	if size > defaultPageSize {
		size = defaultPageSize
	}
	q2 := q.Copy()
	q2.pageSize = size
	return q2
}

// Path returns the URL path under the API root.
func (q *Query) Path() string {
	return q.path
}

// Values returns the query parameters for the given 1-based page number. Each
// call creates a new object, so the caller is free to modify it.
func (q *Query) Values(pageNumber int) url.Values {
	v := make(url.Values)
	v["page[number]"] = []string{strconv.Itoa(pageNumber)}
	v["page[size]"] = []string{strconv.Itoa(q.pageSize)}
	if q.include != "" {
		v["include"] = []string{q.include}
	}
	if q.sort != "" {
		v["sort"] = []string{q.sort}
	}
	if q.filter != "" {
		v["filter"] = []string{q.filter}
	}
	return v
}

// Ref is a single entity reference within a relationship.
type Ref struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Relationship holds the references of one relationship entry. The API sends
// "data" as null, a single reference object, or a list of references; all
// three decode into a (possibly empty) list. Link objects are discarded.
type Relationship struct {
	Refs []Ref
}

var _ json.Unmarshaler = &Relationship{}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Relationship) UnmarshalJSON(data []byte) error {
	var aux struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return errors.Annotate(err, "relationship is not a JSON object")
	}
	r.Refs = nil
	raw := bytes.TrimSpace(aux.Data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &r.Refs); err != nil {
			return errors.Annotate(err, "failed to decode reference list")
		}
		return nil
	}
	var single Ref
	if err := json.Unmarshal(raw, &single); err != nil {
		return errors.Annotate(err, "failed to decode reference")
	}
	r.Refs = []Ref{single}
	return nil
}

// RawRecord is one catalog entity as returned by the API, pre-normalization.
type RawRecord struct {
	ID            string                  `json:"id"`
	Type          string                  `json:"type"`
	Attributes    map[string]any          `json:"attributes"`
	Relationships map[string]Relationship `json:"relationships"`
}

// page is the response envelope of a single page request.
type page struct {
	Data []RawRecord `json:"data"`
	Meta struct {
		Pagination struct {
			TotalPages int `json:"totalPages"`
		} `json:"pagination"`
	} `json:"meta"`
}

// ApiError is returned for any non-2xx API response. Payload carries the
// decoded "error" object of the response body, when present.
type ApiError struct {
	Status  int
	Payload map[string]any
}

var _ error = &ApiError{}

func (e *ApiError) Error() string {
	if e.Payload == nil {
		return fmt.Sprintf("DISCOS request failed with status %d", e.Status)
	}
	return fmt.Sprintf("DISCOS request failed with status %d: %v", e.Status, e.Payload)
}

func newApiError(status int, body []byte) *ApiError {
	var envelope struct {
		Error map[string]any `json:"error"`
	}
	// A body that is not the documented error envelope still produces a
	// usable ApiError, just without a payload.
	_ = json.Unmarshal(body, &envelope)
	return &ApiError{Status: status, Payload: envelope.Error}
}

// quota is the rate-limit state carried by response headers.
type quota struct {
	known      bool
	remaining  int
	retryAfter float64 // seconds
}

func parseQuota(h http.Header) quota {
	var q quota
	remain := h.Get("X-Ratelimit-Remaining")
	if remain == "" {
		return q
	}
	n, err := strconv.Atoi(remain)
	if err != nil {
		return q
	}
	q.known = true
	q.remaining = n
	if after, err := strconv.ParseFloat(h.Get("Retry-After"), 64); err == nil {
		q.retryAfter = after
	}
	return q
}

// wait returns how long to suspend before the next request, and whether to
// suspend at all.
func (q quota) wait() (time.Duration, bool) {
	if !q.known || q.remaining > 0 {
		return 0, false
	}
	return time.Duration((q.retryAfter + rateLimitPadding) * float64(time.Second)), true
}

// getPage fetches and decodes a single page.
func (c *Client) getPage(ctx context.Context, q *Query, number int) (*page, quota, error) {
	uri := c.baseURL + "/api/" + q.Path()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, quota{}, errors.Annotate(err, "failed to create request for '%s'", uri)
	}
	req.URL.RawQuery = q.Values(number).Encode()
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, quota{}, errors.Annotate(err, "request for page %d of %s failed", number, q.Path())
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, quota{}, errors.Annotate(err, "failed to read page %d of %s", number, q.Path())
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, quota{}, newApiError(resp.StatusCode, body)
	}
	var p page
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, quota{}, errors.Annotate(err, "failed to decode page %d of %s", number, q.Path())
	}
	return &p, parseQuota(resp.Header), nil
}

// FetchAll downloads all pages of the query in increasing page order and
// returns the concatenated records, preserving the server-assigned order
// within each page. The remaining-quota header of each response is inspected
// before the next request; an exhausted quota suspends execution for the
// server-provided Retry-After plus a fixed padding, after which the request
// is issued exactly once. Any non-2xx response aborts the whole fetch with
// *ApiError; no partial result is returned.
func FetchAll(ctx context.Context, q *Query) ([]RawRecord, error) {
	client := GetClient(ctx)
	if client == nil {
		return nil, errors.Reason("FetchAll: no client in context")
	}
	p, quo, err := client.getPage(ctx, q, 1)
	if err != nil {
		return nil, err
	}
	records := p.Data
	totalPages := p.Meta.Pagination.TotalPages
	logging.Infof(ctx, "DISCOS: fetched page 1 / %d of %s with %d records",
		totalPages, q.Path(), len(p.Data))
	for n := 2; n <= totalPages; n++ {
		if wait, ok := quo.wait(); ok {
			logging.Infof(ctx, "DISCOS: request quota exhausted, waiting %s before page %d of %s",
				wait, n, q.Path())
			client.sleep(wait)
		}
		p, quo, err = client.getPage(ctx, q, n)
		if err != nil {
			return nil, err
		}
		records = append(records, p.Data...)
		logging.Infof(ctx, "DISCOS: fetched page %d / %d of %s with %d records",
			n, totalPages, q.Path(), len(p.Data))
	}
	return records, nil
}
