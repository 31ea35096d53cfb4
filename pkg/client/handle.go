package client

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethpandaops/resthub/pkg/tabular"
)

// Media types understood by the server
const (
	MediaTypeJSON = "application/json"
	MediaTypeXML  = "text/xml"
	MediaTypeCSV  = "text/csv"
	MediaTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// headerTruncated is set on data and count responses
const headerTruncated = "X-Resthub-Truncated"

// QueryInfo is the server's description of a query
type QueryInfo struct {
	ID         string            `json:"id"`
	Query      string            `json:"query"`
	Parameters []string          `json:"parameters,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	Tables     []string          `json:"tables,omitempty"`
	Connection string            `json:"connection,omitempty"`
	CacheTime  int               `json:"cacheTime,omitempty"`
	HitCount   int               `json:"hitCount,omitempty"`
	Timeout    float64           `json:"timeout,omitempty"`
	RowsLimit  int               `json:"rowsLimit,omitempty"`
	Columns    []tabular.Column  `json:"columns,omitempty"`
	Created    time.Time         `json:"created,omitzero"`
	LastAccess time.Time         `json:"lastAccess,omitzero"`
}

// Data is one fetched data response
type Data struct {
	MediaType string
	Body      []byte
	Truncated bool
}

// FetchOption adjusts a data or count request
type FetchOption func(*fetchOptions)

type fetchOptions struct {
	pageSize     int
	page         int
	params       map[string]string
	header       http.Header
	printColumns bool
}

// WithPage selects page number of pages holding size rows each
func WithPage(size, number int) FetchOption {
	return func(o *fetchOptions) {
		o.pageSize = size
		o.page = number
	}
}

// WithParam overrides a statement parameter for this request
func WithParam(name, value string) FetchOption {
	return func(o *fetchOptions) { o.params[name] = value }
}

// WithParams overrides several statement parameters for this request
func WithParams(params map[string]string) FetchOption {
	return func(o *fetchOptions) { maps.Copy(o.params, params) }
}

// WithHeader adds a request header
func WithHeader(key, value string) FetchOption {
	return func(o *fetchOptions) { o.header.Add(key, value) }
}

// WithColumns asks for the column section ahead of the rows
func WithColumns() FetchOption {
	return func(o *fetchOptions) { o.printColumns = true }
}

func newFetchOptions(opts []FetchOption) *fetchOptions {
	o := &fetchOptions{
		params: map[string]string{},
		header: http.Header{},
	}
	for _, opt := range opts {
		opt(o)
	}

	return o
}

func (o *fetchOptions) query() url.Values {
	q := url.Values{}
	for k, v := range o.params {
		q.Set(k, v)
	}
	if o.printColumns {
		q.Set("print_cols", "true")
	}

	return q
}

func (o *fetchOptions) dataPath(id string) string {
	path := "/query/" + url.PathEscape(id)
	if o.pageSize != 0 || o.page != 0 {
		path += "/page/" + strconv.Itoa(o.pageSize) + "/" + strconv.Itoa(o.page)
	}

	return path + "/data"
}

// QueryHandle binds SQL to a server-side query id.
//
// Requests run while holding the binding in shared mode. Binding or
// rebinding needs exclusive mode, and a reader always releases its shared
// hold before asking for it, so a reader never waits on itself. A request
// answered with 404 rebinds and is retried exactly once; a second 404 is
// returned to the caller.
type QueryHandle struct {
	server *Server
	sql    string
	params map[string]string

	mu sync.RWMutex
	id string
}

func newQueryHandle(s *Server, sql string, params map[string]string, id string) *QueryHandle {
	return &QueryHandle{
		server: s,
		sql:    sql,
		params: maps.Clone(params),
		id:     id,
	}
}

// SQL returns the statement behind the handle
func (h *QueryHandle) SQL() string {
	return h.sql
}

// ID returns the bound id, empty while unbound
func (h *QueryHandle) ID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.id
}

// Bind submits the statement unless the handle is already bound and
// returns the bound id
func (h *QueryHandle) Bind(ctx context.Context) (string, error) {
	id, err := h.acquire(ctx, "")
	if err != nil {
		return "", err
	}
	h.mu.RUnlock()

	return id, nil
}

// acquire returns a bound id other than stale with the binding held in
// shared mode. The caller must RUnlock.
func (h *QueryHandle) acquire(ctx context.Context, stale string) (string, error) {
	for {
		h.mu.RLock()
		if h.id != "" && h.id != stale {
			return h.id, nil
		}
		h.mu.RUnlock()

		if err := h.rebind(ctx, stale); err != nil {
			return "", err
		}
	}
}

// rebind submits the statement in exclusive mode unless another caller
// already replaced the stale binding
func (h *QueryHandle) rebind(ctx context.Context, stale string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.id != "" && h.id != stale {
		return nil
	}

	id, err := h.server.submit(ctx, h.sql, h.params)
	if err != nil {
		return err
	}

	if stale != "" {
		h.server.log.WithField("stale", stale).WithField("id", id).Debug("Re-submitted query")
	}

	h.id = id

	return nil
}

// withID runs fn against the bound id, retrying once on a fresh binding
// when the server reports the id unknown
func (h *QueryHandle) withID(ctx context.Context, fn func(id string) error) error {
	stale := ""

	for attempt := 0; ; attempt++ {
		id, err := h.acquire(ctx, stale)
		if err != nil {
			return err
		}

		err = fn(id)
		h.mu.RUnlock()

		if attempt == 0 && errors.Is(err, ErrNotFound) {
			stale = id
			continue
		}

		return err
	}
}

// Data fetches the result in mediaType
func (h *QueryHandle) Data(ctx context.Context, mediaType string, opts ...FetchOption) (*Data, error) {
	o := newFetchOptions(opts)
	o.header.Set("Accept", mediaType)

	var out *Data

	err := h.withID(ctx, func(id string) error {
		body, header, err := h.server.read(ctx, request{
			method: http.MethodGet,
			path:   o.dataPath(id),
			query:  o.query(),
			header: o.header,
		})
		if err != nil {
			return err
		}

		truncated, _ := strconv.ParseBool(header.Get(headerTruncated))
		out = &Data{
			MediaType: mediaTypeOf(header.Get("Content-Type")),
			Body:      body,
			Truncated: truncated,
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// DataJSON fetches and decodes the JSON encoding
func (h *QueryHandle) DataJSON(ctx context.Context, opts ...FetchOption) (*Result, error) {
	data, err := h.Data(ctx, MediaTypeJSON, opts...)
	if err != nil {
		return nil, err
	}

	return decodeJSON(data)
}

// DataXML fetches and decodes the XML encoding
func (h *QueryHandle) DataXML(ctx context.Context, opts ...FetchOption) (*Result, error) {
	data, err := h.Data(ctx, MediaTypeXML, opts...)
	if err != nil {
		return nil, err
	}

	return decodeXML(data)
}

// DataTable fetches the CSV encoding as records
func (h *QueryHandle) DataTable(ctx context.Context, opts ...FetchOption) ([][]string, error) {
	data, err := h.Data(ctx, MediaTypeCSV, opts...)
	if err != nil {
		return nil, err
	}

	return DecodeCSV(data)
}

// Count returns the number of rows and whether the result was truncated
func (h *QueryHandle) Count(ctx context.Context, opts ...FetchOption) (int, bool, error) {
	o := newFetchOptions(opts)

	var (
		n         int
		truncated bool
	)

	err := h.withID(ctx, func(id string) error {
		body, header, err := h.server.read(ctx, request{
			method: http.MethodGet,
			path:   "/query/" + url.PathEscape(id) + "/count",
			query:  o.query(),
			header: o.header,
		})
		if err != nil {
			return err
		}

		n, err = strconv.Atoi(strings.TrimSpace(string(body)))
		if err != nil {
			return err
		}
		truncated, _ = strconv.ParseBool(header.Get(headerTruncated))

		return nil
	})

	return n, truncated, err
}

// Options probes the data resource without executing the query and returns
// the response headers
func (h *QueryHandle) Options(ctx context.Context) (http.Header, error) {
	var out http.Header

	err := h.withID(ctx, func(id string) error {
		resp, err := h.server.do(ctx, request{
			method: http.MethodOptions,
			path:   "/query/" + url.PathEscape(id) + "/data",
		})
		if err != nil {
			return err
		}

		out = resp.Header

		return resp.Body.Close()
	})

	return out, err
}

// Query returns the server's description of the query
func (h *QueryHandle) Query(ctx context.Context) (*QueryInfo, error) {
	return h.info(ctx, false)
}

// VerboseQuery adds parameters, cache policy and known columns to Query
func (h *QueryHandle) VerboseQuery(ctx context.Context) (*QueryInfo, error) {
	return h.info(ctx, true)
}

func (h *QueryHandle) info(ctx context.Context, verbose bool) (*QueryInfo, error) {
	var out *QueryInfo

	err := h.withID(ctx, func(id string) error {
		info, err := h.server.queryInfo(ctx, id, verbose)
		if err != nil {
			return err
		}
		out = info

		return nil
	})

	return out, err
}

// Delete removes the query from the server. The handle is unbound
// afterwards whether or not the server call succeeded; the next request
// submits the statement again.
func (h *QueryHandle) Delete(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.id
	h.id = ""

	if id == "" {
		return nil
	}

	return h.server.deleteQuery(ctx, id)
}

func mediaTypeOf(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.TrimSpace(mt)
}
