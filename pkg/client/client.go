// Package client talks to a resthub server. A QueryHandle binds SQL to a
// server-side query id and transparently re-submits the SQL once when the
// server no longer knows the id.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/ethpandaops/resthub/pkg/metadata"
	"github.com/sirupsen/logrus"
)

// maxErrorBody bounds the response body kept on a StatusError
const maxErrorBody = 4096

// Define static errors
var (
	ErrNotFound       = errors.New("resource not found")
	ErrBaseURLInvalid = errors.New("invalid server url")
	ErrEmptyQueryID   = errors.New("server returned an empty query id")
)

// StatusError is a non-2xx response. errors.Is(err, ErrNotFound) holds for
// 404 responses.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode), strings.TrimSpace(e.Body))
}

// Is reports whether e is the NotFound status
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Namespace describes one namespace served by the server
type Namespace struct {
	Tables []string `json:"tables"`
}

// Option configures a Server
type Option func(*Server)

// WithHTTPClient sets the HTTP client used for every request
func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) { s.http = c }
}

// WithLogger sets the logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Server) { s.log = log }
}

// Server is a resthub server endpoint
type Server struct {
	base *url.URL
	http *http.Client
	log  logrus.FieldLogger
}

// NewServer creates a client for the server at baseURL
func NewServer(baseURL string, opts ...Option) (*Server, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBaseURLInvalid, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrBaseURLInvalid, baseURL)
	}

	s := &Server{
		base: base,
		http: &http.Client{},
		log:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.log = s.log.WithField("component", "client")

	return s, nil
}

// URL returns the server address
func (s *Server) URL() string {
	return s.base.String()
}

// request describes one call to the server
type request struct {
	method string
	path   string
	query  url.Values
	header http.Header
	body   string
}

// do performs req. Non-2xx responses are returned as *StatusError with the
// body drained; the caller closes the body of successful responses.
func (s *Server) do(ctx context.Context, req request) (*http.Response, error) {
	u := *s.base
	u.Path += req.path
	u.RawQuery = req.query.Encode()

	var body io.Reader
	if req.body != "" {
		body = strings.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	for k, values := range req.header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	if req.body != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "text/plain; charset=utf-8")
	}

	resp, err := s.http.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()

		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return nil, &StatusError{
			Method:     req.method,
			URL:        u.String(),
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}

	return resp, nil
}

// read performs req and returns the whole response
func (s *Server) read(ctx context.Context, req request) ([]byte, http.Header, error) {
	resp, err := s.do(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return data, resp.Header, nil
}

func (s *Server) readJSON(ctx context.Context, req request, out any) error {
	data, _, err := s.read(ctx, req)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", req.path, err)
	}

	return nil
}

// Namespaces returns the namespaces and their tables
func (s *Server) Namespaces(ctx context.Context) (map[string]Namespace, error) {
	out := map[string]Namespace{}
	if err := s.readJSON(ctx, request{method: http.MethodGet, path: "/"}, &out); err != nil {
		return nil, err
	}

	return out, nil
}

// Table returns the metadata of one table
func (s *Server) Table(ctx context.Context, namespace, name string) (*metadata.Table, error) {
	path := "/table/" + url.PathEscape(namespace) + "/" + url.PathEscape(name)

	table := &metadata.Table{}
	if err := s.readJSON(ctx, request{method: http.MethodGet, path: path}, table); err != nil {
		return nil, err
	}

	return table, nil
}

// QueryIDs returns the ids of every live query, sorted
func (s *Server) QueryIDs(ctx context.Context) ([]string, error) {
	var out map[string]QueryInfo
	if err := s.readJSON(ctx, request{method: http.MethodGet, path: "/queries"}, &out); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(out))
	for id := range out {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return ids, nil
}

// NewQuery returns an unbound handle for sql. The statement is submitted on
// first use.
func (s *Server) NewQuery(sql string, params map[string]string) *QueryHandle {
	return newQueryHandle(s, sql, params, "")
}

// QueryHandle returns a handle bound to an existing query. The query's SQL
// is read from the server so the handle can re-submit it later.
func (s *Server) QueryHandle(ctx context.Context, id string) (*QueryHandle, error) {
	info, err := s.queryInfo(ctx, id, true)
	if err != nil {
		return nil, err
	}

	return newQueryHandle(s, info.Query, info.Params, id), nil
}

func (s *Server) submit(ctx context.Context, sql string, params map[string]string) (string, error) {
	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}

	data, _, err := s.read(ctx, request{
		method: http.MethodPost,
		path:   "/query",
		query:  query,
		body:   sql,
	})
	if err != nil {
		return "", err
	}

	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", ErrEmptyQueryID
	}

	return id, nil
}

func (s *Server) queryInfo(ctx context.Context, id string, verbose bool) (*QueryInfo, error) {
	query := url.Values{}
	if verbose {
		query.Set("v", "true")
	}

	info := &QueryInfo{}
	if err := s.readJSON(ctx, request{method: http.MethodGet, path: "/query/" + url.PathEscape(id), query: query}, info); err != nil {
		return nil, err
	}

	return info, nil
}

func (s *Server) deleteQuery(ctx context.Context, id string) error {
	resp, err := s.do(ctx, request{method: http.MethodDelete, path: "/query/" + url.PathEscape(id)})
	if err != nil {
		return err
	}

	return resp.Body.Close()
}
