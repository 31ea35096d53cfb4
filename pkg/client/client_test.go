package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethpandaops/resthub/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer speaks the resthub wire protocol over an in-memory map
type fakeServer struct {
	mu      sync.Mutex
	next    int
	queries map[string]string
	paths   []string

	submits   atomic.Int64
	dataCalls atomic.Int64

	// forgetOnSubmit answers every submit with an id the server never knew
	forgetOnSubmit atomic.Bool
	failData       atomic.Bool
	failDeletes    atomic.Bool
}

func newFakeServer(t *testing.T) (*fakeServer, *Server) {
	t.Helper()

	fs := &fakeServer{queries: map[string]string{}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", fs.namespaces)
	mux.HandleFunc("GET /queries", fs.list)
	mux.HandleFunc("POST /query", fs.submit)
	mux.HandleFunc("GET /query/{id}", fs.get)
	mux.HandleFunc("DELETE /query/{id}", fs.delete)
	mux.HandleFunc("GET /query/{id}/count", fs.count)
	mux.HandleFunc("GET /query/{id}/data", fs.data)
	mux.HandleFunc("GET /query/{id}/page/{ppage}/{page}/data", fs.data)
	mux.HandleFunc("OPTIONS /query/{id}/data", fs.options)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := NewServer(srv.URL, WithHTTPClient(srv.Client()), WithLogger(testutil.NewLogger(t)))
	require.NoError(t, err)

	return fs, client
}

func (fs *fakeServer) forget(id string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.queries, id)
}

func (fs *fakeServer) lookup(w http.ResponseWriter, r *http.Request) (string, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.paths = append(fs.paths, r.URL.Path+"?"+r.URL.RawQuery)

	sql, ok := fs.queries[r.PathValue("id")]
	if !ok {
		http.Error(w, `{"error":"query not found","code":404}`, http.StatusNotFound)
	}

	return sql, ok
}

func (fs *fakeServer) namespaces(w http.ResponseWriter, _ *http.Request) {
	_, _ = io.WriteString(w, `{"hr":{"tables":["depts","staff"]}}`)
}

func (fs *fakeServer) list(w http.ResponseWriter, _ *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	out := map[string]QueryInfo{}
	for id, sql := range fs.queries {
		out[id] = QueryInfo{ID: id, Query: sql}
	}
	_ = json.NewEncoder(w).Encode(out)
}

func (fs *fakeServer) submit(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	fs.submits.Add(1)

	fs.mu.Lock()
	fs.next++
	id := fmt.Sprintf("q%d", fs.next)
	if !fs.forgetOnSubmit.Load() {
		fs.queries[id] = string(body)
	}
	fs.mu.Unlock()

	w.WriteHeader(http.StatusCreated)
	_, _ = io.WriteString(w, id)
}

func (fs *fakeServer) get(w http.ResponseWriter, r *http.Request) {
	sql, ok := fs.lookup(w, r)
	if !ok {
		return
	}

	info := QueryInfo{ID: r.PathValue("id"), Query: sql}
	if r.URL.Query().Get("v") == "true" {
		info.Params = map[string]string{"dept": "1"}
		info.Parameters = []string{"dept"}
	}
	_ = json.NewEncoder(w).Encode(info)
}

func (fs *fakeServer) delete(w http.ResponseWriter, r *http.Request) {
	fs.forget(r.PathValue("id"))

	if fs.failDeletes.Load() {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (fs *fakeServer) count(w http.ResponseWriter, r *http.Request) {
	if _, ok := fs.lookup(w, r); !ok {
		return
	}

	w.Header().Set(headerTruncated, "true")
	_, _ = io.WriteString(w, "1000")
}

func (fs *fakeServer) data(w http.ResponseWriter, r *http.Request) {
	fs.dataCalls.Add(1)

	if _, ok := fs.lookup(w, r); !ok {
		return
	}

	if fs.failData.Load() {
		http.Error(w, `{"error":"query execution failed","code":500}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set(headerTruncated, "false")

	switch r.Header.Get("Accept") {
	case MediaTypeCSV:
		w.Header().Set("Content-Type", MediaTypeCSV+"; charset=utf-8")
		_, _ = io.WriteString(w, "1\n")
	case MediaTypeXML:
		w.Header().Set("Content-Type", MediaTypeXML+"; charset=utf-8")
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><data><row><X>1</X></row></data>`)
	default:
		w.Header().Set("Content-Type", MediaTypeJSON)
		_, _ = io.WriteString(w, `{"rows":[{"X":"1"}]}`)
	}
}

func (fs *fakeServer) options(w http.ResponseWriter, r *http.Request) {
	if _, ok := fs.lookup(w, r); !ok {
		return
	}

	w.Header().Set("Allow", "GET, OPTIONS")
	w.WriteHeader(http.StatusNoContent)
}

func TestNewServer(t *testing.T) {
	for _, raw := range []string{"", "localhost:8080", "://bad"} {
		_, err := NewServer(raw)
		assert.ErrorIs(t, err, ErrBaseURLInvalid, "url %q", raw)
	}

	s, err := NewServer("http://localhost:8080/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", s.URL())

	// Deadlines come from the caller's context only
	assert.Zero(t, s.http.Timeout)

	custom := &http.Client{Timeout: time.Second}
	s, err = NewServer("http://localhost:8080", WithHTTPClient(custom))
	require.NoError(t, err)
	assert.Same(t, custom, s.http)
}

func TestStatusError_Is(t *testing.T) {
	var err error = &StatusError{Method: http.MethodGet, URL: "http://x/query/1", StatusCode: http.StatusNotFound}
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, fmt.Errorf("wrapped: %w", err), ErrNotFound)

	err = &StatusError{StatusCode: http.StatusInternalServerError, Body: "boom"}
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "boom")
}

func TestQueryHandle_LazySubmit(t *testing.T) {
	fs, server := newFakeServer(t)
	ctx := context.Background()

	h := server.NewQuery("SELECT 1 AS X", nil)
	assert.Empty(t, h.ID())
	assert.Equal(t, int64(0), fs.submits.Load())

	res, err := h.DataJSON(ctx)
	require.NoError(t, err)
	assert.Equal(t, []map[string]string{{"X": "1"}}, res.Rows)
	assert.Equal(t, "q1", h.ID())

	_, err = h.DataJSON(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fs.submits.Load())
}

func TestQueryHandle_RetriesOnceAfterServerSideDelete(t *testing.T) {
	fs, server := newFakeServer(t)
	ctx := context.Background()

	h := server.NewQuery("SELECT 1 AS X", nil)
	id, err := h.Bind(ctx)
	require.NoError(t, err)

	fs.forget(id)

	records, err := h.DataTable(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1"}}, records)

	assert.Equal(t, int64(2), fs.submits.Load())
	assert.Equal(t, int64(2), fs.dataCalls.Load())
	assert.NotEqual(t, id, h.ID())
}

func TestQueryHandle_SecondNotFoundIsFinal(t *testing.T) {
	fs, server := newFakeServer(t)
	fs.forgetOnSubmit.Store(true)

	h := server.NewQuery("SELECT 1 AS X", nil)

	_, err := h.DataJSON(context.Background())
	require.ErrorIs(t, err, ErrNotFound)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)

	assert.Equal(t, int64(2), fs.submits.Load())
	assert.Equal(t, int64(2), fs.dataCalls.Load())
}

func TestQueryHandle_OtherErrorsAreNotRetried(t *testing.T) {
	fs, server := newFakeServer(t)
	fs.failData.Store(true)

	h := server.NewQuery("SELECT 1 AS X", nil)

	_, err := h.Data(context.Background(), MediaTypeJSON)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)

	assert.Equal(t, int64(1), fs.submits.Load())
	assert.Equal(t, int64(1), fs.dataCalls.Load())
	assert.Equal(t, "q1", h.ID())
}

func TestQueryHandle_ConcurrentRefreshSubmitsOnce(t *testing.T) {
	fs, server := newFakeServer(t)
	ctx := context.Background()

	h := server.NewQuery("SELECT 1 AS X", nil)
	id, err := h.Bind(ctx)
	require.NoError(t, err)

	fs.forget(id)

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.DataJSON(ctx)
			if assert.NoError(t, err) {
				assert.Len(t, res.Rows, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(2), fs.submits.Load())
	assert.Equal(t, "q2", h.ID())
}

func TestQueryHandle_Delete(t *testing.T) {
	fs, server := newFakeServer(t)
	ctx := context.Background()

	h := server.NewQuery("SELECT 1 AS X", nil)
	require.NoError(t, h.Delete(ctx))

	_, err := h.Bind(ctx)
	require.NoError(t, err)
	require.NoError(t, h.Delete(ctx))
	assert.Empty(t, h.ID())

	ids, err := server.QueryIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	// A failed delete still unbinds
	_, err = h.Bind(ctx)
	require.NoError(t, err)
	fs.failDeletes.Store(true)

	err = h.Delete(ctx)
	require.Error(t, err)
	assert.Empty(t, h.ID())

	_, err = h.DataJSON(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), fs.submits.Load())
}

func TestQueryHandle_RequestOptions(t *testing.T) {
	fs, server := newFakeServer(t)
	ctx := context.Background()

	h := server.NewQuery("SELECT name FROM employees WHERE dept = :dept", map[string]string{"dept": "1"})

	_, err := h.Data(ctx, MediaTypeCSV, WithPage(10, 2), WithParam("dept", "2"), WithColumns())
	require.NoError(t, err)

	fs.mu.Lock()
	paths := fs.paths
	fs.mu.Unlock()

	require.Len(t, paths, 1)
	assert.Equal(t, "/query/q1/page/10/2/data?dept=2&print_cols=true", paths[0])
}

func TestQueryHandle_Accessors(t *testing.T) {
	_, server := newFakeServer(t)
	ctx := context.Background()

	h := server.NewQuery("SELECT 1 AS X", nil)

	data, err := h.Data(ctx, MediaTypeCSV)
	require.NoError(t, err)
	assert.Equal(t, MediaTypeCSV, data.MediaType)
	assert.False(t, data.Truncated)

	xmlRes, err := h.DataXML(ctx)
	require.NoError(t, err)
	assert.Equal(t, []map[string]string{{"X": "1"}}, xmlRes.Rows)

	n, truncated, err := h.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1000, n)
	assert.True(t, truncated)

	header, err := h.Options(ctx)
	require.NoError(t, err)
	assert.Equal(t, "GET, OPTIONS", header.Get("Allow"))

	info, err := h.Query(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1 AS X", info.Query)
	assert.Empty(t, info.Parameters)

	info, err = h.VerboseQuery(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dept"}, info.Parameters)
}

func TestServer_QueryHandleByID(t *testing.T) {
	fs, server := newFakeServer(t)
	ctx := context.Background()

	id, err := server.NewQuery("SELECT 1 AS X", nil).Bind(ctx)
	require.NoError(t, err)

	h, err := server.QueryHandle(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, h.ID())
	assert.Equal(t, "SELECT 1 AS X", h.SQL())

	// The SQL read from the server is enough to re-submit
	fs.forget(id)
	_, err = h.DataJSON(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, id, h.ID())

	_, err = server.QueryHandle(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServer_Namespaces(t *testing.T) {
	_, server := newFakeServer(t)

	namespaces, err := server.Namespaces(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]Namespace{"hr": {Tables: []string{"depts", "staff"}}}, namespaces)
}

func TestDecodeXML(t *testing.T) {
	data := &Data{Body: []byte(`<?xml version="1.0" encoding="UTF-8"?>
<data>
  <cols>
    <col><name>id</name><type>NUMBER</type><cname>ID</cname></col>
    <col><name>name</name><type>STRING</type><cname>NAME</cname></col>
  </cols>
  <row><ID>1</ID><NAME>Ada</NAME></row>
  <row><ID>4</ID></row>
</data>`)}

	res, err := decodeXML(data)
	require.NoError(t, err)
	require.Len(t, res.Columns, 2)
	assert.Equal(t, "NAME", res.Columns[1].CName)
	assert.Equal(t, []map[string]string{{"ID": "1", "NAME": "Ada"}, {"ID": "4"}}, res.Rows)

	_, err = decodeXML(&Data{Body: []byte("<data><row>")})
	assert.True(t, err != nil && !errors.Is(err, io.EOF))
}
