package query

import (
	"context"
	"fmt"
	"io"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/ethpandaops/resthub/pkg/cache"
	"github.com/ethpandaops/resthub/pkg/converter"
	"github.com/ethpandaops/resthub/pkg/executor"
	"github.com/ethpandaops/resthub/pkg/metadata"
	"github.com/ethpandaops/resthub/pkg/observability"
	"github.com/ethpandaops/resthub/pkg/sqltext"
	"github.com/ethpandaops/resthub/pkg/tabular"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Tables resolves namespace.name references to table definitions
type Tables interface {
	Lookup(ref sqltext.Ref) (*metadata.Table, bool)
}

// Options configures a registry
type Options struct {
	// Defaults is the policy of queries that reference no table
	Defaults cache.Policy
	// Retention is the idle time after which CleanQueries removes a query;
	// zero keeps queries until deleted
	Retention time.Duration
}

// FetchRequest addresses a window of a query's result
type FetchRequest struct {
	// Page is the 1-based page number; zero with PageSize zero selects all rows
	Page int
	// PageSize is the number of rows per page
	PageSize int
	// Params override the submit-time parameter values
	Params map[string]string
	// MediaType selects the converter; empty selects the default
	MediaType string
}

// Data is a fetched result window and the converter chosen for it
type Data struct {
	Result    *tabular.Result
	Converter converter.Converter
}

// Render streams the window through the converter
func (d *Data) Render(w io.Writer, opts converter.Options) error {
	return d.Converter.Convert(w, d.Result, opts)
}

// Lob is the content of one BLOB or CLOB cell
type Lob struct {
	Type tabular.ColumnType
	Data []byte
}

// Registry owns the submitted queries and their cached results. The map
// lock is only held to look up, add or remove entries; execution runs
// outside it, single-flighted per result key by the cache.
type Registry struct {
	log      logrus.FieldLogger
	executor executor.Executor
	tables   Tables
	cache    *cache.Store
	opts     Options
	now      func() time.Time

	mu      sync.RWMutex
	queries map[string]*Query
}

// NewRegistry creates an empty registry
func NewRegistry(log logrus.FieldLogger, exec executor.Executor, tables Tables, store *cache.Store, opts Options) *Registry {
	return &Registry{
		log:      log.WithField("component", "registry"),
		executor: exec,
		tables:   tables,
		cache:    store,
		opts:     opts,
		now:      time.Now,
		queries:  make(map[string]*Query),
	}
}

// Submit validates sql, registers it and returns its new id. The statement
// is prepared but not executed.
func (r *Registry) Submit(ctx context.Context, sql string, params map[string]string) (string, error) {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return "", fmt.Errorf("%w: empty statement", ErrValidation)
	}

	switch kw := sqltext.FirstKeyword(sql); kw {
	case "SELECT", "WITH":
	default:
		return "", fmt.Errorf("%w: only SELECT statements are accepted, got %q", ErrValidation, kw)
	}

	statement, refs := sqltext.Expand(sql, func(ref sqltext.Ref) (string, bool) {
		table, ok := r.tables.Lookup(ref)
		if !ok {
			return "", false
		}
		return table.SQL, true
	})

	q := &Query{
		ID:         uuid.NewString(),
		SQL:        sql,
		Params:     maps.Clone(params),
		Parameters: sqltext.Params(statement),
		Connection: executor.DefaultConnection,
		Policy:     r.opts.Defaults,
		Created:    r.now(),
		statement:  statement,
	}
	if q.Params == nil {
		q.Params = map[string]string{}
	}

	if len(refs) > 0 {
		if err := r.applyTables(q, refs); err != nil {
			return "", err
		}
	}

	if !r.executor.HasConnection(q.Connection) {
		return "", fmt.Errorf("%w: unknown connection %s", ErrValidation, q.Connection)
	}

	if err := r.executor.Validate(ctx, q.Connection, statement); err != nil {
		return "", fmt.Errorf("%w: %w", ErrValidation, err)
	}

	q.touch(q.Created)

	r.mu.Lock()
	r.queries[q.ID] = q
	live := len(r.queries)
	r.mu.Unlock()

	observability.SetQueriesLive(live)

	r.log.WithFields(logrus.Fields{
		"id":         q.ID,
		"connection": q.Connection,
		"tables":     q.Tables,
		"policy":     q.Policy.String(),
	}).Debug("Registered query")

	return q.ID, nil
}

// applyTables derives the connection and policy from referenced tables
func (r *Registry) applyTables(q *Query, refs []sqltext.Ref) error {
	policies := make([]cache.Policy, 0, len(refs))
	connection := ""

	for _, ref := range refs {
		table, _ := r.tables.Lookup(ref)

		conn := table.ConnectionName
		if conn == "" {
			conn = executor.DefaultConnection
		}
		if connection != "" && conn != connection {
			return fmt.Errorf("%w: tables span connections %s and %s", ErrValidation, connection, conn)
		}
		connection = conn

		policies = append(policies, table.Policy(r.opts.Defaults))
		q.Tables = append(q.Tables, ref.String())
	}

	q.Connection = connection
	q.Policy = metadata.Combine(r.opts.Defaults, policies...)

	return nil
}

// Get returns a live query
func (r *Registry) Get(id string) (*Query, error) {
	r.mu.RLock()
	q, ok := r.queries[id]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return q, nil
}

func (r *Registry) isLive(q *Query) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.queries[q.ID] == q
}

// List returns the live queries ordered by id
func (r *Registry) List() []*Query {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Query, 0, len(r.queries))
	for _, id := range sortedIDs(r.queries) {
		out = append(out, r.queries[id])
	}

	return out
}

// result returns the full, rows-limit bounded result for the effective
// parameters, executing on a cache miss
func (r *Registry) result(ctx context.Context, id string, params map[string]string) (*Query, *tabular.Result, error) {
	q, err := r.Get(id)
	if err != nil {
		return nil, nil, err
	}

	q.touch(r.now())

	effective := q.effectiveParams(params)

	res, err := r.cache.GetOrExecute(ctx, q.cacheKey(effective), q.Policy, func(ctx context.Context) (*tabular.Result, error) {
		return r.executor.Execute(ctx, executor.Request{
			Connection: q.Connection,
			SQL:        q.statement,
			Params:     bindValues(effective),
			Timeout:    q.Policy.Timeout,
			RowsLimit:  q.Policy.RowsLimit,
		})
	})
	if err != nil {
		r.log.WithError(err).WithField("id", id).Warn("Query execution failed")
		return nil, nil, fmt.Errorf("%w: %w", ErrExecution, err)
	}

	// A delete or sweep that ran during execution evicted before the result
	// was stored; drop it so it cannot outlive its query
	if !r.isLive(q) {
		r.cache.EvictPrefix(keyPrefix(id))
	}

	if q.columns.Load() == nil {
		cols := res.Columns
		q.columns.CompareAndSwap(nil, &cols)
	}

	return q, res, nil
}

// Fetch returns the requested window of a query's result along with the
// converter for the requested media type. An unknown id returns ErrNotFound;
// an unsupported media type is rejected before anything executes.
func (r *Registry) Fetch(ctx context.Context, id string, req FetchRequest) (*Data, error) {
	if req.Page < 0 || req.PageSize < 0 {
		return nil, fmt.Errorf("%w: negative page window %d/%d", ErrValidation, req.PageSize, req.Page)
	}

	conv, err := converter.Lookup(req.MediaType)
	if err != nil {
		return nil, err
	}

	_, res, err := r.result(ctx, id, req.Params)
	if err != nil {
		return nil, err
	}

	return &Data{
		Result:    res.Page(req.Page, req.PageSize),
		Converter: conv,
	}, nil
}

// Count returns the number of rows of a query's bounded result and whether
// it was truncated
func (r *Registry) Count(ctx context.Context, id string, params map[string]string) (int, bool, error) {
	_, res, err := r.result(ctx, id, params)
	if err != nil {
		return 0, false, err
	}

	return res.Len(), res.Truncated, nil
}

// Lob returns the content of a LOB cell. Row is 1-based within the window
// addressed by req, matching the references rendered by the converters.
func (r *Registry) Lob(ctx context.Context, id string, req FetchRequest, cname string, row int) (*Lob, error) {
	if req.Page < 0 || req.PageSize < 0 {
		return nil, fmt.Errorf("%w: negative page window %d/%d", ErrValidation, req.PageSize, req.Page)
	}

	_, res, err := r.result(ctx, id, req.Params)
	if err != nil {
		return nil, err
	}

	window := res.Page(req.Page, req.PageSize)

	col, ok := window.Column(cname)
	if !ok || !window.Columns[col].Type.IsLob() {
		return nil, fmt.Errorf("%w: no LOB column %s in query %s", ErrNotFound, cname, id)
	}

	values, ok := window.Row(row - 1)
	if !ok {
		return nil, fmt.Errorf("%w: no row %d in query %s", ErrNotFound, row, id)
	}

	lob := &Lob{Type: window.Columns[col].Type}

	switch v := values[col].(type) {
	case nil:
	case []byte:
		lob.Data = v
	case string:
		lob.Data = []byte(v)
	default:
		lob.Data = fmt.Append(nil, v)
	}

	return lob, nil
}

// Delete removes a query and its cached results. Unknown ids are ignored.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	_, ok := r.queries[id]
	delete(r.queries, id)
	live := len(r.queries)
	r.mu.Unlock()

	if !ok {
		return false
	}

	r.cache.EvictPrefix(keyPrefix(id))

	observability.SetQueriesLive(live)
	observability.RecordQueryRemoved("deleted")

	r.log.WithField("id", id).Debug("Deleted query")

	return true
}

// CleanQueries removes every query idle for longer than the retention
// window and returns how many were removed. Candidates are collected under
// a read lock and removed one at a time so fetches are never held up by a
// full sweep.
func (r *Registry) CleanQueries(now time.Time) int {
	if r.opts.Retention <= 0 {
		return 0
	}

	r.mu.RLock()
	candidates := make([]*Query, 0, len(r.queries))
	for _, q := range r.queries {
		if now.Sub(q.LastAccess()) > r.opts.Retention {
			candidates = append(candidates, q)
		}
	}
	r.mu.RUnlock()

	removed := 0

	for _, q := range candidates {
		r.mu.Lock()
		current, ok := r.queries[q.ID]
		// Re-check under the lock: a fetch may have touched it since
		idle := ok && current == q && now.Sub(q.LastAccess()) > r.opts.Retention
		if idle {
			delete(r.queries, q.ID)
		}
		live := len(r.queries)
		r.mu.Unlock()

		if !idle {
			continue
		}

		r.cache.EvictPrefix(keyPrefix(q.ID))
		observability.SetQueriesLive(live)
		observability.RecordQueryRemoved("idle")
		removed++
	}

	if removed > 0 {
		r.log.WithField("removed", removed).Info("Removed idle queries")
	}

	return removed
}

// Len returns the number of live queries
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.queries)
}
