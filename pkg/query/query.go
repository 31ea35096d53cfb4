// Package query maps opaque query ids to submitted SQL and serves their
// cached, paginated results
package query

import (
	"errors"
	"net/url"
	"slices"
	"sync/atomic"
	"time"

	"github.com/ethpandaops/resthub/pkg/cache"
	"github.com/ethpandaops/resthub/pkg/tabular"
)

// Define static errors
var (
	ErrNotFound   = errors.New("query not found")
	ErrValidation = errors.New("invalid query")
	ErrExecution  = errors.New("query execution failed")
)

// Query is a submitted statement. Everything but the access clock and the
// discovered columns is fixed at submit time.
type Query struct {
	ID         string
	SQL        string
	Params     map[string]string
	Parameters []string
	Tables     []string
	Connection string
	Policy     cache.Policy
	Created    time.Time

	statement  string
	lastAccess atomic.Int64
	columns    atomic.Pointer[[]tabular.Column]
}

// Columns returns the result columns once the query has executed
func (q *Query) Columns() []tabular.Column {
	if cols := q.columns.Load(); cols != nil {
		return *cols
	}

	return nil
}

// LastAccess returns the time of the last submit or fetch
func (q *Query) LastAccess() time.Time {
	return time.Unix(0, q.lastAccess.Load())
}

func (q *Query) touch(now time.Time) {
	q.lastAccess.Store(now.UnixNano())
}

// effectiveParams merges fetch values over submit values, restricted to the
// statement's parameters. Parameters with no value are absent.
func (q *Query) effectiveParams(overrides map[string]string) map[string]string {
	out := make(map[string]string, len(q.Parameters))

	for _, name := range q.Parameters {
		if v, ok := overrides[name]; ok {
			out[name] = v
		} else if v, ok := q.Params[name]; ok {
			out[name] = v
		}
	}

	return out
}

// cacheKey identifies one result of the query: the id plus the effective
// parameter values in canonical order
func (q *Query) cacheKey(params map[string]string) string {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}

	// Encode sorts by key
	return keyPrefix(q.ID) + values.Encode()
}

func keyPrefix(id string) string {
	return id + "?"
}

func bindValues(params map[string]string) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}

	return out
}

func sortedIDs(queries map[string]*Query) []string {
	ids := make([]string, 0, len(queries))
	for id := range queries {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return ids
}
