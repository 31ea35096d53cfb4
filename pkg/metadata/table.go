// Package metadata holds the registered tables that submitted queries may
// reference as namespace.name, and the cache policy they carry.
package metadata

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethpandaops/resthub/pkg/cache"
	"github.com/ethpandaops/resthub/pkg/sqltext"
	"github.com/ethpandaops/resthub/pkg/tabular"
)

// Table policy constants
const (
	EternalCacheTime = cache.EternalCacheTime
	SkipCacheTime    = cache.SkipCacheTime
	DefaultCacheTime = 120
	DefaultHitCount  = 0
	DefaultTimeout   = 30 * time.Second
	MaxRowsLimit     = 1000
	DefaultRowsLimit = MaxRowsLimit
	maxNameLength    = 30
)

// Define static errors
var (
	ErrTableNotFound    = errors.New("table not found")
	ErrInvalidName      = errors.New("invalid table name")
	ErrSQLRequired      = errors.New("table sql is required")
	ErrInvalidCacheTime = errors.New("cache time must be -1, 0 or positive")
	ErrInvalidRowsLimit = errors.New("rows limit out of range")
	ErrInvalidTimeout   = errors.New("timeout must not be negative")
)

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Parameter is a named :param of a table's SQL
type Parameter struct {
	Name string             `json:"name" yaml:"name"`
	Type tabular.ColumnType `json:"type,omitempty" yaml:"type,omitempty"`
}

// Table is a named SQL statement other queries can select from. Zero policy
// fields fall back to the configured defaults; CacheTime is a pointer so an
// explicit 0 (never cache) survives.
type Table struct {
	Namespace      string           `json:"namespace" yaml:"namespace"`
	Name           string           `json:"name" yaml:"name"`
	SQL            string           `json:"sql" yaml:"sql"`
	CacheTime      *int             `json:"cacheTime,omitempty" yaml:"cacheTime,omitempty"`
	HitCount       int              `json:"hitCount,omitempty" yaml:"hitCount,omitempty"`
	Timeout        int              `json:"timeout,omitempty" yaml:"timeout,omitempty"` // seconds
	RowsLimit      int              `json:"rowsLimit,omitempty" yaml:"rowsLimit,omitempty"`
	ConnectionName string           `json:"connectionName,omitempty" yaml:"connectionName,omitempty"`
	Columns        []tabular.Column `json:"columns,omitempty" yaml:"columns,omitempty"`
	Parameters     []Parameter      `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Ref returns the namespace.name reference of the table
func (t *Table) Ref() sqltext.Ref {
	return sqltext.Ref{Namespace: strings.ToLower(t.Namespace), Name: strings.ToLower(t.Name)}
}

// Key returns the lower-cased namespace.name
func (t *Table) Key() string {
	return t.Ref().String()
}

// Validate checks the table definition and normalizes names and parameters
func (t *Table) Validate() error {
	for _, n := range []string{t.Namespace, t.Name} {
		if len(n) > maxNameLength || !namePattern.MatchString(n) {
			return fmt.Errorf("%w: %q", ErrInvalidName, n)
		}
	}

	if strings.TrimSpace(t.SQL) == "" {
		return fmt.Errorf("%w: %s", ErrSQLRequired, t.Key())
	}

	if t.CacheTime != nil && *t.CacheTime < EternalCacheTime {
		return fmt.Errorf("%w: %d", ErrInvalidCacheTime, *t.CacheTime)
	}

	if t.RowsLimit < 0 || t.RowsLimit > MaxRowsLimit {
		return fmt.Errorf("%w: %d", ErrInvalidRowsLimit, t.RowsLimit)
	}

	if t.Timeout < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTimeout, t.Timeout)
	}

	t.Namespace = strings.ToLower(t.Namespace)
	t.Name = strings.ToLower(t.Name)

	if len(t.Parameters) == 0 {
		for _, name := range sqltext.Params(t.SQL) {
			t.Parameters = append(t.Parameters, Parameter{Name: name, Type: tabular.TypeString})
		}
	}

	return nil
}

// Policy returns the table's cache policy with unset fields taken from
// defaults. A negative hit count disables the hit budget.
func (t *Table) Policy(defaults cache.Policy) cache.Policy {
	p := defaults

	if t.CacheTime != nil {
		p.CacheTime = *t.CacheTime
	}

	switch {
	case t.HitCount > 0:
		p.HitCount = t.HitCount
	case t.HitCount < 0:
		p.HitCount = 0
	}

	if t.Timeout > 0 {
		p.Timeout = time.Duration(t.Timeout) * time.Second
	}

	if t.RowsLimit > 0 {
		p.RowsLimit = t.RowsLimit
	}
	if p.RowsLimit <= 0 || p.RowsLimit > MaxRowsLimit {
		p.RowsLimit = MaxRowsLimit
	}

	return p
}
