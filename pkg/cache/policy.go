// Package cache stores executed query results under a per-entry expiration
// and hit-budget policy, single-flighting execution per key.
package cache

import (
	"fmt"
	"time"
)

// Cache time markers, in seconds
const (
	EternalCacheTime = -1
	SkipCacheTime    = 0
)

// Policy controls how a query result is cached and executed
type Policy struct {
	// CacheTime is the TTL in seconds: -1 eternal, 0 never cached
	CacheTime int `json:"cacheTime" yaml:"cacheTime"`
	// HitCount is the number of cache hits served before a forced
	// re-execution; zero or negative means no hit budget
	HitCount int `json:"hitCount" yaml:"hitCount"`
	// Timeout bounds execution of the underlying query
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// RowsLimit caps the rows materialized per execution
	RowsLimit int `json:"rowsLimit" yaml:"rowsLimit"`
}

// Skip reports whether results are never cached
func (p Policy) Skip() bool {
	return p.CacheTime == SkipCacheTime
}

// Eternal reports whether results never expire by age
func (p Policy) Eternal() bool {
	return p.CacheTime < 0
}

// TTL returns the age limit of a cached result, zero when eternal
func (p Policy) TTL() time.Duration {
	if p.CacheTime <= 0 {
		return 0
	}

	return time.Duration(p.CacheTime) * time.Second
}

func (p Policy) String() string {
	return fmt.Sprintf("cacheTime=%d hitCount=%d timeout=%s rowsLimit=%d", p.CacheTime, p.HitCount, p.Timeout, p.RowsLimit)
}
