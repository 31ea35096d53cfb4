package metadata

import (
	"fmt"
	"time"

	"github.com/ethpandaops/resthub/pkg/cache"
)

// Defaults is the policy applied to queries that reference no table
type Defaults struct {
	CacheTime *int          `yaml:"cacheTime" default:"120"`
	HitCount  int           `yaml:"hitCount" default:"0"`
	Timeout   time.Duration `yaml:"timeout" default:"30s"`
	RowsLimit int           `yaml:"rowsLimit" default:"1000"`
}

// Validate checks the defaults
func (d *Defaults) Validate() error {
	if d.CacheTime != nil && *d.CacheTime < EternalCacheTime {
		return fmt.Errorf("%w: %d", ErrInvalidCacheTime, *d.CacheTime)
	}

	if d.RowsLimit < 0 || d.RowsLimit > MaxRowsLimit {
		return fmt.Errorf("%w: %d", ErrInvalidRowsLimit, d.RowsLimit)
	}

	if d.Timeout < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTimeout, d.Timeout)
	}

	return nil
}

// Policy converts the defaults to a cache policy
func (d *Defaults) Policy() cache.Policy {
	p := cache.Policy{
		CacheTime: DefaultCacheTime,
		HitCount:  d.HitCount,
		Timeout:   d.Timeout,
		RowsLimit: d.RowsLimit,
	}

	if d.CacheTime != nil {
		p.CacheTime = *d.CacheTime
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	if p.RowsLimit <= 0 {
		p.RowsLimit = DefaultRowsLimit
	}

	return p
}

// Combine merges the policies of every referenced table into the most
// conservative one: any SKIP skips, all eternal stays eternal, otherwise the
// shortest TTL wins. Hit budgets, timeouts and row limits take the smallest
// positive value. With no policies the defaults are returned.
func Combine(defaults cache.Policy, policies ...cache.Policy) cache.Policy {
	if len(policies) == 0 {
		return defaults
	}

	out := cache.Policy{CacheTime: cache.EternalCacheTime}
	skip := false

	for _, p := range policies {
		switch {
		case p.Skip():
			skip = true
		case !p.Eternal():
			out.CacheTime = minPositive(out.CacheTime, p.CacheTime)
		}

		out.HitCount = minPositive(out.HitCount, p.HitCount)
		out.RowsLimit = minPositive(out.RowsLimit, p.RowsLimit)

		if p.Timeout > 0 && (out.Timeout == 0 || p.Timeout < out.Timeout) {
			out.Timeout = p.Timeout
		}
	}

	if skip {
		out.CacheTime = cache.SkipCacheTime
	}
	if out.Timeout == 0 {
		out.Timeout = defaults.Timeout
	}
	if out.RowsLimit == 0 {
		out.RowsLimit = defaults.RowsLimit
	}

	return out
}

func minPositive(current, candidate int) int {
	if candidate <= 0 {
		return current
	}
	if current <= 0 || candidate < current {
		return candidate
	}

	return current
}
