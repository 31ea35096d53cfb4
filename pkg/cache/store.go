package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethpandaops/resthub/pkg/observability"
	"github.com/ethpandaops/resthub/pkg/tabular"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ExecuteFunc produces a fresh result for a cache key
type ExecuteFunc func(ctx context.Context) (*tabular.Result, error)

// Stats is a point-in-time view of cache activity
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
}

// Store keeps results keyed by string. The map lock is only held to look up
// or swap entry pointers; expiry and hit accounting use the entry's own lock
// so one key never blocks another.
type Store struct {
	log   logrus.FieldLogger
	now   func() time.Time
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]*entry

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type entry struct {
	mu       sync.Mutex
	result   *tabular.Result
	storedAt time.Time
	ttl      time.Duration
	hitCount int
	hits     int
}

// stale must be called with e.mu held
func (e *entry) stale(now time.Time) bool {
	if e.ttl > 0 && now.Sub(e.storedAt) >= e.ttl {
		return true
	}

	return e.hitCount > 0 && e.hits >= e.hitCount
}

// NewStore creates an empty store
func NewStore(log logrus.FieldLogger) *Store {
	return &Store{
		log:     log.WithField("component", "cache"),
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// GetOrExecute returns the cached result for key when it is present, within
// its TTL and under its hit budget. Otherwise it runs exec, caches the result
// according to policy and returns it. Concurrent callers for the same key
// share one execution and receive the same result or error. Failed
// executions are never cached.
func (s *Store) GetOrExecute(ctx context.Context, key string, policy Policy, exec ExecuteFunc) (*tabular.Result, error) {
	if !policy.Skip() {
		if res, ok := s.lookup(key); ok {
			return res, nil
		}
	}

	// The flight outlives any single caller; the executor bounds it.
	flightCtx := context.WithoutCancel(ctx)

	v, err, shared := s.group.Do(key, func() (any, error) {
		if !policy.Skip() {
			if res, ok := s.lookup(key); ok {
				return res, nil
			}
		}

		s.misses.Add(1)
		observability.RecordCacheMiss()

		res, err := exec(flightCtx)
		if err != nil {
			return nil, err
		}

		if !policy.Skip() {
			s.put(key, res, policy)
		}

		return res, nil
	})
	if err != nil {
		return nil, err
	}

	if shared {
		s.log.WithField("key", key).Debug("Shared in-flight execution")
	}

	res, _ := v.(*tabular.Result)

	return res, nil
}

func (s *Store) lookup(key string) (*tabular.Result, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}

	e.mu.Lock()
	if e.stale(s.now()) {
		e.mu.Unlock()
		s.remove(key, e)

		return nil, false
	}

	e.hits++
	res := e.result
	e.mu.Unlock()

	s.hits.Add(1)
	observability.RecordCacheHit()

	return res, true
}

func (s *Store) put(key string, res *tabular.Result, policy Policy) {
	e := &entry{
		result:   res,
		storedAt: s.now(),
		ttl:      policy.TTL(),
		hitCount: policy.HitCount,
	}

	s.mu.Lock()
	s.entries[key] = e
	size := len(s.entries)
	s.mu.Unlock()

	observability.SetCacheSize(size)
}

// remove deletes key only if it still maps to e, so a fresh replacement
// stored concurrently survives.
func (s *Store) remove(key string, e *entry) bool {
	s.mu.Lock()
	current, ok := s.entries[key]
	if ok && current == e {
		delete(s.entries, key)
	}
	size := len(s.entries)
	s.mu.Unlock()

	if !ok || current != e {
		return false
	}

	s.evictions.Add(1)
	observability.RecordCacheEviction()
	observability.SetCacheSize(size)

	return true
}

func (s *Store) snapshot(match func(string) bool) map[string]*entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*entry, len(s.entries))
	for k, e := range s.entries {
		if match == nil || match(k) {
			out[k] = e
		}
	}

	return out
}

// EvictExpired removes every stale entry: TTL elapsed or hit budget spent.
// Eternal entries are only removed once their hit budget is spent.
// It returns the number of removed entries.
func (s *Store) EvictExpired(now time.Time) int {
	removed := 0

	for key, e := range s.snapshot(nil) {
		e.mu.Lock()
		stale := e.stale(now)
		e.mu.Unlock()

		if stale && s.remove(key, e) {
			removed++
		}
	}

	return removed
}

// Evict removes a single key
func (s *Store) Evict(key string) bool {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return false
	}

	return s.remove(key, e)
}

// EvictPrefix removes every key starting with prefix and returns the count
func (s *Store) EvictPrefix(prefix string) int {
	removed := 0

	for key, e := range s.snapshot(func(k string) bool { return strings.HasPrefix(k, prefix) }) {
		if s.remove(key, e) {
			removed++
		}
	}

	return removed
}

// Stats returns cache counters
func (s *Store) Stats() Stats {
	s.mu.RLock()
	size := len(s.entries)
	s.mu.RUnlock()

	return Stats{
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Evictions: s.evictions.Load(),
		Size:      size,
	}
}

// LogStats writes the counters at debug level
func (s *Store) LogStats() {
	stats := s.Stats()

	s.log.WithFields(logrus.Fields{
		"hits":      stats.Hits,
		"misses":    stats.Misses,
		"evictions": stats.Evictions,
		"size":      stats.Size,
	}).Debug("Cache statistics")
}
