package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Store persists table definitions keyed by namespace.name
type Store interface {
	Get(ctx context.Context, namespace, name string) (*Table, error)
	List(ctx context.Context) ([]*Table, error)
	Put(ctx context.Context, table *Table) error
	Delete(ctx context.Context, namespace, name string) error
}

// Verify implementations satisfy the interface
var (
	_ Store = (*RedisStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

func tableKey(namespace, name string) string {
	return strings.ToLower(namespace) + "." + strings.ToLower(name)
}

// RedisStore keeps every table as a JSON document plus a set indexing the
// stored keys
type RedisStore struct {
	redisClient *redis.Client
	keyPrefix   string
}

// NewRedisStore creates a store writing under keyPrefix
func NewRedisStore(redisClient *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{
		redisClient: redisClient,
		keyPrefix:   keyPrefix,
	}
}

func (s *RedisStore) documentKey(key string) string {
	return s.keyPrefix + "table:" + key
}

func (s *RedisStore) indexKey() string {
	return s.keyPrefix + "tables"
}

// Get loads one table
func (s *RedisStore) Get(ctx context.Context, namespace, name string) (*Table, error) {
	key := tableKey(namespace, name)

	data, err := s.redisClient.Get(ctx, s.documentKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrTableNotFound, key)
		}
		return nil, fmt.Errorf("failed to get table %s: %w", key, err)
	}

	var table Table
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to decode table %s: %w", key, err)
	}

	return &table, nil
}

// List loads every indexed table ordered by key. Index members whose
// document is gone are skipped.
func (s *RedisStore) List(ctx context.Context) ([]*Table, error) {
	keys, err := s.redisClient.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	if len(keys) == 0 {
		return nil, nil
	}

	slices.Sort(keys)

	docKeys := make([]string, len(keys))
	for i, key := range keys {
		docKeys[i] = s.documentKey(key)
	}

	values, err := s.redisClient.MGet(ctx, docKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load tables: %w", err)
	}

	tables := make([]*Table, 0, len(values))
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}

		var table Table
		if err := json.Unmarshal([]byte(data), &table); err != nil {
			return nil, fmt.Errorf("failed to decode table %s: %w", keys[i], err)
		}
		tables = append(tables, &table)
	}

	return tables, nil
}

// Put validates and stores a table, replacing any previous definition
func (s *RedisStore) Put(ctx context.Context, table *Table) error {
	if err := table.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(table)
	if err != nil {
		return err
	}

	key := table.Key()

	_, err = s.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.documentKey(key), data, 0)
		pipe.SAdd(ctx, s.indexKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store table %s: %w", key, err)
	}

	return nil
}

// Delete removes a table; deleting an unknown table is not an error
func (s *RedisStore) Delete(ctx context.Context, namespace, name string) error {
	key := tableKey(namespace, name)

	_, err := s.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.documentKey(key))
		pipe.SRem(ctx, s.indexKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete table %s: %w", key, err)
	}

	return nil
}

// MemoryStore is a process-local store used when no Redis is configured
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]Table
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]Table)}
}

// Get loads one table
func (s *MemoryStore) Get(_ context.Context, namespace, name string) (*Table, error) {
	key := tableKey(namespace, name)

	s.mu.RLock()
	table, ok := s.tables[key]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, key)
	}

	return &table, nil
}

// List returns every table ordered by key
func (s *MemoryStore) List(_ context.Context) ([]*Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.tables))
	for key := range s.tables {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	tables := make([]*Table, 0, len(keys))
	for _, key := range keys {
		table := s.tables[key]
		tables = append(tables, &table)
	}

	return tables, nil
}

// Put validates and stores a copy of table
func (s *MemoryStore) Put(_ context.Context, table *Table) error {
	if err := table.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.tables[table.Key()] = *table
	s.mu.Unlock()

	return nil
}

// Delete removes a table
func (s *MemoryStore) Delete(_ context.Context, namespace, name string) error {
	s.mu.Lock()
	delete(s.tables, tableKey(namespace, name))
	s.mu.Unlock()

	return nil
}
