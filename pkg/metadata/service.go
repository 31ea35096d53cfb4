package metadata

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/ethpandaops/resthub/pkg/sqltext"
	"github.com/sirupsen/logrus"
)

// Service serves table lookups from an in-memory snapshot of the store
type Service interface {
	// Start writes the seed tables and loads the first snapshot
	Start(ctx context.Context) error
	// Refresh reloads the snapshot from the store
	Refresh(ctx context.Context) error
	// Table looks up one table by namespace and name, case-insensitively
	Table(namespace, name string) (*Table, bool)
	// Lookup resolves a namespace.name reference
	Lookup(ref sqltext.Ref) (*Table, bool)
	// Namespaces returns the table names of every namespace
	Namespaces() map[string][]string
}

type snapshot struct {
	tables     map[string]*Table
	namespaces map[string][]string
}

type service struct {
	log   logrus.FieldLogger
	store Store
	seed  []*Table

	current atomic.Pointer[snapshot]
}

// NewService creates a metadata service over store
func NewService(log logrus.FieldLogger, store Store, seed []*Table) Service {
	s := &service{
		log:   log.WithField("service", "metadata"),
		store: store,
		seed:  seed,
	}
	s.current.Store(&snapshot{
		tables:     map[string]*Table{},
		namespaces: map[string][]string{},
	})

	return s
}

func (s *service) Start(ctx context.Context) error {
	for _, table := range s.seed {
		if err := s.store.Put(ctx, table); err != nil {
			return fmt.Errorf("failed to seed table %s.%s: %w", table.Namespace, table.Name, err)
		}
	}

	return s.Refresh(ctx)
}

func (s *service) Refresh(ctx context.Context) error {
	tables, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh metadata: %w", err)
	}

	next := &snapshot{
		tables:     make(map[string]*Table, len(tables)),
		namespaces: make(map[string][]string),
	}

	for _, table := range tables {
		next.tables[table.Key()] = table
		next.namespaces[table.Namespace] = append(next.namespaces[table.Namespace], table.Name)
	}
	for ns := range next.namespaces {
		slices.Sort(next.namespaces[ns])
	}

	s.current.Store(next)

	s.log.WithField("tables", len(tables)).Debug("Refreshed table metadata")

	return nil
}

func (s *service) Table(namespace, name string) (*Table, bool) {
	table, ok := s.current.Load().tables[tableKey(namespace, name)]
	return table, ok
}

func (s *service) Lookup(ref sqltext.Ref) (*Table, bool) {
	return s.Table(ref.Namespace, ref.Name)
}

func (s *service) Namespaces() map[string][]string {
	current := s.current.Load()

	out := make(map[string][]string, len(current.namespaces))
	for ns, names := range current.namespaces {
		out[ns] = slices.Clone(names)
	}

	return out
}
