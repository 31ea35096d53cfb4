package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/ethpandaops/resthub/pkg/observability"
	"github.com/sirupsen/logrus"
)

// Registry is the query registry as seen by the sweeper
type Registry interface {
	CleanQueries(now time.Time) int
}

// Cache is the result cache as seen by the sweeper
type Cache interface {
	EvictExpired(now time.Time) int
	LogStats()
}

// Metadata reloads the table snapshot
type Metadata interface {
	Refresh(ctx context.Context) error
}

// Service runs a sweep on every tick of its schedule
type Service interface {
	// Start launches the ticker loop in the background
	Start(ctx context.Context) error
	// Stop ends the loop and waits for an in-progress sweep
	Stop() error
	// Sweep runs one pass immediately
	Sweep(ctx context.Context)
}

type service struct {
	log      logrus.FieldLogger
	cfg      *Config
	registry Registry
	cache    Cache
	metadata Metadata
	now      func() time.Time

	interval time.Duration
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewService creates a sweeper. metadata may be nil when no refresh is wanted.
func NewService(log logrus.FieldLogger, cfg *Config, registry Registry, cache Cache, metadata Metadata) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	interval, err := cfg.Interval()
	if err != nil {
		return nil, err
	}

	return &service{
		log:      log.WithField("service", "sweeper"),
		cfg:      cfg,
		registry: registry,
		cache:    cache,
		metadata: metadata,
		now:      time.Now,
		interval: interval,
		done:     make(chan struct{}),
	}, nil
}

func (s *service) Start(ctx context.Context) error {
	s.log.WithFields(logrus.Fields{
		"schedule":  s.cfg.Schedule,
		"interval":  s.interval,
		"retention": s.cfg.Retention,
	}).Info("Starting sweeper")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()

	return nil
}

func (s *service) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Sweeper context canceled, stopping")
			return
		case <-s.done:
			s.log.Info("Sweeper stopped via Stop()")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

func (s *service) Sweep(ctx context.Context) {
	status := "success"

	if s.cfg.RefreshMetadata && s.metadata != nil {
		if err := s.metadata.Refresh(ctx); err != nil {
			s.log.WithError(err).Warn("Failed to refresh metadata, keeping previous snapshot")
			observability.RecordError("sweeper", "metadata_refresh")
			status = "error"
		}
	}

	now := s.now()
	queries := s.registry.CleanQueries(now)
	results := s.cache.EvictExpired(now)

	s.cache.LogStats()
	observability.RecordSweep(status)

	s.log.WithFields(logrus.Fields{
		"queries_removed": queries,
		"results_evicted": results,
	}).Debug("Sweep completed")
}

func (s *service) Stop() error {
	s.stopOnce.Do(func() {
		s.log.Info("Stopping sweeper")
		close(s.done)
	})
	s.wg.Wait()

	return nil
}

// Verify interface compliance at compile time
var _ Service = (*service)(nil)
