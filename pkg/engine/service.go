package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // pprof is intentionally exposed when pprofAddr is configured
	"time"

	"github.com/ethpandaops/resthub/pkg/api"
	"github.com/ethpandaops/resthub/pkg/cache"
	"github.com/ethpandaops/resthub/pkg/executor"
	"github.com/ethpandaops/resthub/pkg/metadata"
	"github.com/ethpandaops/resthub/pkg/observability"
	"github.com/ethpandaops/resthub/pkg/query"
	"github.com/ethpandaops/resthub/pkg/redis"
	"github.com/ethpandaops/resthub/pkg/sweeper"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// readyTimeout bounds the dependency checks of /ready
const readyTimeout = 5 * time.Second

// Service encapsulates the server application
type Service struct {
	config *Config
	log    *logrus.Logger

	executor executor.Executor
	metadata metadata.Service
	cache    *cache.Store
	registry *query.Registry
	sweeper  sweeper.Service
	api      api.Service

	// Servers
	healthServer *http.Server
	pprofServer  *http.Server

	redisClient *goredis.Client
}

// NewService validates cfg and builds every service without starting any
func NewService(log *logrus.Logger, cfg *Config) (*Service, error) {
	cfg.Connections.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var (
		store       metadata.Store
		redisClient *goredis.Client
	)

	if cfg.Redis.URL != "" {
		client, err := redis.New(&cfg.Redis)
		if err != nil {
			return nil, err
		}
		redisClient = client
		store = metadata.NewRedisStore(client, cfg.Redis.PrefixKey(""))
	} else {
		log.Warn("No redis URL configured, table metadata is kept in memory")
		store = metadata.NewMemoryStore()
	}

	exec, err := executor.NewExecutor(log, cfg.Connections)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	metadataService := metadata.NewService(log, store, cfg.Tables)
	resultCache := cache.NewStore(log)

	registry := query.NewRegistry(log, exec, metadataService, resultCache, query.Options{
		Defaults:  cfg.Defaults.Policy(),
		Retention: cfg.Sweeper.Retention,
	})

	sweeperService, err := sweeper.NewService(log, &cfg.Sweeper, registry, resultCache, metadataService)
	if err != nil {
		return nil, fmt.Errorf("failed to create sweeper service: %w", err)
	}

	apiService := api.NewService(&cfg.API, registry, metadataService, log)

	return &Service{
		log:    log,
		config: cfg,

		redisClient: redisClient,
		executor:    exec,
		metadata:    metadataService,
		cache:       resultCache,
		registry:    registry,
		sweeper:     sweeperService,
		api:         apiService,
	}, nil
}

// Start starts every service: connections first, the API last
func (a *Service) Start(ctx context.Context) error {
	a.log.Info("Starting resthub...")

	observability.StartMetricsServer(a.log, a.config.MetricsAddr)

	if a.config.HealthCheckAddr != "" {
		a.startHealthCheck()
	}

	if a.config.PProfAddr != "" {
		a.startPProf()
	}

	if err := a.executor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start executor: %w", err)
	}

	if err := a.metadata.Start(ctx); err != nil {
		return fmt.Errorf("failed to start metadata: %w", err)
	}

	if err := a.sweeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sweeper: %w", err)
	}

	if err := a.api.Start(ctx); err != nil {
		return fmt.Errorf("failed to start API service: %w", err)
	}

	a.log.Info("resthub started successfully")

	return nil
}

// Stop gracefully shuts down every service
func (a *Service) Stop() error {
	a.log.Info("Shutting down resthub...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopService := func(name string, stopFunc func() error) {
		if stopFunc == nil {
			return
		}
		if err := stopFunc(); err != nil {
			a.log.WithError(err).Errorf("Failed to stop %s", name)
		}
	}

	// 1. Stop accepting requests
	if a.api != nil {
		stopService("API service", a.api.Stop)
	}

	// 2. Stop sweeping
	if a.sweeper != nil {
		stopService("sweeper service", a.sweeper.Stop)
	}

	// 3. Close Redis (nothing reads metadata any more)
	if a.redisClient != nil {
		stopService("Redis client", a.redisClient.Close)
	}

	// Close database pools (critical - return error if fails)
	if a.executor != nil {
		if err := a.executor.Stop(); err != nil {
			a.log.WithError(err).Error("Failed to stop executor")
			return err
		}
	}

	stopService("metrics server", func() error { return observability.StopMetricsServer(ctx) })

	if a.healthServer != nil {
		stopService("health check server", func() error { return a.healthServer.Shutdown(ctx) })
	}
	if a.pprofServer != nil {
		stopService("pprof server", func() error { return a.pprofServer.Shutdown(ctx) })
	}

	return nil
}

// Registry returns the query registry
func (a *Service) Registry() *query.Registry {
	return a.registry
}

func (a *Service) healthMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := a.ready(r.Context()); err != nil {
			a.log.WithError(err).Warn("Readiness check failed")
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return mux
}

// ready checks every database connection and the metadata store
func (a *Service) ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	if err := a.executor.Ping(ctx); err != nil {
		return err
	}

	if a.redisClient != nil {
		if err := a.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}

	return nil
}

func (a *Service) startHealthCheck() {
	a.log.WithField("addr", a.config.HealthCheckAddr).Info("Starting health check server")

	a.healthServer = &http.Server{
		Addr:              a.config.HealthCheckAddr,
		Handler:           a.healthMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := a.healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.WithError(err).Error("Health check server failed")
		}
	}()
}

func (a *Service) startPProf() {
	a.log.WithField("addr", a.config.PProfAddr).Info("Starting pprof server")

	a.pprofServer = &http.Server{
		Addr:              a.config.PProfAddr,
		ReadHeaderTimeout: 120 * time.Second,
	}

	go func() {
		if err := a.pprofServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.WithError(err).Error("Pprof server failed")
		}
	}()
}
