package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethpandaops/resthub/pkg/api/handlers"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/sirupsen/logrus"
)

// Service defines the API service interface
type Service interface {
	Start(ctx context.Context) error
	Stop() error
}

type service struct {
	app      *fiber.App
	server   *http.Server
	config   *Config
	registry handlers.Registry
	tables   handlers.Tables
	log      logrus.FieldLogger
}

// NewService creates a new API service
func NewService(cfg *Config, registry handlers.Registry, tables handlers.Tables, log logrus.FieldLogger) Service {
	return &service{
		config:   cfg,
		registry: registry,
		tables:   tables,
		log:      log.WithField("service", "api"),
	}
}

// NewApp builds the fiber application serving every resource
func NewApp(cfg *Config, registry handlers.Registry, tables handlers.Tables, log logrus.FieldLogger) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
		AppName:      "resthub",
		BodyLimit:    cfg.BodyLimit,
	})

	setupMiddleware(app)

	handlers.NewServer(registry, tables, log).Register(app)

	return app
}

// Start initializes and starts the API server
func (s *service) Start(_ context.Context) error {
	s.app = NewApp(s.config, s.registry, s.tables, s.log)

	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           adaptor.FiberApp(s.app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.log.WithField("addr", s.config.Addr).Info("Starting API server")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Server failed to start")
		}
	}()

	return nil
}

// Stop gracefully shuts down the API server
func (s *service) Stop() error {
	if s.server == nil {
		return nil
	}

	s.log.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	return nil
}
