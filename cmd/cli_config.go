package cmd

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/ethpandaops/resthub/pkg/client"
	"gopkg.in/yaml.v3"
)

var (
	// ErrServerURLRequired is returned when no server URL is configured
	ErrServerURLRequired = errors.New("server URL is required")
)

// CLIConfig represents the configuration of the client commands
type CLIConfig struct {
	// Logging level
	Logging string `yaml:"logging" default:"error" validate:"oneof=panic fatal warn info debug trace"`

	// URL of the resthub server
	URL string `yaml:"url" default:"http://localhost:8080"`

	// Timeout bounds each HTTP request
	Timeout time.Duration `yaml:"timeout" default:"60s"`
}

// Validate validates the CLI configuration
func (c *CLIConfig) Validate() error {
	if c.URL == "" {
		return ErrServerURLRequired
	}

	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}

	return nil
}

// Server creates the client for the configured server
func (c *CLIConfig) Server() (*client.Server, error) {
	return client.NewServer(c.URL,
		client.WithHTTPClient(&http.Client{Timeout: c.Timeout}),
		client.WithLogger(logger),
	)
}

// LoadCLIConfig loads CLI configuration from a YAML file
func LoadCLIConfig(path string) (*CLIConfig, error) {
	if path == "" {
		path = "cli.yaml"
	}

	config := &CLIConfig{}

	if err := defaults.Set(config); err != nil {
		return nil, err
	}

	// Try to read the file, but allow it to not exist
	yamlFile, err := os.ReadFile(path) //nolint:gosec // User-provided config file path
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(yamlFile, config); err != nil {
		return nil, err
	}

	return config, nil
}
