// Package engine wires the resthub services together and owns their
// start and stop order
package engine

import (
	"errors"
	"fmt"

	"github.com/ethpandaops/resthub/pkg/api"
	"github.com/ethpandaops/resthub/pkg/executor"
	"github.com/ethpandaops/resthub/pkg/metadata"
	"github.com/ethpandaops/resthub/pkg/redis"
	"github.com/ethpandaops/resthub/pkg/sweeper"
)

var (
	// ErrDuplicateTable is returned when two seed tables share a name
	ErrDuplicateTable = errors.New("duplicate table")
)

// Config represents the complete server configuration
type Config struct {
	// Core settings
	Logging         string `yaml:"logging" default:"info" validate:"oneof=panic fatal warn info debug trace"`
	MetricsAddr     string `yaml:"metricsAddr" default:":9091"`
	HealthCheckAddr string `yaml:"healthCheckAddr"`
	PProfAddr       string `yaml:"pprofAddr"`

	// Redis holds table metadata; without a URL it is kept in memory
	Redis redis.Config `yaml:"redis"`

	// Connections maps names to databases; "default" is required
	Connections executor.Config `yaml:"connections"`

	// Defaults is the cache policy of queries that reference no table
	Defaults metadata.Defaults `yaml:"defaults"`

	Sweeper sweeper.Config `yaml:"sweeper"`

	API api.Config `yaml:"api"`

	// Tables are written to the metadata store on start
	Tables []*metadata.Table `yaml:"tables"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Redis.URL != "" {
		if err := c.Redis.Validate(); err != nil {
			return err
		}
	}

	if err := c.Connections.Validate(); err != nil {
		return err
	}

	if err := c.Defaults.Validate(); err != nil {
		return err
	}

	if err := c.Sweeper.Validate(); err != nil {
		return err
	}

	if err := c.API.Validate(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Tables))
	for i, table := range c.Tables {
		if table == nil {
			return fmt.Errorf("table %d: %w", i, metadata.ErrInvalidName)
		}
		if err := table.Validate(); err != nil {
			return fmt.Errorf("table %s.%s: %w", table.Namespace, table.Name, err)
		}
		if seen[table.Key()] {
			return fmt.Errorf("%w: %s", ErrDuplicateTable, table.Key())
		}
		seen[table.Key()] = true

		if table.ConnectionName != "" {
			if _, ok := c.Connections[table.ConnectionName]; !ok {
				return fmt.Errorf("table %s: %w: %s", table.Key(), executor.ErrUnknownConnection, table.ConnectionName)
			}
		}
	}

	return nil
}
