// Package executor runs SQL against named database/sql connections and
// materializes bounded, typed results
package executor

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ethpandaops/resthub/pkg/sqltext"
)

// DefaultConnection is used by queries that reference no table
const DefaultConnection = "default"

// Static errors for configuration validation
var (
	ErrDefaultConnectionRequired = errors.New("a connection named \"default\" is required")
	ErrDriverRequired            = errors.New("driver is required")
	ErrUnsupportedDriver         = errors.New("unsupported driver")
	ErrDSNRequired               = errors.New("dsn is required")
)

type driverInfo struct {
	style sqltext.PlaceholderStyle
	// explain validates by compiling EXPLAIN <stmt> because the driver
	// defers statement compilation until execution
	explain bool
}

// Supported database/sql driver names
var drivers = map[string]driverInfo{ //nolint:gochecknoglobals // static lookup table
	"postgres": {style: sqltext.StyleDollar},
	"pgx":      {style: sqltext.StyleDollar},
	"mysql":    {style: sqltext.StyleQuestion},
	"sqlite":   {style: sqltext.StyleQuestion, explain: true},
}

// Drivers returns the supported driver names
func Drivers() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

// ConnectionConfig describes one database connection pool
type ConnectionConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// Validate checks if the connection configuration is valid
func (c *ConnectionConfig) Validate() error {
	if c.Driver == "" {
		return ErrDriverRequired
	}

	if _, ok := drivers[c.Driver]; !ok {
		return fmt.Errorf("%w: %s (supported: %v)", ErrUnsupportedDriver, c.Driver, Drivers())
	}

	if c.DSN == "" {
		return ErrDSNRequired
	}

	return nil
}

// SetDefaults sets default pool values
func (c *ConnectionConfig) SetDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 10
	}

	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 2
	}

	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
}

// Config maps connection names to their settings
type Config map[string]*ConnectionConfig

// Validate checks every connection and requires the default one
func (c Config) Validate() error {
	if _, ok := c[DefaultConnection]; !ok {
		return ErrDefaultConnectionRequired
	}

	for name, conn := range c {
		if conn == nil {
			return fmt.Errorf("connection %s: %w", name, ErrDriverRequired)
		}
		if err := conn.Validate(); err != nil {
			return fmt.Errorf("connection %s: %w", name, err)
		}
	}

	return nil
}

// SetDefaults applies pool defaults to every connection
func (c Config) SetDefaults() {
	for _, conn := range c {
		if conn != nil {
			conn.SetDefaults()
		}
	}
}
