// Package api serves the query registry and table metadata over HTTP
package api

import "errors"

// Define static errors
var (
	ErrAPIAddrRequired  = errors.New("api address is required")
	ErrInvalidBodyLimit = errors.New("api body limit must be positive")
)

// Config represents API service configuration
type Config struct {
	Addr string `yaml:"addr" default:":8080" validate:"hostname_port"`
	// BodyLimit caps submitted SQL, in bytes
	BodyLimit int `yaml:"bodyLimit" default:"1048576"`
}

// Validate validates the API configuration
func (c *Config) Validate() error {
	if c.Addr == "" {
		return ErrAPIAddrRequired
	}

	if c.BodyLimit <= 0 {
		return ErrInvalidBodyLimit
	}

	return nil
}
