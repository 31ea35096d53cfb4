// Package sweeper runs the periodic cleanup of idle queries and expired
// cached results, optionally reloading table metadata on each tick
package sweeper

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrInvalidRetention is returned when retention is negative
	ErrInvalidRetention = errors.New("retention must not be negative")
	// ErrInvalidInterval is returned when the schedule resolves to no interval
	ErrInvalidInterval = errors.New("schedule interval must be positive")
)

// Config defines sweeper configuration
type Config struct {
	Schedule        string        `yaml:"schedule" default:"@every 1m"`
	Retention       time.Duration `yaml:"retention" default:"30m"`
	RefreshMetadata bool          `yaml:"refreshMetadata"`
}

// Validate checks if the sweeper configuration is valid
func (c *Config) Validate() error {
	if c.Retention < 0 {
		return ErrInvalidRetention
	}

	if _, err := c.Interval(); err != nil {
		return err
	}

	return nil
}

// Interval returns the tick interval of the schedule
func (c *Config) Interval() (time.Duration, error) {
	interval, err := parseScheduleInterval(c.Schedule)
	if err != nil {
		return 0, err
	}

	if interval <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidInterval, c.Schedule)
	}

	return interval, nil
}

// parseScheduleInterval converts a cron schedule string to a duration.
// @every schedules use their duration directly; other expressions use the
// gap between their next two activations.
func parseScheduleInterval(schedule string) (time.Duration, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	sched, err := parser.Parse(schedule)
	if err != nil {
		return 0, fmt.Errorf("invalid schedule format: %w", err)
	}

	if rest, ok := strings.CutPrefix(schedule, "@every "); ok {
		duration, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return 0, fmt.Errorf("failed to parse @every duration: %w", err)
		}
		return duration, nil
	}

	next1 := sched.Next(time.Now())
	next2 := sched.Next(next1)

	return next2.Sub(next1), nil
}
