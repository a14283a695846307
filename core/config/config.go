// Package config loads and watches the engine's configuration: throttle
// intervals per channel, lock recovery timing, and journal sizing. The
// active config is swapped atomically so readers never see a partial
// reload, and an invalid file on reload keeps the previous config.
package config

import (
	"fmt"
	"time"

	"github.com/adalundhe/ensemble/core/throttle"
)

// Config is the engine configuration.
type Config struct {
	Throttle ThrottleConfig `yaml:"throttle"`
	Locks    LocksConfig    `yaml:"locks"`
	Journal  JournalConfig  `yaml:"journal"`
	Log      LogConfig      `yaml:"log"`
}

// ThrottleConfig sets the flush interval per channel. Keys are channel
// names; values are duration strings ("200ms").
type ThrottleConfig struct {
	Intervals map[string]string `yaml:"intervals"`
}

// LocksConfig tunes stale-lock recovery on the relay.
type LocksConfig struct {
	IdleTimeout   string `yaml:"idle_timeout"`
	SweepInterval string `yaml:"sweep_interval"`
}

// JournalConfig sizes the session journal's hot tier.
type JournalConfig struct {
	NumCounters int64 `yaml:"num_counters"`
	MaxCost     int64 `yaml:"max_cost"`
	BufferItems int64 `yaml:"buffer_items"`
}

// LogConfig selects the log level: debug, info, warn, or error.
type LogConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	intervals := make(map[string]string, len(throttle.Channels()))
	for _, c := range throttle.Channels() {
		intervals[string(c)] = throttle.DefaultInterval.String()
	}
	return &Config{
		Throttle: ThrottleConfig{Intervals: intervals},
		Locks: LocksConfig{
			IdleTimeout:   "30s",
			SweepInterval: "5s",
		},
		Journal: JournalConfig{
			NumCounters: 1e5,
			MaxCost:     1 << 24,
			BufferItems: 64,
		},
		Log: LogConfig{Level: "info"},
	}
}

// ThrottleIntervals parses and validates the configured intervals.
func (c *Config) ThrottleIntervals() (throttle.Intervals, error) {
	out := throttle.DefaultIntervals()
	for name, raw := range c.Throttle.Intervals {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("throttle interval %q: %w", name, err)
		}
		out[throttle.Channel(name)] = d
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// LockIdleTimeout parses the idle timeout.
func (c *Config) LockIdleTimeout() (time.Duration, error) {
	return parsePositive("locks.idle_timeout", c.Locks.IdleTimeout)
}

// LockSweepInterval parses the sweep interval.
func (c *Config) LockSweepInterval() (time.Duration, error) {
	return parsePositive("locks.sweep_interval", c.Locks.SweepInterval)
}

// Validate checks every field that has constraints.
func (c *Config) Validate() error {
	if _, err := c.ThrottleIntervals(); err != nil {
		return err
	}
	if _, err := c.LockIdleTimeout(); err != nil {
		return err
	}
	if _, err := c.LockSweepInterval(); err != nil {
		return err
	}
	if c.Journal.NumCounters <= 0 || c.Journal.MaxCost <= 0 || c.Journal.BufferItems <= 0 {
		return fmt.Errorf("journal sizing must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}

func parsePositive(field, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", field, d)
	}
	return d, nil
}
