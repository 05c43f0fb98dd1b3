package config

import (
	"fmt"
	"time"
)

// Config represents an argpipe.yaml configuration file.
// All values are optional and act as defaults for argpipe relay flags.
// CLI flags always override config values.
type Config struct {
	// Input is the path frames are read from ("-" for stdin).
	Input string `yaml:"input"`
	// Output is the path frames are written to ("-" for stdout).
	Output string `yaml:"output"`
	// Service is the logical service name attached to log entries and
	// completion events.
	Service string `yaml:"service"`
	// Transport names the byte transport for observability dimensions.
	Transport string `yaml:"transport"`
	// Adapter configures the downstream notification adapter.
	Adapter AdapterConfig `yaml:"adapter"`
}

// AdapterConfig holds adapter defaults from the config file.
type AdapterConfig struct {
	// Kind selects the adapter: "" (none) or "redis".
	Kind string `yaml:"kind"`
	// Redis configures the redis adapter when Kind is "redis".
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds redis adapter settings.
type RedisConfig struct {
	URL     string   `yaml:"url"`
	Channel string   `yaml:"channel"`
	Timeout Duration `yaml:"timeout"`
	Retries int      `yaml:"retries"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Validate checks cross-field constraints the YAML shape cannot express.
func (c *Config) Validate() error {
	switch c.Adapter.Kind {
	case "", "redis":
	default:
		return fmt.Errorf("unknown adapter kind %q", c.Adapter.Kind)
	}
	if c.Adapter.Kind == "redis" && c.Adapter.Redis.URL == "" {
		return fmt.Errorf("adapter kind %q requires a redis url", c.Adapter.Kind)
	}
	return nil
}
