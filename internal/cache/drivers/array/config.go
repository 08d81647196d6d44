package array

import (
	"kvcache/internal/cache/base"
)

// Config holds the in-memory driver configuration.
type Config struct {
	base.Options
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return c.Options.Validate()
}

// GetType returns the driver type
func (c *Config) GetType() string {
	return "array"
}

// DefaultConfig returns default in-memory driver configuration
func DefaultConfig() *Config {
	return &Config{}
}
