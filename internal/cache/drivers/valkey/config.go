package valkey

import (
	"time"

	"kvcache/internal/cache/base"
	"kvcache/internal/cache/compress"
	"kvcache/internal/circuitbreaker"
	"kvcache/internal/common/errors"
	"kvcache/internal/common/retry"
)

// Config holds the Valkey driver configuration.
type Config struct {
	base.Options

	// Addresses are the seed nodes; a single address connects to a standalone server.
	Addresses []string      `json:"addresses"`
	Username  string        `json:"username"`
	Password  string        `json:"password"`
	DB        int           `json:"db"`
	Timeout   time.Duration `json:"timeout"`
	// Compression is one of none, s2 or zstd and applies to stored payloads.
	Compression string `json:"compression"`

	Breaker circuitbreaker.Config `json:"breaker"`
	// Connect controls retries of the initial PING. The zero value tries once.
	Connect retry.Config `json:"connect"`
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if err := c.Options.Validate(); err != nil {
		return err
	}

	if len(c.Addresses) == 0 {
		c.Addresses = []string{"localhost:6379"}
	}
	for _, addr := range c.Addresses {
		if addr == "" {
			return errors.ConfigError("valkey address cannot be empty")
		}
	}
	if c.DB < 0 {
		return errors.ConfigError("valkey db cannot be negative")
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if !compress.Valid(c.Compression) {
		return errors.ConfigError("unknown compression " + c.Compression)
	}

	return nil
}

// GetType returns the driver type
func (c *Config) GetType() string {
	return "valkey"
}
