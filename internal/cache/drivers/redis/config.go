package redis

import (
	"time"

	"github.com/go-redis/redis/v8"

	"kvcache/internal/cache/base"
	"kvcache/internal/circuitbreaker"
	"kvcache/internal/common/errors"
	"kvcache/internal/common/retry"
)

// Config holds the Redis driver configuration.
type Config struct {
	base.Options

	Address  string        `json:"address"`
	Password string        `json:"password"`
	DB       int           `json:"db"`
	PoolSize int           `json:"pool_size"`
	Timeout  time.Duration `json:"timeout"`

	Breaker circuitbreaker.Config `json:"breaker"`
	// Connect controls retries of the initial PING. The zero value tries once.
	Connect retry.Config `json:"connect"`

	// Client replaces the connection built from Address. The driver does
	// not close a client it did not create.
	Client *redis.Client `json:"-"`
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if err := c.Options.Validate(); err != nil {
		return err
	}

	if c.Client == nil && c.Address == "" {
		c.Address = "localhost:6379"
	}
	if c.PoolSize < 0 {
		return errors.ConfigError("redis pool size cannot be negative")
	}
	if c.PoolSize == 0 {
		c.PoolSize = 10
	}
	if c.DB < 0 {
		return errors.ConfigError("redis db cannot be negative")
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}

	return nil
}

// GetType returns the driver type
func (c *Config) GetType() string {
	return "redis"
}
