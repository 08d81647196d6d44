package base

import (
	"time"

	"kvcache/internal/cache/keys"
	"kvcache/internal/cache/metrics"
	"kvcache/internal/common/errors"
	"kvcache/internal/common/logging"
)

// Options are the settings every driver shares.
type Options struct {
	// Name identifies the store in logs and metrics. Defaults to the driver type.
	Name string `json:"name,omitempty"`
	// Prefix namespaces keys as "<prefix>:<key>".
	Prefix string `json:"prefix,omitempty"`
	// TTL applies to writes that pass no ttl argument. Zero means no expiry.
	TTL time.Duration `json:"ttl,omitempty"`

	Logger  logging.Logger   `json:"-"`
	Metrics metrics.Recorder `json:"-"`
	// Clock replaces time.Now, mostly for tests.
	Clock func() time.Time `json:"-"`
}

// Common gives the manager access to the shared options of any driver config
// that embeds Options.
func (o *Options) Common() *Options {
	return o
}

// Configurable is implemented by driver configs that embed Options.
type Configurable interface {
	Common() *Options
}

// Validate checks the shared options.
func (o *Options) Validate() error {
	if o.Prefix != "" {
		if err := keys.Validate(o.Prefix); err != nil {
			return errors.ConfigError("cache prefix must be a valid key: " + err.Error())
		}
	}
	if o.TTL < 0 {
		return errors.ConfigError("default ttl cannot be negative")
	}
	return nil
}

// Now returns the configured clock's time.
func (o *Options) Now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now()
}

func (o *Options) withDefaults(driver string) Options {
	out := *o
	if out.Name == "" {
		out.Name = driver
	}
	if out.Logger == nil {
		out.Logger = logging.GetGlobalLogger()
	}
	if out.Metrics == nil {
		out.Metrics = metrics.Nop()
	}
	if out.Clock == nil {
		out.Clock = time.Now
	}
	return out
}
