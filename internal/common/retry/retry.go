// Package retry repeats an operation with exponential backoff. The drivers
// use it for the connection check they run at construction.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Config controls how often and how quickly an operation is retried.
type Config struct {
	// Attempts is the total number of tries, including the first one.
	Attempts int `json:"attempts"`
	// InitialDelay is the wait before the second try.
	InitialDelay time.Duration `json:"initial_delay"`
	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration `json:"max_delay"`
	// Factor multiplies the delay after every failed try.
	Factor float64 `json:"factor"`
	// Jitter adds up to this fraction of the delay at random.
	Jitter float64 `json:"jitter"`
	// Retryable filters errors worth retrying. Nil retries everything.
	Retryable func(error) bool `json:"-"`
}

// Once runs the operation a single time.
func Once() Config {
	return Config{Attempts: 1}
}

// DefaultConfig retries three times starting at 200ms.
func DefaultConfig() Config {
	return Config{
		Attempts:     3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Factor:       2,
		Jitter:       0.1,
	}
}

func (c Config) withDefaults() Config {
	if c.Attempts < 1 {
		c.Attempts = 1
	}
	if c.Factor < 1 {
		c.Factor = 1
	}
	if c.MaxDelay <= 0 || c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	return c
}

// Do calls fn until it succeeds, the attempts run out, fn returns an error
// the config does not consider retryable, or ctx ends. The last error is
// wrapped in the returned one.
func Do(ctx context.Context, cfg Config, fn func(context.Context) error) error {
	cfg = cfg.withDefaults()
	delay := cfg.InitialDelay

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.Attempts {
			break
		}

		wait := delay
		if cfg.Jitter > 0 && wait > 0 {
			wait += time.Duration(rand.Int64N(int64(float64(wait)*cfg.Jitter) + 1))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled after %d attempts: %w", attempt, lastErr)
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.Factor)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	if cfg.Attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("gave up after %d attempts: %w", cfg.Attempts, lastErr)
}
