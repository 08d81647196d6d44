// Package cache defines the contract shared by every cache store and the
// primitive a storage backend must provide to become one.
//
// Concrete drivers live under drivers/ and are assembled from a Backend plus
// the shared behaviour in package base. Stores are normally obtained from a
// manager.Manager, which builds them lazily from a StoreConfig.
package cache

import (
	"context"
	"time"

	"kvcache/internal/common/factory"
)

// Store is the uniform contract over every cache backend.
//
// Misses and backend failures are reported through the boolean / default
// results; the only error a Store method returns is an invalid_key AppError
// (see errors.IsInvalidKey).
type Store interface {
	// Get returns the stored value or def when the key is absent or expired.
	Get(ctx context.Context, key string, def any) (any, error)
	// Set stores value. An explicit ttl <= 0 stores without expiry; with no
	// ttl argument the store's default TTL applies.
	Set(ctx context.Context, key string, value any, ttl ...time.Duration) (bool, error)
	// Delete reports whether an entry was removed.
	Delete(ctx context.Context, key string) (bool, error)
	Has(ctx context.Context, key string) (bool, error)
	// Clear removes every entry the store owns.
	Clear(ctx context.Context) bool

	GetMultiple(ctx context.Context, keys []string, def any) (map[string]any, error)
	SetMultiple(ctx context.Context, values map[string]any, ttl ...time.Duration) (bool, error)
	DeleteMultiple(ctx context.Context, keys []string) (int, error)

	// Pull returns the value like Get and then deletes the key.
	Pull(ctx context.Context, key string, def any) (any, error)
	// Increment and Decrement return an int64 for integral values and a
	// float64 for fractional ones.
	Increment(ctx context.Context, key string, delta int64) (any, bool, error)
	Decrement(ctx context.Context, key string, delta int64) (any, bool, error)

	// Remember returns the cached value or stores the result of fn.
	Remember(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) (any, error)) (any, error)

	Close() error
}

// Backend is the storage primitive behind a Store. Keys are already
// validated and prefixed, payloads already serialized.
type Backend interface {
	// Read returns the payload and true, or false when the key is absent or expired.
	Read(ctx context.Context, key string) ([]byte, bool, error)
	// Write stores payload. A zero expiresAt means the entry never expires.
	Write(ctx context.Context, key string, payload []byte, expiresAt time.Time) error
	// Remove reports whether an entry existed.
	Remove(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Flush(ctx context.Context) error
}

// Cleaner is implemented by stores that can proactively reclaim expired
// entries. It returns the number of entries removed.
type Cleaner interface {
	CleanExpired(ctx context.Context) (int, error)
}

// StoreConfig is the configuration of one driver.
type StoreConfig interface {
	Validate() error
	GetType() string
}

// StoreFactory builds a Store from a driver configuration.
type StoreFactory = factory.Creator[Store]
