// Package base implements the behaviour shared by every cache driver: key
// preparation, serialization, TTL resolution, the multi-key helpers, counters
// and the failure policy.
//
// A concrete driver supplies a cache.Backend and embeds *Driver:
//
//	type Driver struct {
//		*base.Driver
//		mem *memory
//	}
//
// Backend and serialization failures never reach the caller. They are logged,
// counted and reported as a miss or a false result. Only invalid keys return
// an error.
package base

import (
	"context"
	"io"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"kvcache/internal/cache"
	"kvcache/internal/cache/keys"
	"kvcache/internal/cache/metrics"
	"kvcache/internal/cache/serializer"
	"kvcache/internal/common/logging"
)

// Driver is the shared half of every store.
type Driver struct {
	driver  string
	name    string
	prefix  string
	ttl     time.Duration
	backend cache.Backend
	logger  logging.Logger
	metrics metrics.Recorder
	now     func() time.Time
	group   singleflight.Group
}

var _ cache.Store = (*Driver)(nil)

// New wires backend into a Driver. driver is the driver type ("file", "redis", ...).
func New(driver string, backend cache.Backend, opts Options) *Driver {
	o := opts.withDefaults(driver)
	return &Driver{
		driver:  driver,
		name:    o.Name,
		prefix:  o.Prefix,
		ttl:     o.TTL,
		backend: backend,
		logger:  o.Logger.WithFields(logging.Driver(driver), logging.Store(o.Name)),
		metrics: o.Metrics,
		now:     o.Clock,
	}
}

// Name returns the store name used in logs and metrics.
func (d *Driver) Name() string {
	return d.name
}

// DriverType returns the driver type the store was built with.
func (d *Driver) DriverType() string {
	return d.driver
}

// DefaultTTL returns the TTL applied when Set is called without one.
func (d *Driver) DefaultTTL() time.Duration {
	return d.ttl
}

// Logger returns the store-scoped logger.
func (d *Driver) Logger() logging.Logger {
	return d.logger
}

// PrepareKey validates key and applies the prefix.
func (d *Driver) PrepareKey(key string) (string, error) {
	if err := keys.Validate(key); err != nil {
		return "", err
	}
	if d.prefix == "" {
		return key, nil
	}
	return d.prefix + ":" + key, nil
}

// ExpiresAt resolves the ttl argument of a write into an absolute deadline.
// The zero time means no expiry.
func (d *Driver) ExpiresAt(ttl ...time.Duration) time.Time {
	t := d.ttl
	if len(ttl) > 0 {
		t = ttl[0]
	}
	if t <= 0 {
		return time.Time{}
	}
	return d.now().Add(t)
}

// Get returns the value stored under key, or def.
func (d *Driver) Get(ctx context.Context, key string, def any) (any, error) {
	k, err := d.PrepareKey(key)
	if err != nil {
		return def, err
	}

	payload, found, err := d.backend.Read(ctx, k)
	if err != nil {
		d.fail(ctx, "get", key, err)
		return def, nil
	}
	if !found {
		d.metrics.Record(ctx, d.name, "get", metrics.Miss)
		return def, nil
	}

	value, err := serializer.Deserialize(payload)
	if err != nil {
		d.fail(ctx, "get", key, err)
		if _, rmErr := d.backend.Remove(ctx, k); rmErr != nil {
			d.fail(ctx, "get", key, rmErr)
		}
		return def, nil
	}

	d.metrics.Record(ctx, d.name, "get", metrics.Hit)
	return value, nil
}

// Set stores value under key. See cache.Store for the ttl rules.
func (d *Driver) Set(ctx context.Context, key string, value any, ttl ...time.Duration) (bool, error) {
	k, err := d.PrepareKey(key)
	if err != nil {
		return false, err
	}

	payload, err := serializer.Serialize(value)
	if err != nil {
		d.fail(ctx, "set", key, err)
		return false, nil
	}

	if err := d.backend.Write(ctx, k, payload, d.ExpiresAt(ttl...)); err != nil {
		d.fail(ctx, "set", key, err)
		return false, nil
	}

	d.metrics.Record(ctx, d.name, "set", metrics.Write)
	return true, nil
}

// Delete removes key and reports whether it existed.
func (d *Driver) Delete(ctx context.Context, key string) (bool, error) {
	k, err := d.PrepareKey(key)
	if err != nil {
		return false, err
	}

	removed, err := d.backend.Remove(ctx, k)
	if err != nil {
		d.fail(ctx, "delete", key, err)
		return false, nil
	}
	if removed {
		d.metrics.Record(ctx, d.name, "delete", metrics.Delete)
	}
	return removed, nil
}

// Has reports whether a live entry exists under key.
func (d *Driver) Has(ctx context.Context, key string) (bool, error) {
	k, err := d.PrepareKey(key)
	if err != nil {
		return false, err
	}

	ok, err := d.backend.Exists(ctx, k)
	if err != nil {
		d.fail(ctx, "has", key, err)
		return false, nil
	}
	return ok, nil
}

// Clear removes every entry the store owns.
func (d *Driver) Clear(ctx context.Context) bool {
	if err := d.backend.Flush(ctx); err != nil {
		d.fail(ctx, "clear", "", err)
		return false
	}
	return true
}

// GetMultiple returns a map with one entry per requested key; misses hold def.
func (d *Driver) GetMultiple(ctx context.Context, keys []string, def any) (map[string]any, error) {
	return GetMultiple(ctx, d, keys, def)
}

// SetMultiple stores every pair and reports whether all writes succeeded.
func (d *Driver) SetMultiple(ctx context.Context, values map[string]any, ttl ...time.Duration) (bool, error) {
	return SetMultiple(ctx, d, values, ttl...)
}

// DeleteMultiple deletes every key and returns how many existed.
func (d *Driver) DeleteMultiple(ctx context.Context, keys []string) (int, error) {
	return DeleteMultiple(ctx, d, keys)
}

// Pull returns the value like Get and then deletes the key.
func (d *Driver) Pull(ctx context.Context, key string, def any) (any, error) {
	return Pull(ctx, d, key, def)
}

// Increment adds delta to the number stored under key, treating a missing
// key as 0. The result is an int64 for integral values and a float64 for
// fractional ones. It returns false when the current value is not numeric,
// the sum overflows int64 or the write-back fails. The write-back uses the
// default TTL.
func (d *Driver) Increment(ctx context.Context, key string, delta int64) (any, bool, error) {
	return Increment(ctx, d, key, delta)
}

// Decrement subtracts delta with the same rules as Increment.
func (d *Driver) Decrement(ctx context.Context, key string, delta int64) (any, bool, error) {
	return Decrement(ctx, d, key, delta)
}

// Add stores value only when key has no live entry.
func (d *Driver) Add(ctx context.Context, key string, value any, ttl ...time.Duration) (bool, error) {
	exists, err := d.Has(ctx, key)
	if err != nil || exists {
		return false, err
	}
	return d.Set(ctx, key, value, ttl...)
}

// Forever stores value without expiry regardless of the default TTL.
func (d *Driver) Forever(ctx context.Context, key string, value any) (bool, error) {
	return d.Set(ctx, key, value, 0)
}

// Remember returns the cached value for key, or calls fn, stores its result
// for ttl and returns it. Concurrent callers for the same key share one call
// to fn. An error from fn is returned and nothing is stored.
func (d *Driver) Remember(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) (any, error)) (any, error) {
	k, err := d.PrepareKey(key)
	if err != nil {
		return nil, err
	}

	value, err, _ := d.group.Do(k, func() (any, error) {
		return Remember(ctx, d, key, ttl, fn)
	})
	return value, err
}

// RememberForever is Remember without expiry.
func (d *Driver) RememberForever(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	return d.Remember(ctx, key, 0, fn)
}

// Close releases the backend when it holds resources.
func (d *Driver) Close() error {
	if c, ok := d.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (d *Driver) fail(ctx context.Context, op, key string, err error) {
	d.metrics.Record(ctx, d.name, op, metrics.Error)
	fields := []logging.Field{logging.String("op", op)}
	if key != "" {
		fields = append(fields, logging.Key(key))
	}
	d.logger.Warn("Cache operation failed", append(fields, logging.Err(err))...)
}

// sortedKeys returns the keys of values in a stable order.
func sortedKeys(values map[string]any) []string {
	out := make([]string, 0, len(values))
	for k := range values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
