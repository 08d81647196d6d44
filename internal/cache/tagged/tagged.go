// Package tagged layers group invalidation on top of any cache.Store.
//
// Entries written through a Cache are stored under a key that embeds a
// fingerprint of the active tag set, and every tag keeps a registry entry
// (a plain cache entry at "tag_<name>") listing the original keys written
// under it. InvalidateTags walks those lists.
//
// The registry update is a read-modify-write without locking: two writers
// appending to the same tag concurrently can lose one of the keys.
package tagged

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"kvcache/internal/cache"
	"kvcache/internal/cache/base"
	"kvcache/internal/cache/keys"
	"kvcache/internal/common/logging"
)

const (
	registryPrefix = "tag_"
	keyPrefix      = "tagged_"
)

// Cache wraps a store with a mutable set of tags. It does not own the store.
type Cache struct {
	store  cache.Store
	tags   []string
	logger logging.Logger
}

var _ cache.Store = (*Cache)(nil)

// New wraps store with the given tags.
func New(store cache.Store, tags ...string) *Cache {
	c := &Cache{store: store, logger: logging.GetGlobalLogger()}
	return c.Tags(tags...)
}

// WithLogger replaces the logger used for registry maintenance messages.
func (c *Cache) WithLogger(logger logging.Logger) *Cache {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// Tags adds tags to the active set and returns the same Cache.
func (c *Cache) Tags(tags ...string) *Cache {
	for _, tag := range tags {
		if !c.hasTag(tag) {
			c.tags = append(c.tags, tag)
		}
	}
	return c
}

// TagNames returns the active tags in insertion order.
func (c *Cache) TagNames() []string {
	out := make([]string, len(c.tags))
	copy(out, c.tags)
	return out
}

func (c *Cache) hasTag(tag string) bool {
	for _, t := range c.tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Fingerprint hashes the sorted tag set. It is empty when there are no tags.
func (c *Cache) Fingerprint() string {
	if len(c.tags) == 0 {
		return ""
	}
	sorted := c.TagNames()
	sort.Strings(sorted)
	return fmt.Sprintf("%016x", xxhash.Sum64String(strings.Join(sorted, "|")))
}

// TaggedKey maps an original key to its storage key under the active tags.
func (c *Cache) TaggedKey(key string) (string, error) {
	if err := keys.Validate(key); err != nil {
		return "", err
	}
	fp := c.Fingerprint()
	if fp == "" {
		return key, nil
	}
	return keyPrefix + fp + "_" + key, nil
}

func registryKey(tag string) (string, error) {
	key := registryPrefix + tag
	if err := keys.Validate(key); err != nil {
		return "", err
	}
	return key, nil
}

// Get returns the value stored under key for the active tag set.
func (c *Cache) Get(ctx context.Context, key string, def any) (any, error) {
	tk, err := c.TaggedKey(key)
	if err != nil {
		return def, err
	}
	return c.store.Get(ctx, tk, def)
}

// Set writes value and records key in the registry of every active tag.
// Registry failures are logged; the write itself has already succeeded.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl ...time.Duration) (bool, error) {
	tk, err := c.TaggedKey(key)
	if err != nil {
		return false, err
	}
	registries := make([]string, 0, len(c.tags))
	for _, tag := range c.tags {
		rk, err := registryKey(tag)
		if err != nil {
			return false, err
		}
		registries = append(registries, rk)
	}

	ok, err := c.store.Set(ctx, tk, value, ttl...)
	if err != nil || !ok {
		return ok, err
	}

	for _, rk := range registries {
		if err := c.register(ctx, rk, key); err != nil {
			return true, err
		}
	}
	return true, nil
}

// register appends key to the registry list at rk unless it is already listed.
func (c *Cache) register(ctx context.Context, rk, key string) error {
	listed, err := c.registered(ctx, rk)
	if err != nil {
		return err
	}
	for _, k := range listed {
		if k == key {
			return nil
		}
	}

	// Registry entries never expire; they go away when the tag is invalidated.
	ok, err := c.store.Set(ctx, rk, append(listed, key), 0)
	if err != nil {
		return err
	}
	if !ok {
		c.logger.Warn("Failed to update tag registry",
			logging.String("registry", rk),
			logging.Key(key),
		)
	}
	return nil
}

func (c *Cache) registered(ctx context.Context, rk string) ([]string, error) {
	raw, err := c.store.Get(ctx, rk, nil)
	if err != nil {
		return nil, err
	}

	items, _ := raw.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (c *Cache) Delete(ctx context.Context, key string) (bool, error) {
	tk, err := c.TaggedKey(key)
	if err != nil {
		return false, err
	}
	return c.store.Delete(ctx, tk)
}

func (c *Cache) Has(ctx context.Context, key string) (bool, error) {
	tk, err := c.TaggedKey(key)
	if err != nil {
		return false, err
	}
	return c.store.Has(ctx, tk)
}

// Clear clears the whole underlying store, tagged or not.
func (c *Cache) Clear(ctx context.Context) bool {
	return c.store.Clear(ctx)
}

func (c *Cache) GetMultiple(ctx context.Context, keys []string, def any) (map[string]any, error) {
	return base.GetMultiple(ctx, c, keys, def)
}

func (c *Cache) SetMultiple(ctx context.Context, values map[string]any, ttl ...time.Duration) (bool, error) {
	return base.SetMultiple(ctx, c, values, ttl...)
}

func (c *Cache) DeleteMultiple(ctx context.Context, keys []string) (int, error) {
	return base.DeleteMultiple(ctx, c, keys)
}

func (c *Cache) Pull(ctx context.Context, key string, def any) (any, error) {
	tk, err := c.TaggedKey(key)
	if err != nil {
		return def, err
	}
	return c.store.Pull(ctx, tk, def)
}

func (c *Cache) Increment(ctx context.Context, key string, delta int64) (any, bool, error) {
	tk, err := c.TaggedKey(key)
	if err != nil {
		return nil, false, err
	}
	return c.store.Increment(ctx, tk, delta)
}

func (c *Cache) Decrement(ctx context.Context, key string, delta int64) (any, bool, error) {
	tk, err := c.TaggedKey(key)
	if err != nil {
		return nil, false, err
	}
	return c.store.Decrement(ctx, tk, delta)
}

// Remember registers key under the active tags when fn's result is stored.
func (c *Cache) Remember(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) (any, error)) (any, error) {
	return base.Remember(ctx, c, key, ttl, fn)
}

// Close is a no-op; the wrapped store belongs to the caller.
func (c *Cache) Close() error {
	return nil
}

// InvalidateTags deletes every key listed in the registries of tags and then
// the registries themselves.
//
// Keys are deleted under the fingerprint of this Cache's active tag set, so
// entries written under a different tag set that shares one of the tags are
// not reached.
func (c *Cache) InvalidateTags(ctx context.Context, tags ...string) (bool, error) {
	ok := true
	for _, tag := range tags {
		rk, err := registryKey(tag)
		if err != nil {
			return false, err
		}

		listed, err := c.registered(ctx, rk)
		if err != nil {
			return false, err
		}
		for _, key := range listed {
			if _, err := c.Delete(ctx, key); err != nil {
				// Registries only hold keys that passed validation when written.
				c.logger.Warn("Skipping invalid key in tag registry",
					logging.String("registry", rk),
					logging.Key(key),
					logging.Err(err),
				)
				ok = false
			}
		}

		if _, err := c.store.Delete(ctx, rk); err != nil {
			return false, err
		}
		c.logger.Debug("Invalidated cache tag",
			logging.String("tag", tag),
			logging.Int("keys", len(listed)),
		)
	}
	return ok, nil
}

// Flush invalidates every active tag.
func (c *Cache) Flush(ctx context.Context) (bool, error) {
	return c.InvalidateTags(ctx, c.tags...)
}

// GetKeysByTag returns the original keys recorded for tag, or an empty list.
func (c *Cache) GetKeysByTag(ctx context.Context, tag string) ([]string, error) {
	rk, err := registryKey(tag)
	if err != nil {
		return nil, err
	}
	return c.registered(ctx, rk)
}
