// Package array implements a process-local cache store backed by a map.
//
// The store is not safe for concurrent mutation. It is meant for tests and
// single-goroutine use; wrap it with your own lock when sharing it.
package array

import (
	"context"
	"time"

	"kvcache/internal/cache"
	"kvcache/internal/cache/base"
)

type entry struct {
	payload   []byte
	expiresAt time.Time
	createdAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && e.expiresAt.Before(now)
}

type memory struct {
	entries map[string]entry
	now     func() time.Time
}

func (m *memory) Read(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := m.lookup(key)
	if !ok {
		return nil, false, nil
	}
	return e.payload, true, nil
}

func (m *memory) Write(_ context.Context, key string, payload []byte, expiresAt time.Time) error {
	m.entries[key] = entry{
		payload:   append([]byte(nil), payload...),
		expiresAt: expiresAt,
		createdAt: m.now(),
	}
	return nil
}

func (m *memory) Remove(_ context.Context, key string) (bool, error) {
	_, ok := m.entries[key]
	delete(m.entries, key)
	return ok, nil
}

func (m *memory) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.lookup(key)
	return ok, nil
}

func (m *memory) Flush(context.Context) error {
	m.entries = make(map[string]entry)
	return nil
}

// lookup returns the live entry for key, evicting it if it has expired.
func (m *memory) lookup(key string) (entry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(m.now()) {
		delete(m.entries, key)
		return entry{}, false
	}
	return e, true
}

// Driver is the in-memory cache store.
type Driver struct {
	*base.Driver
	mem *memory
}

var (
	_ cache.Store   = (*Driver)(nil)
	_ cache.Cleaner = (*Driver)(nil)
)

// New creates an in-memory store.
func New(config *Config) (*Driver, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	mem := &memory{entries: make(map[string]entry), now: config.Now}
	return &Driver{
		Driver: base.New(config.GetType(), mem, config.Options),
		mem:    mem,
	}, nil
}

// CleanExpired evicts every expired entry and returns how many were removed.
func (d *Driver) CleanExpired(ctx context.Context) (int, error) {
	now := d.mem.now()
	n := 0
	for key, e := range d.mem.entries {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if e.expired(now) {
			delete(d.mem.entries, key)
			n++
		}
	}
	return n, nil
}

// Len returns the number of entries held, including expired ones that have
// not been evicted yet.
func (d *Driver) Len() int {
	return len(d.mem.entries)
}
