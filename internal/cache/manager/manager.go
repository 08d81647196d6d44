// Package manager owns the named cache stores of an application.
//
// Stores are declared as configurations and built on first use through a
// registry of driver factories. The built-in drivers are registered by New;
// others can be added with Extend.
package manager

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"

	"kvcache/internal/cache"
	"kvcache/internal/cache/base"
	"kvcache/internal/cache/drivers/array"
	"kvcache/internal/cache/drivers/database"
	"kvcache/internal/cache/drivers/file"
	"kvcache/internal/cache/drivers/redis"
	"kvcache/internal/cache/drivers/valkey"
	"kvcache/internal/cache/metrics"
	"kvcache/internal/cache/tagged"
	"kvcache/internal/common/errors"
	"kvcache/internal/common/logging"
	"kvcache/internal/common/registry"
)

// Manager builds stores lazily and memoizes them by name.
type Manager struct {
	defaultName string
	configs     map[string]cache.StoreConfig
	stores      map[string]cache.Store
	drivers     *registry.Registry[cache.StoreFactory]
	logger      logging.Logger
	metrics     metrics.Recorder
	mu          sync.RWMutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger handed to stores that do not configure one.
func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the recorder handed to stores that do not configure one.
func WithMetrics(recorder metrics.Recorder) Option {
	return func(m *Manager) {
		if recorder != nil {
			m.metrics = recorder
		}
	}
}

// WithFactory registers an additional driver factory under its type name.
func WithFactory(factory cache.StoreFactory) Option {
	return func(m *Manager) {
		m.drivers.Add(factory)
	}
}

// DefaultDrivers returns a registry holding the built-in drivers.
func DefaultDrivers() *registry.Registry[cache.StoreFactory] {
	drivers := registry.New[cache.StoreFactory]()
	drivers.Add(array.GetFactory())
	drivers.Add(file.GetFactory())
	drivers.Add(redis.GetFactory())
	drivers.Add(valkey.GetFactory())
	drivers.Add(database.GetFactory())
	return drivers
}

// New creates a manager for the given store configurations. defaultName
// must name one of them unless configs is empty.
func New(defaultName string, configs map[string]cache.StoreConfig, opts ...Option) (*Manager, error) {
	m := &Manager{
		defaultName: defaultName,
		configs:     make(map[string]cache.StoreConfig, len(configs)),
		stores:      make(map[string]cache.Store),
		drivers:     DefaultDrivers(),
		logger:      logging.GetGlobalLogger(),
		metrics:     metrics.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	for name, config := range configs {
		if config == nil {
			return nil, errors.ConfigError(fmt.Sprintf("cache store %s has no configuration", name))
		}
		m.configs[name] = config
	}
	if len(m.configs) > 0 {
		if _, ok := m.configs[defaultName]; !ok {
			return nil, errors.ConfigError(fmt.Sprintf("default cache store %q is not configured", defaultName))
		}
	}

	return m, nil
}

// Extend registers a driver factory under name, replacing any existing one.
// Stores already built with the replaced factory are kept until Purge.
func (m *Manager) Extend(name string, factory cache.StoreFactory) {
	if m.drivers.IsRegistered(name) {
		m.logger.Warn("Replacing registered cache driver", logging.Driver(name))
	}
	m.drivers.Register(name, factory)
	m.logger.Debug("Registered cache driver", logging.Driver(name))
}

// ForgetDriver removes the factory registered under name and reports whether
// there was one. Stores configured for that driver fail to build afterwards;
// stores already built are unaffected.
func (m *Manager) ForgetDriver(name string) bool {
	if !m.drivers.Unregister(name) {
		return false
	}
	m.logger.Debug("Removed cache driver", logging.Driver(name))
	return true
}

// Drivers returns the registered driver names.
func (m *Manager) Drivers() []string {
	return m.drivers.Names()
}

// Configure adds or replaces a store configuration. A store already built
// under name is closed and rebuilt on next use.
func (m *Manager) Configure(name string, config cache.StoreConfig) error {
	if config == nil {
		return errors.ConfigError(fmt.Sprintf("cache store %s has no configuration", name))
	}

	m.mu.Lock()
	m.configs[name] = config
	m.mu.Unlock()

	return m.Purge(name)
}

// Names returns the configured store names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.configs))
	for name := range m.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultName returns the name of the default store.
func (m *Manager) DefaultName() string {
	return m.defaultName
}

// Default returns the default store.
func (m *Manager) Default() (cache.Store, error) {
	return m.Store(m.defaultName)
}

// Store returns the named store, building it on first use.
func (m *Manager) Store(name string) (cache.Store, error) {
	m.mu.RLock()
	store, exists := m.stores[name]
	m.mu.RUnlock()
	if exists {
		return store, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if store, exists := m.stores[name]; exists {
		return store, nil
	}

	config, ok := m.configs[name]
	if !ok {
		return nil, errors.NotFoundError(fmt.Sprintf("cache store %s", name)).
			WithContext("configured", m.namesLocked())
	}

	factory, err := m.drivers.Get(config.GetType())
	if err != nil {
		return nil, err
	}

	if c, ok := config.(base.Configurable); ok {
		opts := c.Common()
		if opts.Name == "" {
			opts.Name = name
		}
		if opts.Logger == nil {
			opts.Logger = m.logger
		}
		if opts.Metrics == nil {
			opts.Metrics = m.metrics
		}
	}

	store, err = factory.Create(config)
	if err != nil {
		m.logger.Error("Failed to create cache store", err,
			logging.Store(name),
			logging.Driver(config.GetType()),
		)
		return nil, err
	}

	m.stores[name] = store
	m.logger.Info("Cache store ready",
		logging.Store(name),
		logging.Driver(config.GetType()),
	)
	return store, nil
}

func (m *Manager) namesLocked() []string {
	names := make([]string, 0, len(m.configs))
	for name := range m.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tags returns a tagged view over the named store.
func (m *Manager) Tags(name string, tags ...string) (*tagged.Cache, error) {
	store, err := m.Store(name)
	if err != nil {
		return nil, err
	}
	return tagged.New(store, tags...).WithLogger(m.logger), nil
}

// Purge closes and forgets the built store for name. The configuration is
// kept, so the next Store call builds a fresh instance.
func (m *Manager) Purge(name string) error {
	m.mu.Lock()
	store, exists := m.stores[name]
	delete(m.stores, name)
	m.mu.Unlock()

	if !exists {
		return nil
	}
	if err := store.Close(); err != nil {
		return errors.InternalError(fmt.Sprintf("failed to close cache store %s", name), err)
	}
	return nil
}

// CleanExpired asks every built store that supports it to reclaim expired
// entries and returns the number removed per store.
func (m *Manager) CleanExpired(ctx context.Context) (map[string]int, error) {
	m.mu.RLock()
	cleaners := make(map[string]cache.Cleaner, len(m.stores))
	for name, store := range m.stores {
		if c, ok := store.(cache.Cleaner); ok {
			cleaners[name] = c
		}
	}
	m.mu.RUnlock()

	removed := make(map[string]int, len(cleaners))
	var errs []error
	for name, c := range cleaners {
		n, err := c.CleanExpired(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("store %s: %w", name, err))
			continue
		}
		removed[name] = n
	}
	return removed, stderrors.Join(errs...)
}

// Close closes every built store.
func (m *Manager) Close() error {
	m.mu.Lock()
	stores := m.stores
	m.stores = make(map[string]cache.Store)
	m.mu.Unlock()

	var errs []error
	for name, store := range stores {
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store %s: %w", name, err))
		}
	}
	return stderrors.Join(errs...)
}
