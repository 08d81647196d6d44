// Package config loads the cache configuration from environment variables
// and turns it into the store configurations the cache manager consumes.
//
// Environment Variables:
//
// General:
//   - CACHE_DEFAULT: Name of the default store (default: file)
//   - CACHE_PREFIX: Key prefix shared by every store
//   - CACHE_TTL: Default TTL for writes without one, 0 for none (default: 0)
//   - LOG_LEVEL: Logging level (default: info)
//
// File store:
//   - CACHE_PATH: Cache root directory (default: per-user cache directory)
//   - CACHE_FILE_PERMISSIONS: Octal file mode (default: 0644)
//   - CACHE_DIRECTORY_PERMISSIONS: Octal directory mode (default: 0755)
//   - CACHE_COMPRESSION: none, s2 or zstd (default: none)
//
// Redis store:
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Valkey store (configured only when VALKEY_ADDRESS is set):
//   - VALKEY_ADDRESS: Comma separated Valkey addresses
//   - VALKEY_PASSWORD: Valkey password
//   - VALKEY_DB: Valkey database number (default: 0)
//
// Database store (configured only when CACHE_DATABASE_DSN is set):
//   - CACHE_DATABASE_DIALECT: sqlite3 or postgres (default: sqlite3)
//   - CACHE_DATABASE_DSN: SQLite file path or PostgreSQL URL
//   - CACHE_DATABASE_TABLE: Table name (default: cache_entries)
//
// Circuit breaker for remote stores:
//   - CACHE_BREAKER_MAX_FAILURES: Consecutive failures before opening (default: 5)
//   - CACHE_BREAKER_TIMEOUT: Time the breaker stays open (default: 30s)
//   - CACHE_CONNECT_ATTEMPTS: Connection attempts at store construction (default: 3)
//
// Example usage:
//
//	cfg := config.Load()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
//	stores, err := cfg.Stores()
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"kvcache/internal/cache"
	"kvcache/internal/cache/base"
	"kvcache/internal/cache/compress"
	"kvcache/internal/cache/drivers/array"
	"kvcache/internal/cache/drivers/database"
	"kvcache/internal/cache/drivers/file"
	"kvcache/internal/cache/drivers/redis"
	"kvcache/internal/cache/drivers/valkey"
	"kvcache/internal/cache/keys"
	"kvcache/internal/circuitbreaker"
	"kvcache/internal/common/logging"
	"kvcache/internal/common/retry"
)

// Config holds the raw configuration values. Numeric and duration settings
// are kept as strings and parsed by Validate and Stores.
type Config struct {
	DefaultStore string // Name of the default store
	Prefix       string // Key prefix shared by every store
	TTL          string // Default TTL as a Go duration
	LogLevel     string // Logging level (debug, info, warn, error)

	// File store
	Path                 string // Cache root directory
	FilePermissions      string // Octal file mode
	DirectoryPermissions string // Octal directory mode
	Compression          string // Payload compression for file and valkey stores

	// Redis store
	RedisAddress  string
	RedisPassword string
	RedisDB       string
	RedisPoolSize string

	// Valkey store
	ValkeyAddress  string
	ValkeyPassword string
	ValkeyDB       string

	// Database store
	DatabaseDialect string
	DatabaseDSN     string
	DatabaseTable   string

	// Circuit breaker
	BreakerMaxFailures string
	BreakerTimeout     string
	ConnectAttempts    string // Connection attempts for remote and database stores
}

// Load creates a Config from environment variables, using defaults for
// anything unset. It does not validate.
func Load() *Config {
	return &Config{
		DefaultStore: getEnv("CACHE_DEFAULT", "file"),
		Prefix:       getEnv("CACHE_PREFIX", ""),
		TTL:          getEnv("CACHE_TTL", "0"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		Path:                 getEnv("CACHE_PATH", file.DefaultPath()),
		FilePermissions:      getEnv("CACHE_FILE_PERMISSIONS", "0644"),
		DirectoryPermissions: getEnv("CACHE_DIRECTORY_PERMISSIONS", "0755"),
		Compression:          getEnv("CACHE_COMPRESSION", compress.NameNone),

		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),

		ValkeyAddress:  getEnv("VALKEY_ADDRESS", ""),
		ValkeyPassword: getEnv("VALKEY_PASSWORD", ""),
		ValkeyDB:       getEnv("VALKEY_DB", "0"),

		DatabaseDialect: getEnv("CACHE_DATABASE_DIALECT", database.DialectSQLite),
		DatabaseDSN:     getEnv("CACHE_DATABASE_DSN", ""),
		DatabaseTable:   getEnv("CACHE_DATABASE_TABLE", "cache_entries"),

		BreakerMaxFailures: getEnv("CACHE_BREAKER_MAX_FAILURES", "5"),
		BreakerTimeout:     getEnv("CACHE_BREAKER_TIMEOUT", "30s"),
		ConnectAttempts:    getEnv("CACHE_CONNECT_ATTEMPTS", "3"),
	}
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Validate checks every value and cross-field dependency.
func (c *Config) Validate() error {
	if c.Prefix != "" && !keys.IsValid(c.Prefix) {
		return fmt.Errorf("CACHE_PREFIX must only contain letters, digits, '_', '-' or '.'")
	}

	if ttl, err := time.ParseDuration(c.TTL); err != nil || ttl < 0 {
		return fmt.Errorf("CACHE_TTL must be a non-negative duration (e.g., '0', '10m')")
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}

	if _, err := parseMode(c.FilePermissions); err != nil {
		return fmt.Errorf("CACHE_FILE_PERMISSIONS must be an octal file mode: %w", err)
	}
	if _, err := parseMode(c.DirectoryPermissions); err != nil {
		return fmt.Errorf("CACHE_DIRECTORY_PERMISSIONS must be an octal file mode: %w", err)
	}
	if !compress.Valid(c.Compression) {
		return fmt.Errorf("CACHE_COMPRESSION must be 'none', 's2' or 'zstd'")
	}

	if c.RedisAddress != "" {
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	}

	if c.ValkeyAddress != "" {
		if db, err := strconv.Atoi(c.ValkeyDB); err != nil || db < 0 {
			return fmt.Errorf("VALKEY_DB must be a non-negative number")
		}
	}

	if c.DatabaseDSN != "" {
		switch c.DatabaseDialect {
		case "sqlite", "sqlite3", "postgres", "postgresql":
		default:
			return fmt.Errorf("CACHE_DATABASE_DIALECT must be 'sqlite3' or 'postgres'")
		}
	}

	if n, err := strconv.Atoi(c.BreakerMaxFailures); err != nil || n < 1 {
		return fmt.Errorf("CACHE_BREAKER_MAX_FAILURES must be a positive number")
	}
	if d, err := time.ParseDuration(c.BreakerTimeout); err != nil || d <= 0 {
		return fmt.Errorf("CACHE_BREAKER_TIMEOUT must be a positive duration (e.g., '30s')")
	}

	if n, err := strconv.Atoi(c.ConnectAttempts); err != nil || n < 1 {
		return fmt.Errorf("CACHE_CONNECT_ATTEMPTS must be a positive number")
	}

	names := c.StoreNames()
	for _, name := range names {
		if name == c.DefaultStore {
			return nil
		}
	}
	return fmt.Errorf("CACHE_DEFAULT must name a configured store (%s)", strings.Join(names, ", "))
}

// StoreNames lists the stores this configuration declares.
func (c *Config) StoreNames() []string {
	names := []string{"array", "file"}
	if c.RedisAddress != "" {
		names = append(names, "redis")
	}
	if c.ValkeyAddress != "" {
		names = append(names, "valkey")
	}
	if c.DatabaseDSN != "" {
		names = append(names, "database")
	}
	return names
}

// Stores builds the store configurations, keyed by store name. Each store
// is named after its driver. Call Validate first.
func (c *Config) Stores() (map[string]cache.StoreConfig, error) {
	ttl, err := time.ParseDuration(c.TTL)
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}
	options := func() base.Options {
		return base.Options{Prefix: c.Prefix, TTL: ttl}
	}

	fileMode, err := parseMode(c.FilePermissions)
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_FILE_PERMISSIONS: %w", err)
	}
	dirMode, err := parseMode(c.DirectoryPermissions)
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_DIRECTORY_PERMISSIONS: %w", err)
	}
	breaker, err := c.breaker()
	if err != nil {
		return nil, err
	}
	attempts, err := strconv.Atoi(c.ConnectAttempts)
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_CONNECT_ATTEMPTS: %w", err)
	}
	connect := retry.DefaultConfig()
	connect.Attempts = attempts

	stores := map[string]cache.StoreConfig{
		"array": &array.Config{Options: options()},
		"file": &file.Config{
			Options:              options(),
			Path:                 c.Path,
			FilePermissions:      fileMode,
			DirectoryPermissions: dirMode,
			Compression:          c.Compression,
		},
	}

	if c.RedisAddress != "" {
		db, _ := strconv.Atoi(c.RedisDB)
		poolSize, _ := strconv.Atoi(c.RedisPoolSize)
		stores["redis"] = &redis.Config{
			Options:  options(),
			Address:  c.RedisAddress,
			Password: c.RedisPassword,
			DB:       db,
			PoolSize: poolSize,
			Breaker:  breaker,
			Connect:  connect,
		}
	}

	if c.ValkeyAddress != "" {
		db, _ := strconv.Atoi(c.ValkeyDB)
		stores["valkey"] = &valkey.Config{
			Options:     options(),
			Addresses:   splitList(c.ValkeyAddress),
			Password:    c.ValkeyPassword,
			DB:          db,
			Compression: c.Compression,
			Breaker:     breaker,
			Connect:     connect,
		}
	}

	if c.DatabaseDSN != "" {
		stores["database"] = &database.Config{
			Options: options(),
			Dialect: c.DatabaseDialect,
			DSN:     c.DatabaseDSN,
			Table:   c.DatabaseTable,
			Connect: connect,
		}
	}

	return stores, nil
}

func (c *Config) breaker() (circuitbreaker.Config, error) {
	cfg := circuitbreaker.DefaultConfig()

	n, err := strconv.Atoi(c.BreakerMaxFailures)
	if err != nil {
		return cfg, fmt.Errorf("invalid CACHE_BREAKER_MAX_FAILURES: %w", err)
	}
	timeout, err := time.ParseDuration(c.BreakerTimeout)
	if err != nil {
		return cfg, fmt.Errorf("invalid CACHE_BREAKER_TIMEOUT: %w", err)
	}

	cfg.MaxFailures = n
	cfg.Timeout = timeout
	return cfg, nil
}

func parseMode(s string) (os.FileMode, error) {
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, err
	}
	if v > 0o777 {
		return 0, fmt.Errorf("mode %s exceeds 0777", s)
	}
	return os.FileMode(v), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
