package database

import (
	"database/sql"
	"regexp"

	"kvcache/internal/cache/base"
	"kvcache/internal/common/errors"
	"kvcache/internal/common/retry"
)

const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "postgres"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Config holds the SQL driver configuration.
type Config struct {
	base.Options

	// Dialect is sqlite3 or postgres.
	Dialect string `json:"dialect"`
	// DSN is a file path for sqlite3 or a connection URL for postgres.
	DSN   string `json:"dsn"`
	Table string `json:"table"`

	// Connect controls retries of the initial ping. The zero value tries once.
	Connect retry.Config `json:"connect"`

	// DB replaces the connection opened from DSN. The driver does not close
	// a database it did not open.
	DB *sql.DB `json:"-"`
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if err := c.Options.Validate(); err != nil {
		return err
	}

	switch c.Dialect {
	case "", "sqlite", DialectSQLite:
		c.Dialect = DialectSQLite
	case "postgresql", "pgx", DialectPostgres:
		c.Dialect = DialectPostgres
	default:
		return errors.ConfigError("unsupported database dialect: " + c.Dialect)
	}

	if c.DB == nil && c.DSN == "" {
		return errors.ConfigError("database dsn is required")
	}
	if c.Table == "" {
		c.Table = "cache_entries"
	}
	if !tableName.MatchString(c.Table) {
		return errors.ConfigError("invalid database table name: " + c.Table)
	}

	return nil
}

// GetType returns the driver type
func (c *Config) GetType() string {
	return "database"
}

// driverName maps the dialect to the database/sql driver registered for it.
func (c *Config) driverName() string {
	if c.Dialect == DialectPostgres {
		return "pgx"
	}
	return "sqlite3"
}
