// Package database implements a cache store on a SQL table, using
// go-sqlite3 or pgx through database/sql.
package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"kvcache/internal/cache"
	"kvcache/internal/cache/base"
	"kvcache/internal/common/errors"
	"kvcache/internal/common/logging"
	"kvcache/internal/common/retry"
)

type statements struct {
	read        string
	write       string
	remove      string
	removeStale string
	exists      string
	flushAll    string
	flushPrefix string
	cleanup     string
}

// buildStatements renders the queries for a table. Postgres uses $n
// placeholders, sqlite uses ?.
func buildStatements(dialect, table string) statements {
	p := func(n int) string {
		if dialect == DialectPostgres {
			return fmt.Sprintf("$%d", n)
		}
		return "?"
	}

	return statements{
		read: fmt.Sprintf(`SELECT value, expires_at FROM %s WHERE key = %s`, table, p(1)),
		write: fmt.Sprintf(`INSERT INTO %s (key, value, expires_at, created_at) VALUES (%s, %s, %s, %s)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at, created_at = excluded.created_at`,
			table, p(1), p(2), p(3), p(4)),
		remove:      fmt.Sprintf(`DELETE FROM %s WHERE key = %s`, table, p(1)),
		removeStale: fmt.Sprintf(`DELETE FROM %s WHERE key = %s AND expires_at IS NOT NULL AND expires_at < %s`, table, p(1), p(2)),
		exists: fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE key = %s AND (expires_at IS NULL OR expires_at >= %s)`,
			table, p(1), p(2)),
		flushAll:    fmt.Sprintf(`DELETE FROM %s`, table),
		flushPrefix: fmt.Sprintf(`DELETE FROM %s WHERE key LIKE %s ESCAPE '!'`, table, p(1)),
		cleanup:     fmt.Sprintf(`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at < %s`, table, p(1)),
	}
}

func schema(dialect, table string) string {
	if dialect == DialectPostgres {
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			value BYTEA NOT NULL,
			expires_at BIGINT NULL,
			created_at BIGINT NOT NULL
		)`, table)
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at INTEGER NULL,
		created_at INTEGER NOT NULL
	)`, table)
}

// likePrefix escapes the LIKE wildcards that are legal key characters.
func likePrefix(prefix string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(prefix+":") + "%"
}

// table stores timestamps as Unix milliseconds.
type table struct {
	db     *sql.DB
	owned  bool
	prefix string
	stmts  statements
	now    func() time.Time
}

func (t *table) Read(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		payload []byte
		expires sql.NullInt64
	)
	err := t.db.QueryRowContext(ctx, t.stmts.read, key).Scan(&payload, &expires)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	now := t.now().UnixMilli()
	if expires.Valid && expires.Int64 < now {
		// The guard on expires_at keeps a concurrent overwrite alive.
		if _, err := t.db.ExecContext(ctx, t.stmts.removeStale, key, now); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	return payload, true, nil
}

func (t *table) Write(ctx context.Context, key string, payload []byte, expiresAt time.Time) error {
	var expires sql.NullInt64
	if !expiresAt.IsZero() {
		expires = sql.NullInt64{Int64: expiresAt.UnixMilli(), Valid: true}
	}
	_, err := t.db.ExecContext(ctx, t.stmts.write, key, payload, expires, t.now().UnixMilli())
	return err
}

func (t *table) Remove(ctx context.Context, key string) (bool, error) {
	res, err := t.db.ExecContext(ctx, t.stmts.remove, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (t *table) Exists(ctx context.Context, key string) (bool, error) {
	var n int
	if err := t.db.QueryRowContext(ctx, t.stmts.exists, key, t.now().UnixMilli()).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *table) Flush(ctx context.Context) error {
	if t.prefix == "" {
		_, err := t.db.ExecContext(ctx, t.stmts.flushAll)
		return err
	}
	_, err := t.db.ExecContext(ctx, t.stmts.flushPrefix, likePrefix(t.prefix))
	return err
}

func (t *table) Close() error {
	if !t.owned {
		return nil
	}
	return t.db.Close()
}

// Driver is the SQL cache store.
type Driver struct {
	*base.Driver
	table *table
}

var (
	_ cache.Store   = (*Driver)(nil)
	_ cache.Cleaner = (*Driver)(nil)
)

// New opens the database and creates the cache table if it does not exist.
func New(config *Config) (*Driver, error) {
	if config == nil {
		return nil, errors.ConfigError("database driver config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	db, owned := config.DB, false
	if db == nil {
		var err error
		db, err = sql.Open(config.driverName(), config.DSN)
		if err != nil {
			return nil, errors.DriverError("database", "failed to open database", err).
				WithContext("dialect", config.Dialect)
		}
		owned = true
		if config.Dialect == DialectSQLite {
			// A single connection serializes writers instead of surfacing SQLITE_BUSY.
			db.SetMaxOpenConns(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fail := func(msg string, err error) (*Driver, error) {
		if owned {
			_ = db.Close()
		}
		return nil, errors.DriverError("database", msg, err).
			WithContext("dialect", config.Dialect).
			WithContext("table", config.Table)
	}

	if err := retry.Do(ctx, config.Connect, func(ctx context.Context) error { return db.PingContext(ctx) }); err != nil {
		return fail("failed to ping database", err)
	}
	if _, err := db.ExecContext(ctx, schema(config.Dialect, config.Table)); err != nil {
		return fail("failed to create cache table", err)
	}

	t := &table{
		db:     db,
		owned:  owned,
		prefix: config.Prefix,
		stmts:  buildStatements(config.Dialect, config.Table),
		now:    config.Now,
	}

	return &Driver{
		Driver: base.New(config.GetType(), t, config.Options),
		table:  t,
	}, nil
}

// CleanExpired deletes every expired row in one statement. Rows outside the
// store's prefix are included, since expiry is independent of the namespace.
func (d *Driver) CleanExpired(ctx context.Context) (int, error) {
	res, err := d.table.db.ExecContext(ctx, d.table.stmts.cleanup, d.table.now().UnixMilli())
	if err != nil {
		return 0, errors.DriverError("database", "failed to clean expired entries", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.DriverError("database", "failed to count cleaned entries", err)
	}

	d.Logger().Debug("Cleaned expired cache entries",
		logging.Store(d.Name()),
		logging.Int64("removed", n),
	)
	return int(n), nil
}

// DB exposes the underlying connection pool.
func (d *Driver) DB() *sql.DB {
	return d.table.db
}
