// Package redis implements a cache store on a Redis server using go-redis.
// Expiry is delegated to the server; every command goes through a circuit
// breaker so an unreachable server degrades to fast misses.
package redis

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"kvcache/internal/cache"
	"kvcache/internal/cache/base"
	"kvcache/internal/circuitbreaker"
	"kvcache/internal/common/errors"
	"kvcache/internal/common/retry"
)

const scanBatch = 100

type remote struct {
	client  *redis.Client
	owned   bool
	prefix  string
	breaker *circuitbreaker.Breaker
	now     func() time.Time
}

func (r *remote) Read(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	found := false
	err := r.breaker.Execute(ctx, func() error {
		data, err := r.client.Get(ctx, key).Bytes()
		if stderrors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		payload, found = data, true
		return nil
	})
	return payload, found, err
}

func (r *remote) Write(ctx context.Context, key string, payload []byte, expiresAt time.Time) error {
	var ttl time.Duration
	if !expiresAt.IsZero() {
		ttl = expiresAt.Sub(r.now())
		if ttl <= 0 {
			_, err := r.Remove(ctx, key)
			return err
		}
	}

	return r.breaker.Execute(ctx, func() error {
		return r.client.Set(ctx, key, payload, ttl).Err()
	})
}

func (r *remote) Remove(ctx context.Context, key string) (bool, error) {
	var n int64
	err := r.breaker.Execute(ctx, func() error {
		var err error
		n, err = r.client.Del(ctx, key).Result()
		return err
	})
	return n > 0, err
}

func (r *remote) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	err := r.breaker.Execute(ctx, func() error {
		var err error
		n, err = r.client.Exists(ctx, key).Result()
		return err
	})
	return n > 0, err
}

// Flush deletes the prefixed keyspace, or the whole database when the store
// has no prefix.
func (r *remote) Flush(ctx context.Context) error {
	return r.breaker.Execute(ctx, func() error {
		if r.prefix == "" {
			return r.client.FlushDB(ctx).Err()
		}

		iter := r.client.Scan(ctx, 0, r.prefix+":*", scanBatch).Iterator()
		batch := make([]string, 0, scanBatch)
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if len(batch) == scanBatch {
				if err := r.client.Del(ctx, batch...).Err(); err != nil {
					return err
				}
				batch = batch[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return err
		}
		if len(batch) > 0 {
			return r.client.Del(ctx, batch...).Err()
		}
		return nil
	})
}

func (r *remote) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}

// Driver is the Redis cache store.
type Driver struct {
	*base.Driver
	remote *remote
}

var _ cache.Store = (*Driver)(nil)

// New connects to Redis and verifies the connection with PING.
func New(config *Config) (*Driver, error) {
	if config == nil {
		return nil, errors.ConfigError("redis driver config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, owned := config.Client, false
	if client == nil {
		client = redis.NewClient(&redis.Options{
			Addr:         config.Address,
			Password:     config.Password,
			DB:           config.DB,
			PoolSize:     config.PoolSize,
			DialTimeout:  config.Timeout,
			ReadTimeout:  config.Timeout,
			WriteTimeout: config.Timeout,
		})
		owned = true
	}

	err := retry.Do(context.Background(), config.Connect, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, config.Timeout)
		defer cancel()
		return client.Ping(ctx).Err()
	})
	if err != nil {
		if owned {
			_ = client.Close()
		}
		return nil, errors.DriverError("redis", "failed to connect to Redis", err).
			WithContext("address", config.Address)
	}

	r := &remote{
		client: client,
		owned:  owned,
		prefix: config.Prefix,
		now:    config.Now,
	}
	d := &Driver{
		Driver: base.New(config.GetType(), r, config.Options),
		remote: r,
	}
	r.breaker = circuitbreaker.New(fmt.Sprintf("cache-%s", d.Name()), config.Breaker, d.Logger())

	return d, nil
}

// Client exposes the underlying go-redis client.
func (d *Driver) Client() *redis.Client {
	return d.remote.client
}

// Breaker exposes the circuit breaker guarding the connection.
func (d *Driver) Breaker() *circuitbreaker.Breaker {
	return d.remote.breaker
}
