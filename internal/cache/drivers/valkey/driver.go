// Package valkey implements a cache store on Valkey using valkey-go.
//
// It mirrors the redis driver: expiry is owned by the server and every
// command runs behind a circuit breaker. Payloads can additionally be
// compressed.
package valkey

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"kvcache/internal/cache"
	"kvcache/internal/cache/base"
	"kvcache/internal/cache/compress"
	"kvcache/internal/circuitbreaker"
	"kvcache/internal/common/errors"
	"kvcache/internal/common/retry"
)

const scanCount = 100

type remote struct {
	client  valkey.Client
	prefix  string
	codec   compress.Compressor
	breaker *circuitbreaker.Breaker
	now     func() time.Time
}

func (r *remote) Read(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := r.breaker.Execute(ctx, func() error {
		var err error
		data, err = r.client.Do(ctx, r.client.B().Get().Key(key).Build()).AsBytes()
		if valkey.IsValkeyNil(err) {
			data = nil
			return nil
		}
		return err
	})
	if err != nil || data == nil {
		return nil, false, err
	}

	payload, err := r.codec.Decode(data)
	if err != nil {
		return nil, false, errors.SerializationError("payload cannot be decompressed", err)
	}
	return payload, true, nil
}

func (r *remote) Write(ctx context.Context, key string, payload []byte, expiresAt time.Time) error {
	data, err := r.codec.Encode(payload)
	if err != nil {
		return fmt.Errorf("compress payload: %w", err)
	}

	var cmd valkey.Completed
	if expiresAt.IsZero() {
		cmd = r.client.B().Set().Key(key).Value(string(data)).Build()
	} else {
		ttl := expiresAt.Sub(r.now())
		if ttl <= 0 {
			_, err := r.Remove(ctx, key)
			return err
		}
		cmd = r.client.B().Set().Key(key).Value(string(data)).Px(ttl).Build()
	}

	return r.breaker.Execute(ctx, func() error {
		return r.client.Do(ctx, cmd).Error()
	})
}

func (r *remote) Remove(ctx context.Context, key string) (bool, error) {
	var n int64
	err := r.breaker.Execute(ctx, func() error {
		var err error
		n, err = r.client.Do(ctx, r.client.B().Del().Key(key).Build()).AsInt64()
		return err
	})
	return n > 0, err
}

func (r *remote) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	err := r.breaker.Execute(ctx, func() error {
		var err error
		n, err = r.client.Do(ctx, r.client.B().Exists().Key(key).Build()).AsInt64()
		return err
	})
	return n > 0, err
}

func (r *remote) Flush(ctx context.Context) error {
	return r.breaker.Execute(ctx, func() error {
		if r.prefix == "" {
			return r.client.Do(ctx, r.client.B().Flushdb().Build()).Error()
		}

		var cursor uint64
		for {
			if err := ctx.Err(); err != nil {
				return err
			}

			scan, err := r.client.Do(ctx, r.client.B().Scan().Cursor(cursor).Match(r.prefix+":*").Count(scanCount).Build()).AsScanEntry()
			if err != nil {
				return fmt.Errorf("scan keys: %w", err)
			}
			if len(scan.Elements) > 0 {
				if err := r.client.Do(ctx, r.client.B().Del().Key(scan.Elements...).Build()).Error(); err != nil {
					return fmt.Errorf("delete keys: %w", err)
				}
			}

			cursor = scan.Cursor
			if cursor == 0 {
				return nil
			}
		}
	})
}

func (r *remote) Close() error {
	r.client.Close()
	return nil
}

// Driver is the Valkey cache store.
type Driver struct {
	*base.Driver
	remote *remote
}

var _ cache.Store = (*Driver)(nil)

// New connects to Valkey and verifies the connection with PING.
func New(config *Config) (*Driver, error) {
	if config == nil {
		return nil, errors.ConfigError("valkey driver config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	codec, err := compress.ByName(config.Compression)
	if err != nil {
		return nil, err
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  config.Addresses,
		Username:     config.Username,
		Password:     config.Password,
		SelectDB:     config.DB,
		DisableCache: true,
	})
	if err != nil {
		return nil, errors.DriverError("valkey", "failed to create Valkey client", err).
			WithContext("addresses", config.Addresses)
	}

	err = retry.Do(context.Background(), config.Connect, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, config.Timeout)
		defer cancel()
		return client.Do(ctx, client.B().Ping().Build()).Error()
	})
	if err != nil {
		client.Close()
		return nil, errors.DriverError("valkey", "failed to connect to Valkey", err).
			WithContext("addresses", config.Addresses)
	}

	r := &remote{
		client: client,
		prefix: config.Prefix,
		codec:  codec,
		now:    config.Now,
	}
	d := &Driver{
		Driver: base.New(config.GetType(), r, config.Options),
		remote: r,
	}
	r.breaker = circuitbreaker.New(fmt.Sprintf("cache-%s", d.Name()), config.Breaker, d.Logger())

	return d, nil
}

// Client exposes the underlying valkey-go client.
func (d *Driver) Client() valkey.Client {
	return d.remote.client
}

// Breaker exposes the circuit breaker guarding the connection.
func (d *Driver) Breaker() *circuitbreaker.Breaker {
	return d.remote.breaker
}
