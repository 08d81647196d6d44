package redis

import (
	"kvcache/internal/cache"
	"kvcache/internal/common/factory"
)

// GetFactory returns the Redis store factory
func GetFactory() cache.StoreFactory {
	return factory.NewFactory[*Config, cache.Store](
		"redis",
		func(config *Config) (cache.Store, error) {
			d, err := New(config)
			if err != nil {
				return nil, err
			}
			return d, nil
		},
	)
}
