package factory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonErrors "kvcache/internal/common/errors"
)

type testConfig struct {
	Path string
}

type testStore struct {
	Path string
}

func createTestStore(config *testConfig) (*testStore, error) {
	if config.Path == "" {
		return nil, errors.New("path is required")
	}
	return &testStore{Path: config.Path}, nil
}

func TestFactory_Create(t *testing.T) {
	factory := NewFactory[*testConfig, *testStore]("file", createTestStore)

	t.Run("successful creation", func(t *testing.T) {
		store, err := factory.Create(&testConfig{Path: "/tmp/cache"})
		require.NoError(t, err)
		assert.Equal(t, "/tmp/cache", store.Path)
	})

	t.Run("plain creator error becomes a driver error", func(t *testing.T) {
		store, err := factory.Create(&testConfig{})
		require.Error(t, err)
		assert.Nil(t, store)
		assert.True(t, commonErrors.IsType(err, commonErrors.ErrTypeDriver))
		assert.Contains(t, err.Error(), "path is required")
	})

	t.Run("app errors pass through", func(t *testing.T) {
		f := NewFactory[*testConfig, *testStore]("file", func(*testConfig) (*testStore, error) {
			return nil, commonErrors.ConnectionError("unreachable", nil)
		})
		_, err := f.Create(&testConfig{})
		assert.True(t, commonErrors.IsType(err, commonErrors.ErrTypeConnection))
	})

	t.Run("invalid config type", func(t *testing.T) {
		store, err := factory.Create(testConfig{Path: "/tmp/cache"})
		require.Error(t, err)
		assert.Nil(t, store)
		assert.True(t, commonErrors.IsType(err, commonErrors.ErrTypeConfig))
		assert.Contains(t, err.Error(), "invalid config type for file driver")
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := factory.Create(nil)
		require.Error(t, err)
		assert.True(t, commonErrors.IsType(err, commonErrors.ErrTypeConfig))
	})
}

func TestFactory_GetType(t *testing.T) {
	factory := NewFactory[*testConfig, *testStore]("array", createTestStore)
	assert.Equal(t, "array", factory.GetType())
}

func TestFactory_SatisfiesCreator(t *testing.T) {
	var c Creator[*testStore] = NewFactory[*testConfig, *testStore]("file", createTestStore)

	store, err := c.Create(&testConfig{Path: "/var/cache"})
	require.NoError(t, err)
	assert.Equal(t, "/var/cache", store.Path)
}

func TestFactory_PanicBecomesInternalError(t *testing.T) {
	panicFactory := NewFactory[*testConfig, *testStore]("panic", func(config *testConfig) (*testStore, error) {
		panic("deliberate panic for testing")
	})

	var (
		store *testStore
		err   error
	)
	assert.NotPanics(t, func() {
		store, err = panicFactory.Create(&testConfig{})
	})
	assert.Nil(t, store)
	assert.True(t, commonErrors.IsType(err, commonErrors.ErrTypeInternal))
	assert.Contains(t, err.Error(), "deliberate panic")
}
