package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvcache/internal/common/errors"
)

type stubFactory struct {
	name string
}

func (s stubFactory) GetType() string { return s.name }

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := New[stubFactory]()
	r.Register("array", stubFactory{name: "array"})
	r.Add(stubFactory{name: "file"})

	f, err := r.Get("file")
	require.NoError(t, err)
	assert.Equal(t, "file", f.GetType())

	assert.True(t, r.IsRegistered("array"))
	assert.Equal(t, 2, r.Count())
	assert.Equal(t, []string{"array", "file"}, r.Names())
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := New[stubFactory]()
	r.Add(stubFactory{name: "array"})

	_, err := r.Get("memcached")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
	assert.Contains(t, err.Error(), "cache driver memcached not found")
}

func TestRegistry_ReplaceAndUnregister(t *testing.T) {
	r := New[stubFactory]()
	r.Register("custom", stubFactory{name: "v1"})
	r.Register("custom", stubFactory{name: "v2"})

	f, err := r.Get("custom")
	require.NoError(t, err)
	assert.Equal(t, "v2", f.GetType())

	assert.True(t, r.Unregister("custom"))
	assert.False(t, r.Unregister("custom"))
	assert.Zero(t, r.Count())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New[stubFactory]()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Add(stubFactory{name: "array"})
		}()
		go func() {
			defer wg.Done()
			_ = r.Names()
			_ = r.IsRegistered("array")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, r.Count())
}
