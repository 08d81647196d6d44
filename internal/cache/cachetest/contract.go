package cachetest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvcache/internal/cache"
	"kvcache/internal/common/errors"
)

// Harness is one freshly built store under test.
type Harness struct {
	Store cache.Store
	// Advance moves the store's notion of time forward. Nil skips the
	// expiry tests.
	Advance func(time.Duration)
}

// RunStoreContract runs the shared behaviour tests against stores produced
// by newHarness. Every subtest gets its own store.
func RunStoreContract(t *testing.T, newHarness func(t *testing.T) Harness) {
	t.Helper()

	cases := []struct {
		name string
		run  func(t *testing.T, h Harness)
	}{
		{"RoundTrip", testRoundTrip},
		{"MissReturnsDefault", testMissReturnsDefault},
		{"Overwrite", testOverwrite},
		{"DeleteAndHas", testDeleteAndHas},
		{"Clear", testClear},
		{"TTLExpiry", testTTLExpiry},
		{"ZeroTTLNeverExpires", testZeroTTLNeverExpires},
		{"InvalidKeys", testInvalidKeys},
		{"MultipleOperations", testMultipleOperations},
		{"Pull", testPull},
		{"IncrementDecrement", testIncrementDecrement},
		{"IncrementNonNumeric", testIncrementNonNumeric},
		{"IncrementFractional", testIncrementFractional},
		{"IncrementOverflow", testIncrementOverflow},
		{"CounterScenario", testCounterScenario},
		{"Remember", testRemember},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			t.Cleanup(func() { _ = h.Store.Close() })
			tc.run(t, h)
		})
	}
}

func testRoundTrip(t *testing.T, h Harness) {
	ctx := context.Background()
	values := map[string]struct {
		in   any
		want any
	}{
		"string":  {"hello", "hello"},
		"int":     {42, int64(42)},
		"float":   {2.75, 2.75},
		"bool":    {false, false},
		"list":    {[]any{"a", 1}, []any{"a", int64(1)}},
		"mapping": {map[string]any{"x": []any{true}}, map[string]any{"x": []any{true}}},
	}

	for key, tc := range values {
		ok, err := h.Store.Set(ctx, key, tc.in)
		require.NoError(t, err)
		require.True(t, ok, key)
	}
	for key, tc := range values {
		got, err := h.Store.Get(ctx, key, nil)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, key)
	}
}

func testMissReturnsDefault(t *testing.T, h Harness) {
	got, err := h.Store.Get(context.Background(), "absent", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", got)
}

func testOverwrite(t *testing.T, h Harness) {
	ctx := context.Background()
	_, _ = h.Store.Set(ctx, "k", "old")
	ok, err := h.Store.Set(ctx, "k", "new")
	require.NoError(t, err)
	require.True(t, ok)

	got, _ := h.Store.Get(ctx, "k", nil)
	assert.Equal(t, "new", got)
}

func testDeleteAndHas(t *testing.T, h Harness) {
	ctx := context.Background()
	_, _ = h.Store.Set(ctx, "k", 1)

	has, err := h.Store.Has(ctx, "k")
	require.NoError(t, err)
	assert.True(t, has)

	removed, err := h.Store.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = h.Store.Delete(ctx, "k")
	require.NoError(t, err)
	assert.False(t, removed)

	has, _ = h.Store.Has(ctx, "k")
	assert.False(t, has)
}

func testClear(t *testing.T, h Harness) {
	ctx := context.Background()
	_, _ = h.Store.SetMultiple(ctx, map[string]any{"a": 1, "b": 2})

	assert.True(t, h.Store.Clear(ctx))

	for _, k := range []string{"a", "b"} {
		has, _ := h.Store.Has(ctx, k)
		assert.False(t, has, k)
	}

	ok, _ := h.Store.Set(ctx, "after", 1)
	assert.True(t, ok, "store stays usable after Clear")
}

func testTTLExpiry(t *testing.T, h Harness) {
	if h.Advance == nil {
		t.Skip("store has no controllable clock")
	}
	ctx := context.Background()

	ok, err := h.Store.Set(ctx, "short", "v", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	got, _ := h.Store.Get(ctx, "short", nil)
	assert.Equal(t, "v", got)

	h.Advance(3 * time.Second)

	got, _ = h.Store.Get(ctx, "short", "expired")
	assert.Equal(t, "expired", got)
	has, _ := h.Store.Has(ctx, "short")
	assert.False(t, has)
}

func testZeroTTLNeverExpires(t *testing.T, h Harness) {
	if h.Advance == nil {
		t.Skip("store has no controllable clock")
	}
	ctx := context.Background()

	_, _ = h.Store.Set(ctx, "forever", "v", 0)
	h.Advance(24 * time.Hour)

	got, _ := h.Store.Get(ctx, "forever", nil)
	assert.Equal(t, "v", got)
}

func testInvalidKeys(t *testing.T, h Harness) {
	ctx := context.Background()
	for _, key := range []string{"", "a/b", "../x", `a\b`, "has space"} {
		_, err := h.Store.Get(ctx, key, nil)
		assert.True(t, errors.IsInvalidKey(err), "get %q", key)

		_, err = h.Store.Set(ctx, key, 1)
		assert.True(t, errors.IsInvalidKey(err), "set %q", key)

		_, err = h.Store.Delete(ctx, key)
		assert.True(t, errors.IsInvalidKey(err), "delete %q", key)

		_, err = h.Store.Has(ctx, key)
		assert.True(t, errors.IsInvalidKey(err), "has %q", key)
	}

	ok, err := h.Store.Set(ctx, "valid_key-1.2", 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func testMultipleOperations(t *testing.T, h Harness) {
	ctx := context.Background()

	ok, err := h.Store.SetMultiple(ctx, map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	require.True(t, ok)

	got, err := h.Store.GetMultiple(ctx, []string{"a", "b", "c"}, 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": int64(1), "b": int64(2), "c": 0}, got)

	n, err := h.Store.DeleteMultiple(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func testPull(t *testing.T, h Harness) {
	ctx := context.Background()
	_, _ = h.Store.Set(ctx, "k", "v")

	got, err := h.Store.Pull(ctx, "k", nil)
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	has, _ := h.Store.Has(ctx, "k")
	assert.False(t, has)

	got, err = h.Store.Pull(ctx, "k", "def")
	require.NoError(t, err)
	assert.Equal(t, "def", got)
}

func testIncrementDecrement(t *testing.T, h Harness) {
	ctx := context.Background()
	_, _ = h.Store.Set(ctx, "k", 10)

	steps := []struct {
		op    func(context.Context, string, int64) (any, bool, error)
		delta int64
		want  int64
	}{
		{h.Store.Increment, 1, 11},
		{h.Store.Increment, 2, 13},
		{h.Store.Decrement, 1, 12},
		{h.Store.Decrement, 2, 10},
	}
	for _, s := range steps {
		n, ok, err := s.op(ctx, "k", s.delta)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, s.want, n)
	}

	n, ok, err := h.Store.Increment(ctx, "fresh", 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(3), n)
}

func testIncrementNonNumeric(t *testing.T, h Harness) {
	ctx := context.Background()
	_, _ = h.Store.Set(ctx, "word", "abc")

	_, ok, err := h.Store.Increment(ctx, "word", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	got, _ := h.Store.Get(ctx, "word", nil)
	assert.Equal(t, "abc", got)
}

func testIncrementFractional(t *testing.T, h Harness) {
	ctx := context.Background()
	_, _ = h.Store.Set(ctx, "ratio", 1.5)

	n, ok, err := h.Store.Increment(ctx, "ratio", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2.5, n)

	n, ok, err = h.Store.Decrement(ctx, "ratio", 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, -0.5, n)

	got, _ := h.Store.Get(ctx, "ratio", nil)
	assert.Equal(t, -0.5, got)
}

func testIncrementOverflow(t *testing.T, h Harness) {
	ctx := context.Background()
	_, _ = h.Store.Set(ctx, "max", int64(math.MaxInt64))
	_, _ = h.Store.Set(ctx, "min", int64(math.MinInt64))

	_, ok, err := h.Store.Increment(ctx, "max", 1)
	require.NoError(t, err)
	assert.False(t, ok)
	got, _ := h.Store.Get(ctx, "max", nil)
	assert.Equal(t, int64(math.MaxInt64), got)

	_, ok, err = h.Store.Decrement(ctx, "min", 1)
	require.NoError(t, err)
	assert.False(t, ok)
	got, _ = h.Store.Get(ctx, "min", nil)
	assert.Equal(t, int64(math.MinInt64), got)

	n, ok, err := h.Store.Decrement(ctx, "max", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(math.MaxInt64-1), n)
}

func testCounterScenario(t *testing.T, h Harness) {
	ctx := context.Background()
	_, _ = h.Store.Set(ctx, "counter", 0)

	n, _, _ := h.Store.Increment(ctx, "counter", 1)
	assert.Equal(t, int64(1), n)
	n, _, _ = h.Store.Increment(ctx, "counter", 5)
	assert.Equal(t, int64(6), n)
	n, _, _ = h.Store.Decrement(ctx, "counter", 2)
	assert.Equal(t, int64(4), n)

	got, _ := h.Store.Get(ctx, "counter", nil)
	assert.Equal(t, int64(4), got)
}

func testRemember(t *testing.T, h Harness) {
	ctx := context.Background()
	calls := 0
	load := func(context.Context) (any, error) {
		calls++
		return "loaded", nil
	}

	for i := 0; i < 3; i++ {
		got, err := h.Store.Remember(ctx, "lazy", time.Minute, load)
		require.NoError(t, err)
		assert.Equal(t, "loaded", got)
	}
	assert.Equal(t, 1, calls)
}
