package base

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvcache/internal/cache/metrics"
	"kvcache/internal/common/errors"
	"kvcache/internal/common/logging"
)

type stored struct {
	payload   []byte
	expiresAt time.Time
}

// fakeBackend is a map-backed Backend with switchable failures.
type fakeBackend struct {
	mu      sync.Mutex
	entries map[string]stored
	fail    error
	closed  bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{entries: make(map[string]stored)}
}

func (f *fakeBackend) Read(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, false, f.fail
	}
	e, ok := f.entries[key]
	return e.payload, ok, nil
}

func (f *fakeBackend) Write(_ context.Context, key string, payload []byte, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.entries[key] = stored{payload: payload, expiresAt: expiresAt}
	return nil
}

func (f *fakeBackend) Remove(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return false, f.fail
	}
	_, ok := f.entries[key]
	delete(f.entries, key)
	return ok, nil
}

func (f *fakeBackend) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return false, f.fail
	}
	_, ok := f.entries[key]
	return ok, nil
}

func (f *fakeBackend) Flush(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.entries = make(map[string]stored)
	return nil
}

func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

type recordedEvent struct {
	store, op string
	event     metrics.Event
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *fakeRecorder) Record(_ context.Context, store, op string, event metrics.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{store, op, event})
}

func (r *fakeRecorder) count(event metrics.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.event == event {
			n++
		}
	}
	return n
}

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestDriver(opts Options) (*Driver, *fakeBackend, *fakeRecorder) {
	backend := newFakeBackend()
	rec := &fakeRecorder{}
	opts.Logger = logging.NewNopLogger()
	opts.Metrics = rec
	opts.Clock = func() time.Time { return epoch }
	return New("fake", backend, opts), backend, rec
}

func TestDriver_Defaults(t *testing.T) {
	d := New("fake", newFakeBackend(), Options{})
	assert.Equal(t, "fake", d.Name())
	assert.Equal(t, "fake", d.DriverType())
	assert.Zero(t, d.DefaultTTL())
	assert.NotNil(t, d.Logger())
}

func TestDriver_PrepareKey(t *testing.T) {
	plain, _, _ := newTestDriver(Options{})
	k, err := plain.PrepareKey("user_1")
	require.NoError(t, err)
	assert.Equal(t, "user_1", k)

	prefixed, _, _ := newTestDriver(Options{Prefix: "app"})
	k, err = prefixed.PrepareKey("user_1")
	require.NoError(t, err)
	assert.Equal(t, "app:user_1", k)

	_, err = prefixed.PrepareKey("../etc")
	assert.True(t, errors.IsInvalidKey(err))
}

func TestDriver_ExpiresAt(t *testing.T) {
	noDefault, _, _ := newTestDriver(Options{})
	withDefault, _, _ := newTestDriver(Options{TTL: time.Minute})

	assert.True(t, noDefault.ExpiresAt().IsZero())
	assert.Equal(t, epoch.Add(time.Minute), withDefault.ExpiresAt())
	assert.Equal(t, epoch.Add(5*time.Second), withDefault.ExpiresAt(5*time.Second))
	assert.True(t, withDefault.ExpiresAt(0).IsZero(), "explicit zero ttl disables the default")
	assert.True(t, withDefault.ExpiresAt(-time.Second).IsZero())
}

func TestDriver_GetSet(t *testing.T) {
	ctx := context.Background()
	d, backend, rec := newTestDriver(Options{Prefix: "p"})

	v, err := d.Get(ctx, "missing", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", v)

	ok, err := d.Set(ctx, "k", map[string]any{"n": 1})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, backend.entries, "p:k")

	v, err = d.Get(ctx, "k", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": int64(1)}, v)

	assert.Equal(t, 1, rec.count(metrics.Miss))
	assert.Equal(t, 1, rec.count(metrics.Hit))
	assert.Equal(t, 1, rec.count(metrics.Write))
}

func TestDriver_InvalidKeyIsTheOnlyError(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDriver(Options{})

	_, err := d.Get(ctx, "", nil)
	assert.True(t, errors.IsInvalidKey(err))
	_, err = d.Set(ctx, "a/b", 1)
	assert.True(t, errors.IsInvalidKey(err))
	_, err = d.Delete(ctx, "..")
	assert.True(t, errors.IsInvalidKey(err))
	_, err = d.Has(ctx, "with space")
	assert.True(t, errors.IsInvalidKey(err))
	_, _, err = d.Increment(ctx, "a\\b", 1)
	assert.True(t, errors.IsInvalidKey(err))
}

func TestDriver_BackendFailuresDegrade(t *testing.T) {
	ctx := context.Background()
	d, backend, rec := newTestDriver(Options{})
	backend.fail = stderrors.New("connection refused")

	v, err := d.Get(ctx, "k", "def")
	require.NoError(t, err)
	assert.Equal(t, "def", v)

	ok, err := d.Set(ctx, "k", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	removed, err := d.Delete(ctx, "k")
	require.NoError(t, err)
	assert.False(t, removed)

	has, err := d.Has(ctx, "k")
	require.NoError(t, err)
	assert.False(t, has)

	assert.False(t, d.Clear(ctx))
	assert.Equal(t, 5, rec.count(metrics.Error))
}

func TestDriver_BackendFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	backend := newFakeBackend()
	backend.fail = stderrors.New("connection refused")
	d := New("fake", backend, Options{
		Name:   "sessions",
		Logger: logging.NewZapLogger(logging.Options{Level: logging.WarnLevel, Format: logging.FormatJSON, Output: &buf}),
	})

	_, err := d.Get(context.Background(), "k", nil)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Cache operation failed", entry["msg"])
	assert.Equal(t, "fake", entry["driver"])
	assert.Equal(t, "sessions", entry["store"])
	assert.Equal(t, "k", entry["key"])
	assert.Equal(t, "connection refused", entry["error"])
}

func TestDriver_UnserializableValue(t *testing.T) {
	d, backend, rec := newTestDriver(Options{})

	ok, err := d.Set(context.Background(), "k", make(chan int))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, backend.entries)
	assert.Equal(t, 1, rec.count(metrics.Error))
}

func TestDriver_CorruptPayloadIsRemoved(t *testing.T) {
	ctx := context.Background()
	d, backend, _ := newTestDriver(Options{})
	backend.entries["k"] = stored{payload: []byte("{not json")}

	v, err := d.Get(ctx, "k", "def")
	require.NoError(t, err)
	assert.Equal(t, "def", v)
	assert.NotContains(t, backend.entries, "k")
}

func TestDriver_SetUsesResolvedExpiry(t *testing.T) {
	ctx := context.Background()
	d, backend, _ := newTestDriver(Options{TTL: time.Hour})

	_, _ = d.Set(ctx, "default", 1)
	_, _ = d.Set(ctx, "explicit", 1, time.Minute)
	_, _ = d.Forever(ctx, "forever", 1)

	assert.Equal(t, epoch.Add(time.Hour), backend.entries["default"].expiresAt)
	assert.Equal(t, epoch.Add(time.Minute), backend.entries["explicit"].expiresAt)
	assert.True(t, backend.entries["forever"].expiresAt.IsZero())
}

func TestDriver_MultipleOperations(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDriver(Options{})

	ok, err := d.SetMultiple(ctx, map[string]any{"a": 1, "b": "two"})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := d.GetMultiple(ctx, []string{"a", "b", "c"}, "none")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": int64(1), "b": "two", "c": "none"}, got)

	n, err := d.DeleteMultiple(ctx, []string{"a", "c"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	has, _ := d.Has(ctx, "a")
	assert.False(t, has)
	has, _ = d.Has(ctx, "b")
	assert.True(t, has)
}

func TestDriver_SetMultipleAttemptsEveryPair(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDriver(Options{})

	ok, err := d.SetMultiple(ctx, map[string]any{
		"a":   1,
		"bad": make(chan int),
		"z":   3,
	})
	require.NoError(t, err)
	assert.False(t, ok)

	for _, k := range []string{"a", "z"} {
		has, _ := d.Has(ctx, k)
		assert.True(t, has, k)
	}
}

func TestDriver_SetMultipleInvalidKey(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDriver(Options{})

	ok, err := d.SetMultiple(ctx, map[string]any{"a": 1, "b/c": 2})
	assert.False(t, ok)
	assert.True(t, errors.IsInvalidKey(err))

	has, _ := d.Has(ctx, "a")
	assert.True(t, has)
}

func TestDriver_Pull(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDriver(Options{})
	_, _ = d.Set(ctx, "once", "value")

	v, err := d.Pull(ctx, "once", nil)
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	v, err = d.Pull(ctx, "once", "gone")
	require.NoError(t, err)
	assert.Equal(t, "gone", v)
}

func TestDriver_IncrementDecrement(t *testing.T) {
	ctx := context.Background()
	d, backend, _ := newTestDriver(Options{TTL: time.Hour})

	n, ok, err := d.Increment(ctx, "counter", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), n)

	_, _ = d.Set(ctx, "counter", 10, time.Minute)
	n, ok, _ = d.Increment(ctx, "counter", 5)
	assert.True(t, ok)
	assert.Equal(t, int64(15), n)
	assert.Equal(t, epoch.Add(time.Hour), backend.entries["counter"].expiresAt, "write-back uses the default ttl")

	n, ok, _ = d.Decrement(ctx, "counter", 20)
	assert.True(t, ok)
	assert.Equal(t, int64(-5), n)

	_, _ = d.Set(ctx, "numeric_string", "41")
	n, ok, _ = d.Increment(ctx, "numeric_string", 1)
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)

	_, _ = d.Set(ctx, "word", "abc")
	n, ok, err = d.Increment(ctx, "word", 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, n)
	v, _ := d.Get(ctx, "word", nil)
	assert.Equal(t, "abc", v)
}

func TestDriver_IncrementFractional(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDriver(Options{})

	_, _ = d.Set(ctx, "ratio", 1.5)
	n, ok, err := d.Increment(ctx, "ratio", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2.5, n)

	_, _ = d.Set(ctx, "ratio_string", "0.25")
	n, ok, _ = d.Decrement(ctx, "ratio_string", 1)
	assert.True(t, ok)
	assert.Equal(t, -0.75, n)
}

func TestDriver_IncrementOverflow(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDriver(Options{})

	tests := []struct {
		name   string
		start  int64
		op     func(context.Context, string, int64) (any, bool, error)
		delta  int64
		want   any
		wantOK bool
	}{
		{name: "max plus one", start: math.MaxInt64, op: d.Increment, delta: 1},
		{name: "min minus one", start: math.MinInt64, op: d.Decrement, delta: 1},
		{name: "min plus negative", start: math.MinInt64, op: d.Increment, delta: -1},
		{name: "zero minus min", start: 0, op: d.Decrement, delta: math.MinInt64},
		{name: "max minus one", start: math.MaxInt64, op: d.Decrement, delta: 1, want: int64(math.MaxInt64 - 1), wantOK: true},
		{name: "min minus negative", start: math.MinInt64, op: d.Decrement, delta: -1, want: int64(math.MinInt64 + 1), wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _ = d.Set(ctx, "counter", tt.start)

			n, ok, err := tt.op(ctx, "counter", tt.delta)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, n)

			if !tt.wantOK {
				v, _ := d.Get(ctx, "counter", nil)
				assert.Equal(t, tt.start, v, "entry is left untouched")
			}
		})
	}
}

func TestDriver_Add(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDriver(Options{})

	ok, err := d.Add(ctx, "k", "first")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Add(ctx, "k", "second")
	require.NoError(t, err)
	assert.False(t, ok)

	v, _ := d.Get(ctx, "k", nil)
	assert.Equal(t, "first", v)
}

func TestDriver_Remember(t *testing.T) {
	ctx := context.Background()
	d, backend, _ := newTestDriver(Options{})

	calls := 0
	load := func(context.Context) (any, error) {
		calls++
		return "computed", nil
	}

	v, err := d.Remember(ctx, "k", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, "computed", v)
	assert.Equal(t, epoch.Add(time.Minute), backend.entries["k"].expiresAt)

	v, err = d.Remember(ctx, "k", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, "computed", v)
	assert.Equal(t, 1, calls)

	_, err = d.RememberForever(ctx, "f", load)
	require.NoError(t, err)
	assert.True(t, backend.entries["f"].expiresAt.IsZero())
}

func TestDriver_RememberError(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDriver(Options{})
	boom := stderrors.New("loader failed")

	_, err := d.Remember(ctx, "k", 0, func(context.Context) (any, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	has, _ := d.Has(ctx, "k")
	assert.False(t, has)

	_, err = d.Remember(ctx, "bad key", 0, func(context.Context) (any, error) { return 1, nil })
	assert.True(t, errors.IsInvalidKey(err))
}

func TestDriver_RememberCollapsesConcurrentLoads(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDriver(Options{})

	var calls int32
	release := make(chan struct{})
	load := func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "v", nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]any, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = d.Remember(ctx, "shared", 0, load)
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(n))
	for _, r := range results {
		assert.Equal(t, "v", r)
	}
}

func TestDriver_Close(t *testing.T) {
	d, backend, _ := newTestDriver(Options{})
	require.NoError(t, d.Close())
	assert.True(t, backend.closed)
}

func TestToInt64(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want int64
		ok   bool
	}{
		{name: "int64", in: int64(7), want: 7, ok: true},
		{name: "int", in: -3, want: -3, ok: true},
		{name: "uint8", in: uint8(200), want: 200, ok: true},
		{name: "integral float", in: 10.0, want: 10, ok: true},
		{name: "fractional float is left to ToFloat64", in: 1.5},
		{name: "NaN", in: 0.0 / zero()},
		{name: "numeric string", in: " 12 ", want: 12, ok: true},
		{name: "float string", in: "3.0", want: 3, ok: true},
		{name: "word", in: "abc"},
		{name: "bool", in: true},
		{name: "nil", in: nil},
		{name: "huge uint64", in: uint64(1 << 63)},
		{name: "slice", in: []any{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToInt64(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToFloat64(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want float64
		ok   bool
	}{
		{name: "fractional float", in: 1.5, want: 1.5, ok: true},
		{name: "float32", in: float32(0.25), want: 0.25, ok: true},
		{name: "int64", in: int64(-4), want: -4, ok: true},
		{name: "huge uint64", in: uint64(1 << 63), want: float64(1 << 63), ok: true},
		{name: "json number", in: json.Number("2.75"), want: 2.75, ok: true},
		{name: "float string", in: " 0.5 ", want: 0.5, ok: true},
		{name: "NaN", in: 0.0 / zero()},
		{name: "infinity string", in: "+Inf"},
		{name: "word", in: "abc"},
		{name: "bool", in: false},
		{name: "nil", in: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToFloat64(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func zero() float64 { return 0 }

func TestOptions_Validate(t *testing.T) {
	assert.NoError(t, (&Options{Prefix: "app.v2"}).Validate())
	assert.True(t, errors.IsType((&Options{Prefix: "bad prefix"}).Validate(), errors.ErrTypeConfig))
	assert.True(t, errors.IsType((&Options{TTL: -time.Second}).Validate(), errors.ErrTypeConfig))

	o := &Options{}
	assert.Same(t, o, o.Common())
	assert.False(t, o.Now().IsZero())
}
