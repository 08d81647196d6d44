package metrics

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestRecorder(t *testing.T) (Recorder, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	r, err := New(mp.Meter("kvcache-test"))
	require.NoError(t, err)
	return r, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func total(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	found := findMetric(rm, name)
	if found == nil {
		return 0
	}
	sum, ok := found.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected Sum[int64], got %T", found.Data)

	var n int64
	for _, dp := range sum.DataPoints {
		n += dp.Value
	}
	return n
}

func TestRecorder_CountsEachEvent(t *testing.T) {
	r, reader := newTestRecorder(t)
	ctx := context.Background()

	r.Record(ctx, "array", "get", Hit)
	r.Record(ctx, "array", "get", Hit)
	r.Record(ctx, "array", "get", Miss)
	r.Record(ctx, "file", "set", Write)
	r.Record(ctx, "file", "delete", Delete)
	r.Record(ctx, "redis", "get", Error)

	rm := collect(t, reader)
	assert.Equal(t, int64(2), total(t, rm, HitsName))
	assert.Equal(t, int64(1), total(t, rm, MissesName))
	assert.Equal(t, int64(1), total(t, rm, WritesName))
	assert.Equal(t, int64(1), total(t, rm, DeletesName))
	assert.Equal(t, int64(1), total(t, rm, ErrorsName))
}

func TestRecorder_Attributes(t *testing.T) {
	r, reader := newTestRecorder(t)
	r.Record(context.Background(), "file", "get", Miss)

	found := findMetric(collect(t, reader), MissesName)
	require.NotNil(t, found)
	sum := found.Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)

	store, ok := sum.DataPoints[0].Attributes.Value(attribute.Key("cache.store"))
	require.True(t, ok)
	assert.Equal(t, "file", store.AsString())

	op, ok := sum.DataPoints[0].Attributes.Value(attribute.Key("cache.op"))
	require.True(t, ok)
	assert.Equal(t, "get", op.AsString())
}

func TestRecorder_UnknownEventIgnored(t *testing.T) {
	r, reader := newTestRecorder(t)
	assert.NotPanics(t, func() {
		r.Record(context.Background(), "array", "get", Event(99))
	})
	assert.Zero(t, total(t, collect(t, reader), HitsName))
}

func TestRecorder_Concurrent(t *testing.T) {
	r, reader := newTestRecorder(t)
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Record(context.Background(), "array", "get", Hit)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(n), total(t, collect(t, reader), HitsName))
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().Record(context.Background(), "array", "get", Hit)
	})
}

func TestEvent_String(t *testing.T) {
	assert.Equal(t, "hit", Hit.String())
	assert.Equal(t, "error", Error.String())
	assert.Equal(t, "unknown", Event(42).String())
}
