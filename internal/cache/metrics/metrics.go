// Package metrics counts cache hits, misses, writes, deletes and swallowed
// backend errors through the OpenTelemetry metric API.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Event is one countable cache outcome.
type Event int

const (
	Hit Event = iota
	Miss
	Write
	Delete
	Error
)

func (e Event) String() string {
	switch e {
	case Hit:
		return "hit"
	case Miss:
		return "miss"
	case Write:
		return "write"
	case Delete:
		return "delete"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Recorder receives cache events.
//
// Implementations must be safe for concurrent use and must not panic.
type Recorder interface {
	Record(ctx context.Context, store, op string, event Event)
}

// Meter instrument names.
const (
	HitsName    = "kvcache.hits"
	MissesName  = "kvcache.misses"
	WritesName  = "kvcache.writes"
	DeletesName = "kvcache.deletes"
	ErrorsName  = "kvcache.errors"
)

type otelRecorder struct {
	counters map[Event]metric.Int64Counter
}

// New creates a Recorder backed by counters on meter.
func New(meter metric.Meter) (Recorder, error) {
	specs := []struct {
		event Event
		name  string
		desc  string
		unit  string
	}{
		{Hit, HitsName, "Cache reads that found a live entry", "{hit}"},
		{Miss, MissesName, "Cache reads that found nothing", "{miss}"},
		{Write, WritesName, "Successful cache writes", "{write}"},
		{Delete, DeletesName, "Cache entries removed by a delete", "{delete}"},
		{Error, ErrorsName, "Backend or serialization failures degraded to a miss", "{error}"},
	}

	r := &otelRecorder{counters: make(map[Event]metric.Int64Counter, len(specs))}
	for _, s := range specs {
		c, err := meter.Int64Counter(s.name,
			metric.WithDescription(s.desc),
			metric.WithUnit(s.unit),
		)
		if err != nil {
			return nil, err
		}
		r.counters[s.event] = c
	}

	return r, nil
}

func (r *otelRecorder) Record(ctx context.Context, store, op string, event Event) {
	c, ok := r.counters[event]
	if !ok {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.store", store),
		attribute.String("cache.op", op),
	))
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, string, string, Event) {}

// Nop returns a Recorder that drops every event.
func Nop() Recorder {
	return nopRecorder{}
}
