package base

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Ops is the part of cache.Store the composite operations are built from.
// Wrappers such as the tagged cache reuse the helpers below with their own
// key mapping.
type Ops interface {
	Get(ctx context.Context, key string, def any) (any, error)
	Set(ctx context.Context, key string, value any, ttl ...time.Duration) (bool, error)
	Delete(ctx context.Context, key string) (bool, error)
}

// GetMultiple calls Get for every key. An invalid key aborts the whole call.
func GetMultiple(ctx context.Context, s Ops, keys []string, def any) (map[string]any, error) {
	out := make(map[string]any, len(keys))
	for _, key := range keys {
		v, err := s.Get(ctx, key, def)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

// SetMultiple calls Set for every pair without stopping at the first
// failure. The first invalid key error, if any, is returned after all pairs
// were attempted.
func SetMultiple(ctx context.Context, s Ops, values map[string]any, ttl ...time.Duration) (bool, error) {
	ok := true
	var firstErr error
	for _, key := range sortedKeys(values) {
		stored, err := s.Set(ctx, key, values[key], ttl...)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		ok = ok && stored
	}
	return ok, firstErr
}

// DeleteMultiple deletes every key and counts the ones that existed.
func DeleteMultiple(ctx context.Context, s Ops, keys []string) (int, error) {
	n := 0
	var firstErr error
	for _, key := range keys {
		removed, err := s.Delete(ctx, key)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if removed {
			n++
		}
	}
	return n, firstErr
}

// Pull gets key and then deletes it whether or not it was found.
func Pull(ctx context.Context, s Ops, key string, def any) (any, error) {
	v, err := s.Get(ctx, key, def)
	if err != nil {
		return def, err
	}
	if _, err := s.Delete(ctx, key); err != nil {
		return def, err
	}
	return v, nil
}

// Increment reads key (missing counts as 0), adds delta and writes the sum
// back with the store's default TTL. Integral values are added as int64 and
// the result is an int64; fractional values are added as float64. Non-numeric
// values and int64 overflow report false and leave the entry untouched.
func Increment(ctx context.Context, s Ops, key string, delta int64) (any, bool, error) {
	return adjust(ctx, s, key, delta, false)
}

// Decrement is Increment subtracting delta.
func Decrement(ctx context.Context, s Ops, key string, delta int64) (any, bool, error) {
	return adjust(ctx, s, key, delta, true)
}

func adjust(ctx context.Context, s Ops, key string, delta int64, subtract bool) (any, bool, error) {
	current, err := s.Get(ctx, key, int64(0))
	if err != nil {
		return nil, false, err
	}

	var next any
	if n, ok := ToInt64(current); ok {
		var sum int64
		if subtract {
			sum, ok = subInt64(n, delta)
		} else {
			sum, ok = addInt64(n, delta)
		}
		if !ok {
			return nil, false, nil
		}
		next = sum
	} else if f, ok := ToFloat64(current); ok {
		if subtract {
			next = f - float64(delta)
		} else {
			next = f + float64(delta)
		}
	} else {
		return nil, false, nil
	}

	stored, err := s.Set(ctx, key, next)
	if err != nil || !stored {
		return nil, false, err
	}
	return next, true, nil
}

func addInt64(a, b int64) (int64, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}

func subInt64(a, b int64) (int64, bool) {
	if (b < 0 && a > math.MaxInt64+b) || (b > 0 && a < math.MinInt64+b) {
		return 0, false
	}
	return a - b, true
}

type missing struct{}

var miss = &missing{}

// Remember returns the value stored under key or stores and returns fn's result.
func Remember(ctx context.Context, s Ops, key string, ttl time.Duration, fn func(context.Context) (any, error)) (any, error) {
	v, err := s.Get(ctx, key, miss)
	if err != nil {
		return nil, err
	}
	if v != miss {
		return v, nil
	}

	v, err = fn(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.Set(ctx, key, v, ttl); err != nil {
		return nil, err
	}
	return v, nil
}

// ToInt64 converts a stored value to an integer counter. Integral floats and
// strings holding an integer are accepted; everything else is not numeric.
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		return floatToInt64(n)
	case float32:
		return floatToInt64(float64(n))
	case json.Number:
		return ToInt64(string(n))
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return floatToInt64(f)
		}
		return 0, false
	default:
		return 0, false
	}
}

// ToFloat64 converts any numeric stored value, including numeric strings, to
// a float64. NaN and infinities are not numeric.
func ToFloat64(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case json.Number:
		return ToFloat64(string(n))
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case uint:
		f = float64(n)
	case uint64:
		f = float64(n)
	default:
		i, ok := ToInt64(v)
		if !ok {
			return 0, false
		}
		f = float64(i)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func floatToInt64(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}
