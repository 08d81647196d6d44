// Package serializer converts cache values to and from their stored text form.
//
// Values are encoded as JSON. Decoding never reconstructs Go types: objects
// come back as map[string]any, arrays as []any, integral numbers as int64 and
// other numbers as float64. Structs are therefore flattened to mappings.
package serializer

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"

	"kvcache/internal/common/errors"
)

// Serialize encodes value. Channels, functions, complex numbers, NaN/Inf and
// cyclic structures are rejected with a serialization AppError.
func Serialize(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, errors.SerializationError("value cannot be serialized", err).
			WithContext("type", fmt.Sprintf("%T", value))
	}
	return data, nil
}

// Deserialize decodes data produced by Serialize. Malformed or trailing input
// fails as a whole.
func Deserialize(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, errors.SerializationError("payload cannot be deserialized", err)
	}
	if _, err := dec.Token(); !stderrors.Is(err, io.EOF) {
		return nil, errors.SerializationError("payload has trailing data", err)
	}

	return normalize(value), nil
}

// CanSerialize reports whether Serialize would accept value.
func CanSerialize(value any) bool {
	_, err := json.Marshal(value)
	return err == nil
}

func normalize(value any) any {
	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		f, _ := v.Float64()
		return f
	case map[string]any:
		for k, item := range v {
			v[k] = normalize(item)
		}
		return v
	case []any:
		for i, item := range v {
			v[i] = normalize(item)
		}
		return v
	default:
		return v
	}
}
