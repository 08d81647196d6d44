// Package compress provides the payload codecs the file and valkey drivers
// can store entries with.
package compress

import (
	"fmt"
	"strings"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"

	"kvcache/internal/common/errors"
)

// Codec names accepted by ByName.
const (
	NameNone = "none"
	NameS2   = "s2"
	NameZstd = "zstd"
)

// Compressor compresses and decompresses payloads.
type Compressor interface {
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
	// Extension is appended to file names written with this codec.
	Extension() string
	Name() string
}

type none struct{}

// None returns the pass-through codec.
func None() Compressor { return none{} }

func (none) Encode(data []byte) ([]byte, error) { return data, nil }
func (none) Decode(data []byte) ([]byte, error) { return data, nil }
func (none) Extension() string                  { return "" }
func (none) Name() string                       { return NameNone }

type s2c struct{}

// S2 returns the fast S2 codec.
func S2() Compressor { return s2c{} }

func (s2c) Encode(data []byte) ([]byte, error) { return s2.Encode(nil, data), nil }
func (s2c) Decode(data []byte) ([]byte, error) { return s2.Decode(nil, data) }
func (s2c) Extension() string                  { return ".s2" }
func (s2c) Name() string                       { return NameS2 }

type zstdc struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Zstd returns a Zstandard codec at the default speed.
func Zstd() (Compressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &zstdc{enc: enc, dec: dec}, nil
}

func (z *zstdc) Encode(data []byte) ([]byte, error) { return z.enc.EncodeAll(data, nil), nil }
func (z *zstdc) Decode(data []byte) ([]byte, error) { return z.dec.DecodeAll(data, nil) }
func (*zstdc) Extension() string                    { return ".zst" }
func (*zstdc) Name() string                         { return NameZstd }

// ByName returns the codec for name. The empty name means none.
func ByName(name string) (Compressor, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameNone:
		return None(), nil
	case NameS2:
		return S2(), nil
	case NameZstd:
		return Zstd()
	default:
		return nil, errors.ConfigError(fmt.Sprintf("unknown compression %q, expected none, s2 or zstd", name))
	}
}

// Valid reports whether ByName accepts name.
func Valid(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameNone, NameS2, NameZstd:
		return true
	}
	return false
}
