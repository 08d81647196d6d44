// Package keys validates and sanitizes cache keys.
//
// A valid key is 1 to 250 characters drawn from [A-Za-z0-9_.-] and never
// contains "..", "/" or "\". The same rules keep the file driver inside its
// root directory, so they are enforced for every driver.
package keys

import (
	"fmt"
	"strings"

	"kvcache/internal/common/errors"
)

// MaxLength is the longest key accepted, in bytes.
const MaxLength = 250

// Validate returns an invalid_key AppError describing the first rule key breaks.
func Validate(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.InvalidKeyError(key, "cache key cannot be empty")
	}

	if len(key) > MaxLength {
		return errors.InvalidKeyError(key, fmt.Sprintf("cache key exceeds %d characters", MaxLength)).
			WithContext("length", len(key))
	}

	for i := 0; i < len(key); i++ {
		if !allowed(key[i]) {
			return errors.InvalidKeyError(key, "cache key contains invalid characters").
				WithContext("position", i)
		}
	}

	// The character set already excludes separators; this guards the
	// traversal rule independently of it.
	if strings.Contains(key, "..") || strings.ContainsAny(key, `/\`) {
		return errors.InvalidKeyError(key, "cache key contains path traversal sequence")
	}

	return nil
}

// IsValid reports whether Validate accepts key.
func IsValid(key string) bool {
	return Validate(key) == nil
}

// Sanitize trims key, replaces every disallowed character with '_' and
// truncates the result to MaxLength. Sanitize(Sanitize(s)) == Sanitize(s).
// The result is not guaranteed to be valid: it may be empty or contain "..".
func Sanitize(key string) string {
	key = strings.TrimSpace(key)

	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		if r < 0x80 && allowed(byte(r)) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}

	s := b.String()
	if len(s) > MaxLength {
		s = s[:MaxLength]
	}
	return s
}

func allowed(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_', c == '.', c == '-':
		return true
	}
	return false
}
