package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZapLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZapLogger(Options{Level: WarnLevel, Output: &buf})

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message", errors.New("test error"))

	output := buf.String()
	assert.NotContains(t, output, "debug message")
	assert.NotContains(t, output, "info message")
	assert.Contains(t, output, "warn message")
	assert.Contains(t, output, "error message")
	assert.Contains(t, output, "test error")
}

func TestZapLogger_SetLevelReachesChildren(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZapLogger(Options{Level: ErrorLevel, Output: &buf})
	child := logger.WithFields(Store("disk"))

	child.Info("hidden")
	logger.SetLevel(DebugLevel)
	child.Debug("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestZapLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZapLogger(Options{Level: DebugLevel, Format: FormatJSON, Output: &buf, Name: "cache"})

	logger.WithFields(Driver("redis"), Store("sessions")).Error("write failed",
		errors.New("connection refused"),
		Key("session:42"),
		Int("attempt", 2),
		Strings("tags", []string{"a", "b"}),
		Field{Key: "cause", Value: errors.New("dial tcp")},
	)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "cache", entry["logger"])
	assert.Equal(t, "write failed", entry["msg"])
	assert.Equal(t, "redis", entry["driver"])
	assert.Equal(t, "sessions", entry["store"])
	assert.Equal(t, "session:42", entry["key"])
	assert.Equal(t, float64(2), entry["attempt"])
	assert.Equal(t, []any{"a", "b"}, entry["tags"])
	assert.Equal(t, "connection refused", entry["error"])
	assert.Equal(t, "dial tcp", entry["cause"])
}

func TestZapLogger_NilErrorOmitted(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZapLogger(Options{Level: DebugLevel, Format: FormatJSON, Output: &buf})

	logger.Error("no cause", nil)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "error")
}

func TestZapLogger_WithFieldsNoFields(t *testing.T) {
	logger := NewZapLogger(Options{Output: &bytes.Buffer{}})
	assert.Same(t, logger, logger.WithFields())
}

func TestNewNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Debug("ignored")
	logger.Error("ignored", errors.New("x"))
	assert.NotNil(t, logger.WithFields(Store("x")))
}

func TestZapLogger_Concurrency(t *testing.T) {
	buf := &lockedBuffer{}
	logger := NewZapLogger(Options{Level: InfoLevel, Output: buf})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				logger.WithFields(Int("worker", id)).Info("concurrent write")
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 100, strings.Count(buf.String(), "concurrent write"))
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}
