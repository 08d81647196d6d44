package logging

import (
	"fmt"
	"os"
	"sync"
)

var (
	globalMu     sync.RWMutex
	globalLogger Logger
)

// GetGlobalLogger returns the process wide logger. Until InitGlobalLogger or
// SetGlobalLogger runs it is a console logger at the LOG_LEVEL level.
func GetGlobalLogger() Logger {
	globalMu.RLock()
	logger := globalLogger
	globalMu.RUnlock()
	if logger != nil {
		return logger
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = NewDefaultLogger()
	}
	return globalLogger
}

// SetGlobalLogger replaces the process wide logger.
func SetGlobalLogger(logger Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// NewDefaultLogger returns a console logger writing to stderr. An invalid
// LOG_LEVEL falls back to info.
func NewDefaultLogger() Logger {
	level, _ := ParseLevel(os.Getenv("LOG_LEVEL"))
	return NewZapLogger(Options{Level: level})
}

// InitGlobalLogger builds the global logger from the environment:
//   - LOG_LEVEL: debug, info, warn or error (default info)
//   - LOG_FORMAT: console or json (default console)
//   - LOG_FILE: append to this file instead of stderr
func InitGlobalLogger() error {
	level, err := ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return err
	}
	opts := Options{Level: level, Format: os.Getenv("LOG_FORMAT")}
	if err := opts.validate(); err != nil {
		return err
	}

	logFile := os.Getenv("LOG_FILE")
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", logFile, err)
		}
		opts.Output = f
	}

	logger := NewZapLogger(opts)
	SetGlobalLogger(logger)
	logger.Debug("Logger initialized", String("level", level.String()), String("log_file", logFile))
	return nil
}

// MustSync flushes buffered entries of the global logger. Call it before exit.
func MustSync() {
	if z, ok := GetGlobalLogger().(*ZapLogger); ok {
		_ = z.Sync()
	}
}

func Debug(msg string, fields ...Field) {
	GetGlobalLogger().Debug(msg, fields...)
}

func Info(msg string, fields ...Field) {
	GetGlobalLogger().Info(msg, fields...)
}

func Warn(msg string, fields ...Field) {
	GetGlobalLogger().Warn(msg, fields...)
}

func Error(msg string, err error, fields ...Field) {
	GetGlobalLogger().Error(msg, err, fields...)
}

// WithFields derives a logger from the global one.
func WithFields(fields ...Field) Logger {
	return GetGlobalLogger().WithFields(fields...)
}
