package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name: "basic error",
			appError: &AppError{
				Type:    ErrTypeConfig,
				Message: "configuration is invalid",
			},
			want: "config: configuration is invalid",
		},
		{
			name:     "driver error",
			appError: DriverError("file", "cache directory not writable", nil),
			want:     "driver: cache directory not writable: context={driver=file}",
		},
		{
			name: "error with cause",
			appError: &AppError{
				Type:    ErrTypeConnection,
				Message: "redis ping failed",
				Cause:   errors.New("network timeout"),
			},
			want: "connection: redis ping failed: cause=network timeout",
		},
		{
			name: "error with context",
			appError: &AppError{
				Type:    ErrTypeInvalidKey,
				Message: "key contains path traversal",
				Context: map[string]any{
					"key":    "../x",
					"driver": "file",
				},
			},
			want: "invalid_key: key contains path traversal: context={driver=file, key=../x}",
		},
		{
			name: "complete error",
			appError: &AppError{
				Type:    ErrTypeInternal,
				Message: "internal system error",
				Cause:   errors.New("panic recovered"),
				Context: map[string]any{
					"component": "tagged",
				},
			},
			want: "internal: internal system error: cause=panic recovered: context={component=tagged}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.appError.Error()
			if got != tt.want {
				t.Errorf("AppError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	appError := &AppError{
		Type:    ErrTypeInternal,
		Message: "wrapper error",
		Cause:   cause,
	}

	if appError.Unwrap() != cause {
		t.Errorf("AppError.Unwrap() = %v, want %v", appError.Unwrap(), cause)
	}

	appErrorNoCause := &AppError{
		Type:    ErrTypeConfig,
		Message: "no cause error",
	}

	if appErrorNoCause.Unwrap() != nil {
		t.Errorf("AppError.Unwrap() without cause = %v, want nil", appErrorNoCause.Unwrap())
	}
}

func TestAppError_WithContext(t *testing.T) {
	appError := &AppError{
		Type:    ErrTypeDriver,
		Message: "unavailable",
	}

	if appError.WithContext("driver", "redis") != appError {
		t.Error("WithContext should return the same instance")
	}
	if appError.Context["driver"] != "redis" {
		t.Errorf("Context[driver] = %v, want redis", appError.Context["driver"])
	}
}

func TestInvalidKeyError(t *testing.T) {
	err := InvalidKeyError("a/b", "key contains a path separator")

	if err.Type != ErrTypeInvalidKey {
		t.Errorf("Type = %v, want %v", err.Type, ErrTypeInvalidKey)
	}
	if err.Context["key"] != "a/b" {
		t.Errorf("Context[key] = %v, want a/b", err.Context["key"])
	}
	if !IsInvalidKey(err) {
		t.Error("IsInvalidKey should recognise InvalidKeyError")
	}
}

func TestSerializationError(t *testing.T) {
	cause := errors.New("json: unsupported type")
	err := SerializationError("cannot encode value", cause)

	if err.Type != ErrTypeSerialization {
		t.Errorf("Type = %v, want %v", err.Type, ErrTypeSerialization)
	}
	if !errors.Is(err, cause) {
		t.Error("SerializationError should wrap its cause")
	}
}

func TestDriverError(t *testing.T) {
	cause := errors.New("permission denied")
	err := DriverError("file", "cache directory is not writable", cause)

	if err.Type != ErrTypeDriver {
		t.Errorf("Type = %v, want %v", err.Type, ErrTypeDriver)
	}
	if err.Context["driver"] != "file" {
		t.Errorf("Context[driver] = %v, want file", err.Context["driver"])
	}
}

func TestNotFoundError(t *testing.T) {
	err := NotFoundError("cache store redis")

	if err.Type != ErrTypeNotFound {
		t.Errorf("Type = %v, want %v", err.Type, ErrTypeNotFound)
	}
	if err.Message != "cache store redis not found" {
		t.Errorf("Message = %v, want 'cache store redis not found'", err.Message)
	}
}

func TestIsType(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		errType ErrorType
		want    bool
	}{
		{
			name:    "matching type",
			err:     ConfigError("test"),
			errType: ErrTypeConfig,
			want:    true,
		},
		{
			name:    "non-matching type",
			err:     ConfigError("test"),
			errType: ErrTypeDriver,
			want:    false,
		},
		{
			name:    "wrapped app error",
			err:     fmt.Errorf("prepare: %w", InvalidKeyError("", "key is empty")),
			errType: ErrTypeInvalidKey,
			want:    true,
		},
		{
			name:    "non-app error",
			err:     errors.New("regular error"),
			errType: ErrTypeConfig,
			want:    false,
		},
		{
			name:    "nil error",
			err:     nil,
			errType: ErrTypeConfig,
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsType(tt.err, tt.errType); got != tt.want {
				t.Errorf("IsType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{name: "app error", err: DriverError("file", "x", nil), want: ErrTypeDriver},
		{name: "regular error", err: errors.New("regular error"), want: ErrTypeInternal},
		{name: "nil error", err: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetType(tt.err); got != tt.want {
				t.Errorf("GetType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorChaining(t *testing.T) {
	originalErr := errors.New("original error")
	wrappedErr := InternalError("wrapped error", originalErr)

	if !errors.Is(wrappedErr, originalErr) {
		t.Error("errors.Is should work with wrapped AppError")
	}

	var appErr *AppError
	if !errors.As(wrappedErr, &appErr) {
		t.Error("errors.As should work with AppError")
	}
	if appErr.Type != ErrTypeInternal {
		t.Errorf("Unwrapped AppError type = %v, want %v", appErr.Type, ErrTypeInternal)
	}
}
