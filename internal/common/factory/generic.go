// Package factory adapts typed store constructors to the untyped Creator
// interface kept in the driver registry.
package factory

import (
	stderrors "errors"
	"fmt"

	"kvcache/internal/common/errors"
)

// Creator builds a T from an untyped configuration value and reports the
// driver type it serves.
type Creator[T any] interface {
	Create(config any) (T, error)
	GetType() string
}

// Factory builds T values from configurations of type C.
type Factory[C any, T any] struct {
	typeName string
	creator  func(C) (T, error)
}

var _ Creator[int] = (*Factory[string, int])(nil)

func NewFactory[C any, T any](typeName string, creator func(C) (T, error)) *Factory[C, T] {
	return &Factory[C, T]{
		typeName: typeName,
		creator:  creator,
	}
}

// Create checks that config is a C and passes it to the constructor.
//
// Errors that are not already an *errors.AppError come back as a driver
// error naming the factory type. A panicking constructor is reported as an
// internal error rather than taking the caller down.
func (f *Factory[C, T]) Create(config any) (result T, err error) {
	var zero T

	if config == nil {
		return zero, errors.ConfigError(fmt.Sprintf("%s driver requires a config", f.typeName))
	}
	typed, ok := config.(C)
	if !ok {
		return zero, errors.ConfigError(fmt.Sprintf("invalid config type for %s driver, expected %T but got %T", f.typeName, typed, config))
	}

	defer func() {
		if r := recover(); r != nil {
			result = zero
			err = errors.InternalError(fmt.Sprintf("%s driver panicked during creation", f.typeName), fmt.Errorf("%v", r))
		}
	}()

	result, err = f.creator(typed)
	if err != nil {
		var appErr *errors.AppError
		if !stderrors.As(err, &appErr) {
			err = errors.DriverError(f.typeName, "failed to create store", err)
		}
		return zero, err
	}
	return result, nil
}

// GetType returns the driver type this factory registers under.
func (f *Factory[C, T]) GetType() string {
	return f.typeName
}
