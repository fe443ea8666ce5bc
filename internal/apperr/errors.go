// Package apperr defines the error taxonomy shared by all components.
//
// Validation and permission failures are rejected synchronously and
// never retried; transient store failures are retried with backoff
// before they surface; not-found means a stale reference and callers
// typically drop it silently.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrPermission = errors.New("permission denied")
	ErrNotFound   = errors.New("not found")
	ErrTransient  = errors.New("transient store error")
)

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

func Permissionf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrPermission}, args...)...)
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}

// Transient wraps err so the retry layer can distinguish it from
// permanent failures.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Retryable reports whether err should be retried with backoff.
// Validation, permission and not-found errors are permanent.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrPermission) || errors.Is(err, ErrNotFound) {
		return false
	}
	return true
}
