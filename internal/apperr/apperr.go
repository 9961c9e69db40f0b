// Package apperr defines the error categories shared across the service.
//
// NotFound and Validation surface to the API layer as client errors.
// RaceLost is returned by nothing: losing the triggered compare-and-set is a
// success-no-op, the sentinel exists so callers and tests can name the case.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("invalid input")
	ErrRaceLost   = errors.New("trigger race lost")
)

// Validationf wraps ErrValidation with a caller-facing reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
