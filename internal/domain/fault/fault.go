// Package fault defines the error taxonomy shared by the fulfillment domain.
//
// Domain packages wrap these sentinels (or return ValidationError) so callers
// can classify any failure with errors.Is / errors.As regardless of which
// component produced it.
package fault

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when an actor accesses another account's data.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict is returned when a concurrent write was detected. Retryable.
	ErrConflict = errors.New("concurrent modification")
	// ErrTransientProvider is returned when the payment provider outcome is
	// unknown (timeout, 5xx). Retryable.
	ErrTransientProvider = errors.New("payment provider unavailable")
)

// ValidationError reports malformed input rejected before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid returns a ValidationError for the given field.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Retryable reports whether the failed request may be safely retried by the
// caller without changing its input.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrTransientProvider)
}
