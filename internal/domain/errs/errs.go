package errs

import (
	"errors"
	"strings"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrAuth         = errors.New("authentication failed")
	ErrForbidden    = errors.New("forbidden")
)

// ValidationError names the offending field. errors.Is(err, ErrValidation) holds for it.
type ValidationError struct {
	Field  string
	Reason string
}

func Invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: strings.TrimSpace(field), Reason: strings.TrimSpace(reason)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Kind returns the sentinel err wraps, or nil when it is not a domain error.
func Kind(err error) error {
	for _, kind := range []error{ErrNotFound, ErrInvalidState, ErrValidation, ErrConflict, ErrAuth, ErrForbidden} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
