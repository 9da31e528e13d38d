package core

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for domain errors.
const (
	ErrCodeValidation = "validation_error"
	ErrCodeForbidden  = "forbidden"
	ErrCodeNotFound   = "not_found"
	ErrCodeStorage    = "storage_error"

	ErrCodeBadRequest         = "bad_request"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeUnsupportedVersion = "unsupported_version"
	ErrCodeRateLimited        = "rate_limited"
)

// Error kinds. Callers match them with errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrForbidden  = errors.New("forbidden")
	ErrNotFound   = errors.New("not found")
	ErrStorage    = errors.New("storage error")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// Validation builds a user-correctable error whose message is shown verbatim.
func Validation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// Storage marks err as a persistence failure of op.
func Storage(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// ToCoreError classifies err into the public taxonomy. Only validation errors keep
// their detail; everything else gets a generic message.
func ToCoreError(err error) *CoreError {
	var ce *CoreError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ce):
		return ce
	case errors.Is(err, ErrValidation):
		return coreError(ErrCodeValidation, validationMessage(err))
	case errors.Is(err, ErrForbidden):
		return coreError(ErrCodeForbidden, "permission denied")
	case errors.Is(err, ErrNotFound):
		return coreError(ErrCodeNotFound, "not found")
	default:
		return coreError(ErrCodeStorage, "internal server error")
	}
}

func validationMessage(err error) string {
	msg := err.Error()
	prefix := ErrValidation.Error() + ": "
	if i := strings.Index(msg, prefix); i >= 0 {
		return msg[i+len(prefix):]
	}
	return msg
}
