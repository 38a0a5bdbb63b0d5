package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrBadRequest is returned when a query is missing its required scope.
	ErrBadRequest = errors.New("bad request")
	// ErrParse covers malformed ingest input.
	ErrParse = errors.New("parse error")
	// ErrMissingField is a ParseError raised for absent required fields.
	ErrMissingField = fmt.Errorf("%w: missing field", ErrParse)
	// ErrUnsupportedType is a ParseError raised when a field has an unusable JSON type.
	ErrUnsupportedType = fmt.Errorf("%w: unsupported type", ErrParse)
	// ErrConstraintViolation is returned when the store rejects a write on a
	// uniqueness or primary-key constraint.
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrStorage wraps any other failure of the underlying store.
	ErrStorage = errors.New("storage error")
)

// RequestError carries the caller-facing message of a bad request.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string { return e.Message }

// Is reports RequestError as ErrBadRequest.
func (e *RequestError) Is(target error) bool { return target == ErrBadRequest }

func badRequest(message string) error {
	return &RequestError{Message: message}
}

func storageError(op string, err error) error {
	if errors.Is(err, ErrStorage) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// ErrorKind names the taxonomy bucket of err, for metrics and response bodies.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrUnsupportedType):
		return "unsupported_type"
	case errors.Is(err, ErrParse):
		return "parse_error"
	case errors.Is(err, ErrConstraintViolation):
		return "constraint_violation"
	case errors.Is(err, ErrStorage):
		return "storage_error"
	default:
		return "error"
	}
}
