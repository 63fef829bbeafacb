// Package apperrors defines the error taxonomy shared by the store, services and handlers.
package apperrors

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrNotFound covers both missing entities and entities the caller may not see.
	ErrNotFound = errors.New("not found")
	// ErrForbidden means the entity is visible but the caller lacks the permission.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict means an invariant would be violated.
	ErrConflict = errors.New("conflict")
	// ErrTimeout means the outcome is unknown; callers must re-query before retrying.
	ErrTimeout = errors.New("timeout")
	// ErrUnavailable means a dependency could not be reached.
	ErrUnavailable = errors.New("unavailable")
	// ErrInvalid means the request itself is malformed.
	ErrInvalid = errors.New("invalid request")
	// ErrRateLimited means the caller exceeded a rate limit.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnauthorized means the credential could not be validated.
	ErrUnauthorized = errors.New("unauthorized")
)

// FromContext maps context errors onto the taxonomy and returns other errors unchanged.
func FromContext(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}
	return err
}

// Retryable reports whether a client may retry with the same idempotency key.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable)
}

// HTTPStatus maps an error to the status code returned by the command API.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code is the short machine-readable name of the error class.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalid):
		return "invalid"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "internal"
	}
}
