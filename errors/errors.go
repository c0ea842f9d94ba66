package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation         = fmt.Errorf("invalid request")
	ErrReceiverNotFound   = fmt.Errorf("receiver not found")
	ErrUserNotFound       = fmt.Errorf("user not found")
	ErrUnauthorized       = fmt.Errorf("unauthorized")
	ErrPersistence        = fmt.Errorf("persistence failure")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrUserAlreadyExists  = fmt.Errorf("user already exists")
	ErrInvalidPassword    = fmt.Errorf("password does not meet complexity rules")
	ErrTokenGeneration    = fmt.Errorf("token generation failed")
	ErrWorkerPanic        = fmt.Errorf("worker panic")
	ErrSessionClosed      = fmt.Errorf("session closed")
)

// MapToHTTPStatus translates the domain error taxonomy to an HTTP status.
// Persistence failures stay a generic 500: callers never see storage details.
func MapToHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidPassword):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrReceiverNotFound), errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUserAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
