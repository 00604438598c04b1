package domain

import (
	"context"
	"errors"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrAccessDenied         = errors.New("access denied")
	ErrInvalidState         = errors.New("invalid state")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrTransientFailure     = errors.New("transient failure")
	ErrBadRequest           = errors.New("bad request")
)

// Wire error codes shared by REST and websocket acknowledgements.
const (
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeAccessDenied  = "ACCESS_DENIED"
	ErrCodeInvalidState  = "INVALID_STATE"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeTransient     = "TRANSIENT_FAILURE"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// ErrorCode maps err onto a wire error code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, ErrAccessDenied):
		return ErrCodeAccessDenied
	case errors.Is(err, ErrInvalidState):
		return ErrCodeInvalidState
	case errors.Is(err, ErrAuthenticationFailed):
		return ErrCodeUnauthorized
	case errors.Is(err, ErrTransientFailure),
		errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTransient
	case errors.Is(err, ErrBadRequest):
		return ErrCodeBadRequest
	default:
		return ErrCodeInternalError
	}
}

// IsRetryable reports whether the caller may retry the failed operation.
func IsRetryable(err error) bool {
	return ErrorCode(err) == ErrCodeTransient
}
