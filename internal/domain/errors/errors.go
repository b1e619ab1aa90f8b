package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Domain errors
var (
	ErrNotFound               = errors.New("resource not found")
	ErrAlreadyExists          = errors.New("resource already exists")
	ErrInvalidInput           = errors.New("invalid input")
	ErrMissingCredential      = errors.New("missing credential")
	ErrInvalidCredential      = errors.New("invalid credential")
	ErrRevoked                = errors.New("credential revoked")
	ErrExpired                = errors.New("credential expired")
	ErrRateLimited            = errors.New("rate limit exceeded")
	ErrServiceMismatch        = errors.New("service mismatch")
	ErrInsufficientPermission = errors.New("insufficient permission")
	ErrInvalidToken           = errors.New("invalid token")
	ErrStoreUnavailable       = errors.New("store unavailable")
	ErrForbidden              = errors.New("forbidden")
)

// Kind is the stable, transport-independent name of a failure.
type Kind string

const (
	KindMissingCredential      Kind = "MISSING_CREDENTIAL"
	KindInvalidCredential      Kind = "INVALID_CREDENTIAL"
	KindRevoked                Kind = "REVOKED"
	KindExpired                Kind = "EXPIRED"
	KindRateLimited            Kind = "RATE_LIMITED"
	KindServiceMismatch        Kind = "SERVICE_MISMATCH"
	KindInsufficientPermission Kind = "INSUFFICIENT_PERMISSION"
	KindInvalidToken           Kind = "INVALID_TOKEN"
	KindStoreUnavailable       Kind = "STORE_UNAVAILABLE"
	KindNotFound               Kind = "NOT_FOUND"
	KindInvalidInput           Kind = "INVALID_INPUT"
	KindForbidden              Kind = "FORBIDDEN"
	KindInternal               Kind = "INTERNAL_ERROR"
)

// AppError represents application error with HTTP status
type AppError struct {
	Status     int           `json:"-"`
	Code       Kind          `json:"code"`
	Message    string        `json:"message"`
	RetryAfter time.Duration `json:"-"`
	Err        error         `json:"-"`
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new app error
func NewAppError(status int, code Kind, message string, err error) *AppError {
	return &AppError{
		Status:  status,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// KindOf returns the failure kind carried by err, or KindInternal.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrStoreUnavailable):
		return KindStoreUnavailable
	}
	return KindInternal
}

// Verification failures

func MissingCredential() *AppError {
	return NewAppError(http.StatusUnauthorized, KindMissingCredential, "Missing API Key", ErrMissingCredential)
}

// InvalidCredential covers both unknown keys and hash mismatches so callers
// cannot tell them apart.
func InvalidCredential() *AppError {
	return NewAppError(http.StatusUnauthorized, KindInvalidCredential, "Invalid API Key", ErrInvalidCredential)
}

func Revoked() *AppError {
	return NewAppError(http.StatusUnauthorized, KindRevoked, "API Key has been revoked", ErrRevoked)
}

func Expired() *AppError {
	return NewAppError(http.StatusUnauthorized, KindExpired, "API Key has expired", ErrExpired)
}

func RateLimited(retryAfter time.Duration) *AppError {
	e := NewAppError(http.StatusTooManyRequests, KindRateLimited, "Rate limit exceeded", ErrRateLimited)
	e.RetryAfter = retryAfter
	return e
}

func ServiceMismatch(keyService, target string) *AppError {
	return NewAppError(http.StatusForbidden, KindServiceMismatch,
		fmt.Sprintf("API Key for service '%s' cannot access service '%s'", keyService, target),
		ErrServiceMismatch)
}

func InsufficientPermission(required string) *AppError {
	return NewAppError(http.StatusForbidden, KindInsufficientPermission,
		fmt.Sprintf("Insufficient permissions. Required: %s", required),
		ErrInsufficientPermission)
}

func InvalidToken(message string) *AppError {
	if message == "" {
		message = "Could not validate credentials"
	}
	return NewAppError(http.StatusUnauthorized, KindInvalidToken, message, ErrInvalidToken)
}

func StoreUnavailable(err error) *AppError {
	if err == nil {
		err = ErrStoreUnavailable
	} else {
		err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return NewAppError(http.StatusServiceUnavailable, KindStoreUnavailable, "Credential store unavailable", err)
}

// Common error constructors
func NotFound(message string) *AppError {
	return NewAppError(http.StatusNotFound, KindNotFound, message, ErrNotFound)
}

func BadRequest(message string) *AppError {
	return NewAppError(http.StatusBadRequest, KindInvalidInput, message, ErrInvalidInput)
}

func Forbidden(message string) *AppError {
	return NewAppError(http.StatusForbidden, KindForbidden, message, ErrForbidden)
}

func InternalError(err error) *AppError {
	return NewAppError(http.StatusInternalServerError, KindInternal, "internal server error", err)
}
