package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
)

// Delivery error codes. Configuration errors are terminal: retrying cannot
// fix a missing address or a missing preferences row.
const (
	ErrMissingEmail ErrorCode = iota + 2000
	ErrMissingSMSPhone
	ErrMissingPreferences
	ErrProviderNotConfigured
	ErrPoolExhausted
)

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

func NotFound(resource string, err error) *AppError {
	return NewNotFound(resource, err)
}

func BadRequest(message string, err error) *AppError {
	return NewBadRequest(message, err)
}

func Internal(err error) *AppError {
	return NewInternal(err)
}

func MissingEmail() *AppError {
	return &AppError{Code: ErrMissingEmail, Message: "missing_email"}
}

func MissingSMSPhone() *AppError {
	return &AppError{Code: ErrMissingSMSPhone, Message: "missing_sms_phone"}
}

func MissingPreferences() *AppError {
	return &AppError{Code: ErrMissingPreferences, Message: "missing_preferences"}
}

func ProviderNotConfigured(provider string) *AppError {
	return &AppError{
		Code:    ErrProviderNotConfigured,
		Message: fmt.Sprintf("sms provider %q not configured", provider),
	}
}

func PoolExhausted() *AppError {
	return &AppError{Code: ErrPoolExhausted, Message: "no numbers available"}
}

// IsConfig reports whether err is a terminal configuration error.
func IsConfig(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case ErrMissingEmail, ErrMissingSMSPhone, ErrMissingPreferences, ErrProviderNotConfigured:
		return true
	}
	return false
}

// HTTPStatus maps an error to an HTTP status. Pool exhaustion is a
// capacity signal, not a client mistake, so it maps to 503.
func HTTPStatus(err error) int {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError
	}
	switch appErr.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBadRequest, ErrMissingEmail, ErrMissingSMSPhone, ErrMissingPreferences:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrPoolExhausted:
		return http.StatusServiceUnavailable
	case ErrProviderNotConfigured:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
