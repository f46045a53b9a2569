// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType classifies application errors; the API layer maps it to an HTTP status.
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation_error"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeError       ErrorType = "processing_error"
	ErrorTypeUnavailable ErrorType = "unavailable"
	ErrorTypeUpstream    ErrorType = "upstream_error"
	ErrorTypeTooLarge    ErrorType = "too_large"
)

// AppError is the error value carried across service boundaries.
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string
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

// Retryable reports whether the caller may retry the same request later.
func (e *AppError) Retryable() bool {
	return e.Type == ErrorTypeUnavailable
}

// HTTPStatus returns the status code used when the error reaches a client.
func (e *AppError) HTTPStatus() int {
	switch e.Type {
	case ErrorTypeValidation:
		return http.StatusUnprocessableEntity
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	case ErrorTypeUpstream:
		return http.StatusBadGateway
	case ErrorTypeTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// NewAppError creates an AppError of the given type.
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeError, message, originalError)
}

// NewUnavailableError marks a dependency that could not be reached at all.
func NewUnavailableError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeUnavailable, message, originalError)
}

// NewUpstreamError marks a dependency that answered with a failure.
func NewUpstreamError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeUpstream, message, originalError)
}

func NewTooLargeError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeTooLarge, message, originalError)
}

func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

func IsNotFoundError(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

func IsUnavailableError(err error) bool {
	return hasType(err, ErrorTypeUnavailable)
}

func IsUpstreamError(err error) bool {
	return hasType(err, ErrorTypeUpstream)
}

func IsTooLargeError(err error) bool {
	return hasType(err, ErrorTypeTooLarge)
}

// AsAppError extracts the outermost AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError, true
	}
	return nil, false
}

func hasType(err error, t ErrorType) bool {
	if appError, ok := AsAppError(err); ok {
		return appError.Type == t
	}
	return false
}

func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeError:
		return "PROCESSING_ERROR"
	case ErrorTypeUnavailable:
		return "SERVICE_UNAVAILABLE"
	case ErrorTypeUpstream:
		return "UPSTREAM_ERROR"
	case ErrorTypeTooLarge:
		return "PAYLOAD_TOO_LARGE"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError prefixes an existing AppError's message or wraps a plain error as errType.
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	if appError, ok := AsAppError(err); ok {
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
		}
	}

	return NewAppError(errType, message, err)
}

// Excerpt bounds s to at most n runes, marking truncation.
func Excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
