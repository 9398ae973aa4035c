package models

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeValidation represents validation errors (400)
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeAuthentication represents authentication errors (401)
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypeInsufficientTokens represents an exhausted token balance (402)
	ErrorTypeInsufficientTokens ErrorType = "insufficient_tokens"
	// ErrorTypeAuthorization represents authorization errors (403)
	ErrorTypeAuthorization ErrorType = "authorization"
	// ErrorTypeNotFound represents resource not found errors (404)
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeRateLimit represents rate limiting errors (429)
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeTimeout represents timeout errors (504)
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInternal represents internal server errors (500)
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeUnavailable represents a tripped circuit breaker (503)
	ErrorTypeUnavailable ErrorType = "unavailable"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Code       string    `json:"code,omitzero"`
	StatusCode int       `json:"-"`
	Retryable  bool      `json:"retryable"`
	Details    Metadata  `json:"details,omitempty"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) IsRetryable() bool {
	return e.Retryable
}

// GetStatusCode returns the HTTP status code for the error
func (e *AppError) GetStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeInsufficientTokens:
		return http.StatusPaymentRequired
	case ErrorTypeAuthorization:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func NewValidationError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Cause:      cause,
	}
}

// NewAuthenticationError is deliberately terse; the cause is never serialized.
func NewAuthenticationError(cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeAuthentication,
		Message:    "unauthorized",
		Code:       "UNAUTHORIZED",
		StatusCode: http.StatusUnauthorized,
		Cause:      cause,
	}
}

func NewInsufficientTokensError(required, remaining int64, cause error) *AppError {
	shortfall := required - remaining
	if shortfall < 0 {
		shortfall = 0
	}
	return &AppError{
		Type:       ErrorTypeInsufficientTokens,
		Message:    "insufficient tokens",
		Code:       "INSUFFICIENT_TOKENS",
		StatusCode: http.StatusPaymentRequired,
		Details: Metadata{
			"required":  required,
			"remaining": remaining,
			"shortfall": shortfall,
		},
		Cause: cause,
	}
}

func NewNotFoundError(resource string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		Code:       "NOT_FOUND",
		StatusCode: http.StatusNotFound,
		Cause:      cause,
	}
}

func NewAuthorizationError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeAuthorization,
		Message:    message,
		Code:       "FORBIDDEN",
		StatusCode: http.StatusForbidden,
	}
}

// NewRateLimitError carries the reset time and retry-after in seconds.
func NewRateLimitError(limit int, resetAt time.Time, retryAfter time.Duration) *AppError {
	return &AppError{
		Type:       ErrorTypeRateLimit,
		Message:    "rate limit exceeded",
		Code:       "RATE_LIMIT_EXCEEDED",
		StatusCode: http.StatusTooManyRequests,
		Retryable:  true,
		Details: Metadata{
			"limit":       limit,
			"reset_at":    resetAt.UTC().Format(time.RFC3339),
			"retry_after": int64((retryAfter + time.Second - 1) / time.Second),
		},
	}
}

func NewTimeoutError(operation string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeTimeout,
		Message:    fmt.Sprintf("operation %s timed out", operation),
		StatusCode: http.StatusGatewayTimeout,
		Retryable:  true,
		Cause:      cause,
	}
}

func NewUnavailableError(resource string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeUnavailable,
		Message:    fmt.Sprintf("%s is temporarily unavailable", resource),
		StatusCode: http.StatusServiceUnavailable,
		Retryable:  true,
		Cause:      cause,
	}
}

func NewInternalError(message string, cause error) *AppError {
	wrapped := errors.New(message)
	if cause != nil {
		wrapped = fmt.Errorf("%s: %w", message, cause)
	}
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    "internal server error",
		StatusCode: http.StatusInternalServerError,
		Cause:      wrapped,
	}
}

// SanitizeError sanitizes an error for external consumption
func SanitizeError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Type:       appErr.Type,
			Message:    appErr.Message,
			Code:       appErr.Code,
			StatusCode: appErr.GetStatusCode(),
			Retryable:  appErr.Retryable,
			Details:    appErr.Details,
		}
	}

	return NewInternalError("an unexpected error occurred", err)
}
