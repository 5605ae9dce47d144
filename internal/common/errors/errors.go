// Package errors provides the standardized error taxonomy for notification delivery.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Validation errors (permanent, never retried)
const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidJobSchema ErrorCode = "INVALID_JOB_SCHEMA"
	ErrCodeUnknownChannel   ErrorCode = "UNKNOWN_CHANNEL"
	ErrCodeChannelDisabled  ErrorCode = "CHANNEL_DISABLED"
)

// Delivery errors
const (
	ErrCodeTransientNetwork    ErrorCode = "TRANSIENT_NETWORK"
	ErrCodeRateLimited         ErrorCode = "RATE_LIMITED"
	ErrCodeTimeout             ErrorCode = "TIMEOUT"
	ErrCodeProviderRejected    ErrorCode = "PROVIDER_REJECTED"
	ErrCodeHTTPStatus          ErrorCode = "HTTP_STATUS_ERROR"
	ErrCodeCircuitOpen         ErrorCode = "CIRCUIT_OPEN"
	ErrCodeNotificationExpired ErrorCode = "NOTIFICATION_EXPIRED"
	ErrCodeMaxRetriesExceeded  ErrorCode = "MAX_RETRIES_EXCEEDED"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Retryable  bool                   `json:"retryable"`
	HTTPStatus int                    `json:"httpStatus,omitempty"`
	RetryAfter time.Duration          `json:"retryAfter,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithCause attaches the underlying error for errors.Is / errors.As chains.
func (e *StandardError) WithCause(err error) *StandardError {
	e.cause = err
	return e
}

// WithMetadata sets a metadata key and returns the error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. Error Constructors
// ==========================

// NewValidationError creates a non-retryable payload validation error.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Payload validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewJobSchemaError creates a non-retryable job schema error.
func NewJobSchemaError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidJobSchema,
		Message:   "Notification job does not match schema",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnknownChannelError creates a non-retryable routing error.
func NewUnknownChannelError(channel string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnknownChannel,
		Message:   "No channel registered for job",
		Details:   fmt.Sprintf("channel: %s", channel),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewChannelDisabledError creates a non-retryable error for a channel switched off in config.
func NewChannelDisabledError(channel string) *StandardError {
	return &StandardError{
		Code:      ErrCodeChannelDisabled,
		Message:   "Channel is disabled",
		Details:   fmt.Sprintf("channel: %s", channel),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTransientError creates a retryable network error.
func NewTransientError(service string, err error) *StandardError {
	return (&StandardError{
		Code:      ErrCodeTransientNetwork,
		Message:   fmt.Sprintf("Transient failure calling '%s'", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}).WithCause(err)
}

// NewRateLimitError creates a retryable rate-limit error. A positive retryAfter
// overrides the computed backoff delay.
func NewRateLimitError(service string, retryAfter time.Duration) *StandardError {
	return &StandardError{
		Code:       ErrCodeRateLimited,
		Message:    fmt.Sprintf("Rate limited by '%s'", service),
		Retryable:  true,
		HTTPStatus: 429,
		RetryAfter: retryAfter,
		Timestamp:  time.Now().UTC(),
	}
}

// NewTimeoutError creates a retryable timeout error with a 408-equivalent status.
func NewTimeoutError(service string, err error) *StandardError {
	details := "request timed out"
	if err != nil {
		details = err.Error()
	}
	return (&StandardError{
		Code:       ErrCodeTimeout,
		Message:    fmt.Sprintf("Service '%s' timeout", service),
		Details:    details,
		Retryable:  true,
		HTTPStatus: 408,
		Timestamp:  time.Now().UTC(),
	}).WithCause(err)
}

// NewProviderRejectedError creates a terminal provider rejection (SMTP reject, webhook 4xx).
func NewProviderRejectedError(service string, status int, details string) *StandardError {
	return &StandardError{
		Code:       ErrCodeProviderRejected,
		Message:    fmt.Sprintf("Provider '%s' rejected the delivery", service),
		Details:    details,
		Retryable:  false,
		HTTPStatus: status,
		Timestamp:  time.Now().UTC(),
	}
}

// NewHTTPStatusError creates an error for an unsuccessful HTTP response.
func NewHTTPStatusError(service string, status int, retryable bool, details string) *StandardError {
	return &StandardError{
		Code:       ErrCodeHTTPStatus,
		Message:    fmt.Sprintf("Service '%s' returned status %d", service, status),
		Details:    details,
		Retryable:  retryable,
		HTTPStatus: status,
		Timestamp:  time.Now().UTC(),
	}
}

// NewCircuitOpenError creates a fail-fast error carrying the remaining cooldown.
func NewCircuitOpenError(name string, remaining time.Duration) *StandardError {
	return (&StandardError{
		Code:       ErrCodeCircuitOpen,
		Message:    fmt.Sprintf("Circuit breaker '%s' is open", name),
		Details:    fmt.Sprintf("retry in %s", remaining),
		Retryable:  false,
		RetryAfter: remaining,
		Timestamp:  time.Now().UTC(),
	}).WithMetadata("remainingMs", remaining.Milliseconds())
}

// NewExpiredError creates a non-retryable expiration error.
func NewExpiredError(notificationID string, expiresAt time.Time) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationExpired,
		Message:   "expired",
		Details:   fmt.Sprintf("notificationId: %s, expiresAt: %s", notificationID, expiresAt.UTC().Format(time.RFC3339)),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewMaxRetriesExceededError wraps the last error after the retry budget is spent.
func NewMaxRetriesExceededError(attempts int, last error) *StandardError {
	details := ""
	if last != nil {
		details = last.Error()
	}
	return (&StandardError{
		Code:      ErrCodeMaxRetriesExceeded,
		Message:   fmt.Sprintf("Max retries exceeded after %d attempts", attempts),
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}).WithCause(last).WithMetadata("attempts", attempts)
}

// NewInternalError normalizes an unexpected error.
func NewInternalError(err error) *StandardError {
	return (&StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}).WithCause(err)
}

// ==========================
// 3. Classification Helpers
// ==========================

// As finds the first StandardError in err's chain.
func As(err error) (*StandardError, bool) {
	var se *StandardError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// CodeOf returns the error code of err, or INTERNAL_ERROR for foreign errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if se, ok := As(err); ok {
		return se.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	se, ok := As(err)
	return ok && se.Code == code
}

// IsPermanent reports whether the code can never succeed on retry.
func IsPermanent(code ErrorCode) bool {
	switch code {
	case ErrCodeValidationFailed,
		ErrCodeInvalidJobSchema,
		ErrCodeUnknownChannel,
		ErrCodeChannelDisabled,
		ErrCodeProviderRejected,
		ErrCodeCircuitOpen,
		ErrCodeNotificationExpired:
		return true
	default:
		return false
	}
}

// GetErrorCategory groups codes for logging and metrics.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "SCHEMA"):
		return "VALIDATION"
	case code == ErrCodeUnknownChannel || code == ErrCodeChannelDisabled:
		return "ROUTING"
	case code == ErrCodeRateLimited:
		return "RATE_LIMIT"
	case code == ErrCodeTransientNetwork || code == ErrCodeTimeout || code == ErrCodeHTTPStatus:
		return "TRANSIENT"
	case code == ErrCodeProviderRejected:
		return "PROVIDER"
	case code == ErrCodeCircuitOpen:
		return "CIRCUIT"
	case code == ErrCodeNotificationExpired:
		return "EXPIRATION"
	default:
		return "OTHER"
	}
}
