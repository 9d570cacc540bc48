package core

import (
	"errors"
	"fmt"
)

// Error represents a session or gateway error.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Param      string    `json:"param,omitempty"`
	Code       string    `json:"code,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	RetryAfter *int      `json:"retry_after,omitempty"`

	// Cause is the underlying failure. It is never serialized so upstream
	// detail cannot leak to clients.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrPermission ErrorType = "permission_error"
	ErrDevice     ErrorType = "device_error"
	ErrToken      ErrorType = "token_error"
	ErrConnection ErrorType = "connection_error"
	ErrSession    ErrorType = "session_error"

	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
)

// Messages shown to users. They carry no upstream detail.
const (
	MessageMicrophoneRequired = "microphone access required"
	MessageNoMicrophone       = "no microphone detected"
	MessageTokenUnavailable   = "unable to connect to server"
	MessageRecoverable        = "Something went wrong with the session. Please try again."
)

// NewPermissionError creates a microphone permission error.
func NewPermissionError(cause error) *Error {
	return &Error{
		Type:    ErrPermission,
		Message: MessageMicrophoneRequired,
		Cause:   cause,
	}
}

// NewDeviceError creates a missing-device error.
func NewDeviceError(cause error) *Error {
	return &Error{
		Type:    ErrDevice,
		Message: MessageNoMicrophone,
		Cause:   cause,
	}
}

// NewTokenError creates a credential issuance error with the fixed user-safe message.
func NewTokenError(cause error) *Error {
	return &Error{
		Type:    ErrToken,
		Message: MessageTokenUnavailable,
		Cause:   cause,
	}
}

// NewConnectionError creates a transport/session establishment error.
func NewConnectionError(message string, cause error) *Error {
	return &Error{
		Type:    ErrConnection,
		Message: message,
		Cause:   cause,
	}
}

// NewSessionError creates an error raised by an already established session.
func NewSessionError(message string, cause error) *Error {
	return &Error{
		Type:    ErrSession,
		Message: message,
		Cause:   cause,
	}
}

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(message string, retryAfter int) *Error {
	return &Error{
		Type:       ErrRateLimit,
		Message:    message,
		RetryAfter: &retryAfter,
	}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// IsRetryable returns true if the error is retryable.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrConnection, ErrRateLimit:
		return true
	default:
		return false
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}

// TypeOf reports the ErrorType carried by err, or "" when err is not a *Error.
func TypeOf(err error) ErrorType {
	var coreErr *Error
	if errors.As(err, &coreErr) && coreErr != nil {
		return coreErr.Type
	}
	return ""
}

// IsType reports whether err carries the given ErrorType.
func IsType(err error, typ ErrorType) bool {
	return err != nil && TypeOf(err) == typ
}

// IsRetryable reports whether err is a retryable *Error.
func IsRetryable(err error) bool {
	var coreErr *Error
	if errors.As(err, &coreErr) && coreErr != nil {
		return coreErr.IsRetryable()
	}
	return false
}

// UserMessage returns the text a client may render for err. Permission and
// device problems are user-actionable and keep their message; everything else
// collapses to a generic recoverable message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch TypeOf(err) {
	case ErrPermission:
		return MessageMicrophoneRequired
	case ErrDevice:
		return MessageNoMicrophone
	default:
		return MessageRecoverable
	}
}
