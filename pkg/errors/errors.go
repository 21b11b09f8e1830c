// Package errors provides typed errors for the watchdog notifier
package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType int

const (
	// ErrConfig indicates a missing or invalid endpoint, microServiceId or signature
	ErrConfig ErrorType = iota
	// ErrSerialization indicates the report could not be encoded
	ErrSerialization
	// ErrTransport indicates a connection failure, timeout or malformed request
	ErrTransport
	// ErrProtocol indicates the endpoint answered with something other than success
	ErrProtocol
	// ErrValidation indicates an input validation error
	ErrValidation
)

// WatchdogError is the base error type for all notifier errors
type WatchdogError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error returns the error message
func (e *WatchdogError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", errorTypeString(e.Type), e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", errorTypeString(e.Type), e.Message)
}

// Unwrap returns the underlying cause
func (e *WatchdogError) Unwrap() error {
	return e.Cause
}

// New creates a new WatchdogError
func New(errType ErrorType, message string, cause error) *WatchdogError {
	return &WatchdogError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context to the error
func (e *WatchdogError) WithContext(key string, value interface{}) *WatchdogError {
	e.Context[key] = value
	return e
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	var wdErr *WatchdogError
	if err == nil {
		return false
	}
	if errors.As(err, &wdErr) {
		return wdErr.Type == errType
	}
	return false
}

// TypeOf returns the category of err and false when err is not a WatchdogError.
func TypeOf(err error) (ErrorType, bool) {
	var wdErr *WatchdogError
	if !errors.As(err, &wdErr) {
		return 0, false
	}
	return wdErr.Type, true
}

// ShouldFailBuild reports whether err may change the outcome of the build
// that triggered the notification. Reporting is auxiliary, so it never does.
func ShouldFailBuild(err error) bool {
	return false
}

func errorTypeString(et ErrorType) string {
	switch et {
	case ErrConfig:
		return "CONFIG"
	case ErrSerialization:
		return "SERIALIZATION"
	case ErrTransport:
		return "TRANSPORT"
	case ErrProtocol:
		return "PROTOCOL"
	case ErrValidation:
		return "VALIDATION"
	default:
		return "UNKNOWN"
	}
}

// String returns the upper-case tag used in error messages and log fields.
func (et ErrorType) String() string {
	return errorTypeString(et)
}

// Convenience functions for common errors

// ConfigError creates a configuration error
func ConfigError(message string, cause error) *WatchdogError {
	return New(ErrConfig, message, cause)
}

// SerializationError creates a serialization error
func SerializationError(message string, cause error) *WatchdogError {
	return New(ErrSerialization, message, cause)
}

// TransportError creates a transport error
func TransportError(message string, cause error) *WatchdogError {
	return New(ErrTransport, message, cause)
}

// ProtocolError creates a protocol error
func ProtocolError(message string, cause error) *WatchdogError {
	return New(ErrProtocol, message, cause)
}

// ValidationError creates a validation error
func ValidationError(message string, cause error) *WatchdogError {
	return New(ErrValidation, message, cause)
}
