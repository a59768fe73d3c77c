// Package recovery classifies raw connection failures into typed errors that
// carry retry eligibility and troubleshooting guidance.
package recovery

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType enumerates the kinds of connection failure.
type ErrorType int

const (
	Unknown ErrorType = iota
	NetworkTimeout
	ConnectionRefused
	HostUnreachable
	DNSResolutionFailed
	AuthenticationFailed
	PermissionDenied
	KeyRejected
	PasswordRejected
	ProtocolError
	ConfigurationError
)

// String returns the stable name of the error type.
func (t ErrorType) String() string {
	switch t {
	case NetworkTimeout:
		return "network_timeout"
	case ConnectionRefused:
		return "connection_refused"
	case HostUnreachable:
		return "host_unreachable"
	case DNSResolutionFailed:
		return "dns_resolution_failed"
	case AuthenticationFailed:
		return "authentication_failed"
	case PermissionDenied:
		return "permission_denied"
	case KeyRejected:
		return "key_rejected"
	case PasswordRejected:
		return "password_rejected"
	case ProtocolError:
		return "protocol_error"
	case ConfigurationError:
		return "configuration_error"
	default:
		return "unknown"
	}
}

// ParseErrorType is the inverse of String. Unrecognised names map to Unknown.
func ParseErrorType(s string) ErrorType {
	for t := Unknown; t <= ConfigurationError; t++ {
		if t.String() == s {
			return t
		}
	}
	return Unknown
}

// Retryable reports whether another attempt could plausibly succeed without
// outside intervention.
func (t ErrorType) Retryable() bool {
	return !ShouldStopRetrying(t)
}

// ShouldStopRetrying is true for failures that retrying cannot fix.
func ShouldStopRetrying(t ErrorType) bool {
	switch t {
	case AuthenticationFailed, PermissionDenied, KeyRejected, PasswordRejected, ConfigurationError:
		return true
	default:
		return false
	}
}

// ConnectionError is a classified connection failure. It is never mutated
// after construction.
type ConnectionError struct {
	Type         ErrorType
	Message      string
	Cause        error
	Timestamp    time.Time
	ConnectionID string
	Steps        []string
}

// Error implements error.
func (e *ConnectionError) Error() string {
	if e.ConnectionID != "" {
		return fmt.Sprintf("%s [%s]: %s", e.ConnectionID, e.Type, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the original failure.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the failure is eligible for another attempt.
func (e *ConnectionError) Retryable() bool {
	return e.Type.Retryable()
}

// NewConfigurationError builds the error raised by configuration validation.
// It is the only way to produce a ConfigurationError.
func NewConfigurationError(connectionID, message string, now time.Time) *ConnectionError {
	return &ConnectionError{
		Type:         ConfigurationError,
		Message:      message,
		Cause:        errors.New(message),
		Timestamp:    now,
		ConnectionID: connectionID,
		Steps:        TroubleshootingSteps(ConfigurationError),
	}
}

// AsConnectionError unwraps err to a *ConnectionError if it is one.
func AsConnectionError(err error) (*ConnectionError, bool) {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
