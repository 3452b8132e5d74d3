// Package errors defines the error taxonomy shared by ingestion and aggregation.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Type identifies the category of error
type Type string

const (
	// TypeConfig is an integration config missing a required key.
	TypeConfig Type = "CONFIG_ERROR"

	// TypeAuth is a credential acquisition or refresh failure.
	TypeAuth Type = "AUTH_ERROR"

	// TypeTransport is a network or provider API failure mid-fetch.
	TypeTransport Type = "TRANSPORT_ERROR"

	// TypeData is a single source row that cannot become a usage record.
	TypeData Type = "DATA_ERROR"

	// TypeInvalidGroupBy is a grouping column outside the allow-list.
	TypeInvalidGroupBy Type = "INVALID_GROUP_BY"

	// TypeInput is a malformed aggregation request.
	TypeInput Type = "INPUT_ERROR"

	// TypeAuthenticationRejected is a login credential mismatch.
	TypeAuthenticationRejected Type = "AUTHENTICATION_REJECTED"

	// TypeStore is a persistence failure.
	TypeStore Type = "STORE_ERROR"
)

// ErrInvalidCredentials is returned by login when the credentials do not match.
var ErrInvalidCredentials = New(TypeAuthenticationRejected, "invalid credentials")

// Error represents a domain error with context
type Error struct {
	Type    Type                   `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new error
func New(errType Type, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new formatted error
func Newf(errType Type, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with context
func Wrap(errType Type, message string, cause error) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   cause,
	}
}

// Wrapf wraps an error with formatted context
func Wrapf(errType Type, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// TypeOf returns the type of the outermost *Error in err's chain, or "".
func TypeOf(err error) Type {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ""
}

// IsType checks if an error is of a specific type
func IsType(err error, t Type) bool {
	return err != nil && TypeOf(err) == t
}

// Retryable reports whether err may succeed on a later attempt without a config change.
func Retryable(err error) bool {
	return IsType(err, TypeTransport)
}

// Config creates a config error
func Config(message string) *Error {
	return New(TypeConfig, message)
}

// Auth wraps a credential failure
func Auth(message string, cause error) *Error {
	return Wrap(TypeAuth, message, cause)
}

// Transport wraps a provider call failure
func Transport(message string, cause error) *Error {
	return Wrap(TypeTransport, message, cause)
}

// Data creates a row-level parse error
func Data(message string, cause error) *Error {
	return Wrap(TypeData, message, cause)
}

// Input creates an input error
func Input(message string) *Error {
	return New(TypeInput, message)
}

// InvalidGroupBy creates an error for an unsanctioned grouping column
func InvalidGroupBy(column string) *Error {
	return Newf(TypeInvalidGroupBy, "cannot group by %q", column).WithContext("group_by", column)
}

// Store wraps a persistence failure
func Store(message string, cause error) *Error {
	return Wrap(TypeStore, message, cause)
}
