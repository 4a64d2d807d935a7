// Package pusherr defines the error taxonomy shared by the push activation
// components.
//
// Transport and server errors never cross the state machine boundary as Go
// errors: they travel inside *Failed events as the reason and reach the host
// through the activation callbacks. Precondition errors are returned
// synchronously by the host-facing API.
package pusherr

import (
	"errors"
	"fmt"
)

// Kind categorizes an Error.
type Kind string

const (
	// KindTransport indicates a network or HTTP-level failure.
	KindTransport Kind = "transport"

	// KindServer indicates a failure reported by the registration API.
	KindServer Kind = "server"

	// KindPrecondition indicates the caller asked for something the device
	// cannot do yet.
	KindPrecondition Kind = "precondition"
)

// Error carries a structured failure reason.
type Error struct {
	// Kind identifies the error category.
	Kind Kind

	// Code is the API error code (0 when unknown).
	Code int

	// StatusCode is the HTTP status code (0 when no response was received).
	StatusCode int

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any. Not persisted.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != 0 || e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (code=%d, status=%d)", e.Kind, e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Transport wraps a network failure.
func Transport(err error) *Error {
	msg := "transport failure"
	if err != nil {
		msg = err.Error()
	}
	return &Error{Kind: KindTransport, Message: msg, Err: err}
}

// Server builds an API-reported failure.
func Server(statusCode, code int, message string) *Error {
	if message == "" {
		message = fmt.Sprintf("unexpected status %d", statusCode)
	}
	return &Error{Kind: KindServer, Code: code, StatusCode: statusCode, Message: message}
}

// Precondition builds a synchronous precondition failure.
func Precondition(format string, args ...any) *Error {
	return &Error{Kind: KindPrecondition, Message: fmt.Sprintf(format, args...)}
}

// IsTransport reports whether err is a transport error.
// Uses errors.As to handle wrapped errors.
func IsTransport(err error) bool {
	return hasKind(err, KindTransport)
}

// IsServer reports whether err is a server-reported error.
func IsServer(err error) bool {
	return hasKind(err, KindServer)
}

// IsPrecondition reports whether err is a precondition error.
func IsPrecondition(err error) bool {
	return hasKind(err, KindPrecondition)
}

// As extracts an *Error from err. Errors of any other type are reported as
// transport failures so callbacks always carry a structured reason.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return Transport(err)
}

func hasKind(err error, kind Kind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}
