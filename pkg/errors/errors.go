package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a chat error for callers that need to branch on failure
// class rather than on individual codes.
type Kind string

const (
	// KindTransport covers network failures, non-success HTTP statuses and
	// undecodable response bodies.
	KindTransport Kind = "transport"
	// KindProtocol covers malformed frames or unexpected payload shapes on
	// an otherwise healthy channel.
	KindProtocol Kind = "protocol"
	// KindAuth covers a missing credential or actor identity.
	KindAuth Kind = "auth"
	// KindValidation covers rejected input (blank text, no conversation).
	KindValidation Kind = "validation"
)

// ChatError is the error type returned across the chatkit API surface.
type ChatError struct {
	Kind    Kind   `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *ChatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *ChatError) Unwrap() error {
	return e.Err
}

// WithDetails adds details to the error
func (e *ChatError) WithDetails(details any) *ChatError {
	e.Details = details
	return e
}

// WithCause attaches the underlying error
func (e *ChatError) WithCause(err error) *ChatError {
	e.Err = err
	return e
}

// NewError creates a new chat error
func NewError(kind Kind, code string, message string) *ChatError {
	return &ChatError{
		Kind:    kind,
		Code:    code,
		Message: message,
	}
}

// NewTransportError creates an error for a failed network operation
func NewTransportError(code string, message string) *ChatError {
	return NewError(KindTransport, code, message)
}

// NewProtocolError creates an error for a malformed frame or payload
func NewProtocolError(code string, message string) *ChatError {
	return NewError(KindProtocol, code, message)
}

// NewAuthError creates an error for a missing credential or identity
func NewAuthError(code string, message string) *ChatError {
	return NewError(KindAuth, code, message)
}

// NewValidationError creates an error for rejected caller input
func NewValidationError(code string, message string) *ChatError {
	return NewError(KindValidation, code, message)
}

// IsKind reports whether err is a ChatError of the given kind.
func IsKind(err error, kind Kind) bool {
	var ce *ChatError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Kind == kind
}

// IsTransport reports whether err is a transport-class failure.
func IsTransport(err error) bool { return IsKind(err, KindTransport) }

// IsAuth reports whether err is an auth-class failure.
func IsAuth(err error) bool { return IsKind(err, KindAuth) }

// IsValidation reports whether err is a validation-class failure.
func IsValidation(err error) bool { return IsKind(err, KindValidation) }
