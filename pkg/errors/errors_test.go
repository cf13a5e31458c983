package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := NewTransportError("status", "backend returned 502")
	assert.Equal(t, "[status] backend returned 502", err.Error())

	cause := stderrors.New("connection refused")
	withCause := NewTransportError("unreachable", "backend unreachable").WithCause(cause)
	assert.Contains(t, withCause.Error(), "connection refused")
	assert.ErrorIs(t, withCause, cause)
}

func TestKindClassification(t *testing.T) {
	assert.True(t, IsTransport(NewTransportError("x", "y")))
	assert.True(t, IsAuth(NewAuthError("x", "y")))
	assert.True(t, IsValidation(NewValidationError("x", "y")))
	assert.True(t, IsKind(NewProtocolError("x", "y"), KindProtocol))

	assert.False(t, IsTransport(NewAuthError("x", "y")))
	assert.False(t, IsTransport(stderrors.New("plain")))
	assert.False(t, IsTransport(nil))
}

func TestKindSurvivesWrapping(t *testing.T) {
	inner := NewValidationError("empty_message", "message text is empty")
	wrapped := fmt.Errorf("send failed: %w", inner)
	assert.True(t, IsValidation(wrapped))
}

func TestWithDetails(t *testing.T) {
	err := NewTransportError("status", "backend returned 500").WithDetails("body text")
	assert.Equal(t, "body text", err.Details)
}
