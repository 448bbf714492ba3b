package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Format(t *testing.T) {
	err := NewError(ErrHandoffDenied, "target not reachable")
	assert.Equal(t, "[HANDOFF_DENIED] target not reachable", err.Error())

	cause := errors.New("boom")
	wrapped := NewError(ErrToolExecution, "lookup failed").WithCause(cause)
	assert.Contains(t, wrapped.Error(), "boom")
	assert.Equal(t, cause, errors.Unwrap(wrapped))
}

func TestError_Retryable(t *testing.T) {
	err := NewError(ErrLLMTransient, "rate limited").WithRetryable(true)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(NewError(ErrToolTimeout, "deadline")))
}

func TestGetErrorCode(t *testing.T) {
	require.Equal(t, ErrAgentNotFound, GetErrorCode(NewError(ErrAgentNotFound, "no such agent")))
	require.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
	assert.True(t, HasErrorCode(Errorf(ErrToolConflict, "tool %q already registered", "lookup"), ErrToolConflict))
}
