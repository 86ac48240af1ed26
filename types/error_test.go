package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamError, "upstream failed").
		WithCause(root).
		WithRetryable(true)

	assert.Equal(t, ErrUpstreamError, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.True(t, errors.Is(err, root))
	assert.Equal(t, "[UPSTREAM_ERROR] upstream failed: root", err.Error())
}

func TestIsCode_ThroughWrapping(t *testing.T) {
	t.Parallel()

	inner := NewNotFoundError("step", "step_3_missing")
	outer := NewExecutionError("fetch", fmt.Errorf("lookup: %w", inner))
	wrapped := fmt.Errorf("engine: %w", outer)

	assert.True(t, IsCode(wrapped, ErrExecution))
	assert.True(t, IsCode(wrapped, ErrNotFound))
	assert.False(t, IsCode(wrapped, ErrPersistence))
	assert.False(t, IsCode(nil, ErrNotFound))
	assert.False(t, IsCode(errors.New("plain"), ErrNotFound))
}

func TestNewExecutionError_KeepsStepAndCause(t *testing.T) {
	t.Parallel()

	err := NewExecutionError("summarize", errors.New("boom"))
	e, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, "summarize", e.Step)
	assert.Contains(t, err.Error(), `"summarize"`)
	assert.Contains(t, err.Error(), "boom")
}

func TestNewAgentBoundError(t *testing.T) {
	t.Parallel()

	err := NewAgentBoundError("research", 3)
	assert.Equal(t, ErrAgentBound, GetErrorCode(err))
	assert.Contains(t, err.Error(), "max steps (3)")
}

func TestNewNotFoundError_NamesID(t *testing.T) {
	t.Parallel()

	err := NewNotFoundError("session", "20260101_120000_042")
	assert.Contains(t, err.Error(), "20260101_120000_042")
	assert.Equal(t, ErrNotFound, GetErrorCode(err))
}
