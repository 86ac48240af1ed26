package workflow

import (
	"errors"
	"testing"

	"github.com/BaSui01/stepflow/testutil"
	"github.com/BaSui01/stepflow/testutil/mocks"
	"github.com/BaSui01/stepflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupCall() types.ToolCall {
	return mocks.NewToolCall("call_1", "lookup", map[string]any{"q": "x"})
}

func TestAgent_ReturnPartialAfterBudget(t *testing.T) {
	provider := mocks.NewToolCallProvider(lookupCall())
	registry := mocks.NewMockRegistry().WithToolResult("lookup", "found")
	exec := NewStepExecutor(provider, registry)

	step := AgentStep("research", StaticPrompt("research x"), 2, FallbackReturnPartial)
	res, err := exec.Execute(testutil.TestContext(t), step, map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, 2, provider.CallCount())
	assert.Contains(t, res.Value, "Partial")
	// user + 2 × (assistant + tool)
	assert.Equal(t, "Partial result after 2 steps; transcript has 5 entries", res.Value)
	assert.Len(t, res.Transcript, 5)
	assert.Equal(t, 2, registry.GetCallCount())
}

func TestAgent_ErrorFallback(t *testing.T) {
	provider := mocks.NewToolCallProvider(lookupCall())
	registry := mocks.NewMockRegistry().WithToolResult("lookup", "found")
	exec := NewStepExecutor(provider, registry)

	res, err := exec.Execute(testutil.TestContext(t), AgentStep("research", StaticPrompt("go"), 3, FallbackError), nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrAgentBound))
	assert.Contains(t, err.Error(), "research")
	assert.Equal(t, 3, provider.CallCount())
	require.NotNil(t, res)
	assert.Len(t, res.Transcript, 7)
}

func TestAgent_SummarizeFallbackMakesOneExtraCallWithoutTools(t *testing.T) {
	provider := mocks.NewMockProvider().WithScript(
		mocks.MockResponse{ToolCalls: []types.ToolCall{lookupCall()}},
		mocks.MockResponse{ToolCalls: []types.ToolCall{lookupCall()}},
		mocks.MockResponse{Content: "summary of findings"},
	)
	registry := mocks.NewMockRegistry().WithToolResult("lookup", "found")
	exec := NewStepExecutor(provider, registry)

	res, err := exec.Execute(testutil.TestContext(t), AgentStep("research", StaticPrompt("go"), 2, FallbackSummarize), nil)
	require.NoError(t, err)

	assert.Equal(t, "summary of findings", res.Value)
	assert.Equal(t, 3, provider.CallCount())
	assert.Empty(t, provider.LastRequest().Tools)
	last := provider.LastRequest().Messages
	assert.Equal(t, types.RoleUser, last[len(last)-1].Role)
}

func TestAgent_StopsWhenModelAnswers(t *testing.T) {
	provider := mocks.NewMockProvider().WithScript(
		mocks.MockResponse{ToolCalls: []types.ToolCall{lookupCall()}},
		mocks.MockResponse{Content: "answer"},
	)
	registry := mocks.NewMockRegistry().WithToolResult("lookup", "found")
	exec := NewStepExecutor(provider, registry)

	res, err := exec.Execute(testutil.TestContext(t), AgentStep("research", StaticPrompt("go"), 5, FallbackError), nil)
	require.NoError(t, err)
	assert.Equal(t, "answer", res.Value)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 2, provider.CallCount())
}

func TestAgent_DefaultBudgetAndFallback(t *testing.T) {
	provider := mocks.NewToolCallProvider(lookupCall())
	registry := mocks.NewMockRegistry().WithToolResult("lookup", "found")
	exec := NewStepExecutor(provider, registry, WithExecutorConfig(ExecutorConfig{
		DefaultMaxSteps: 4,
		DefaultFallback: FallbackReturnPartial,
	}))

	res, err := exec.Execute(testutil.TestContext(t), AgentStep("research", StaticPrompt("go"), 0, ""), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, provider.CallCount())
	assert.Contains(t, res.Value, "after 4 steps")
}

func TestAgent_ToolErrorFailsStep(t *testing.T) {
	boom := errors.New("rate limited")
	provider := mocks.NewToolCallProvider(lookupCall())
	registry := mocks.NewMockRegistry().WithToolError("lookup", boom)
	exec := NewStepExecutor(provider, registry)

	_, err := exec.Execute(testutil.TestContext(t), AgentStep("research", StaticPrompt("go"), 5, FallbackReturnPartial), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, provider.CallCount())
}
