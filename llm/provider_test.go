package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstChoice(t *testing.T) {
	_, err := FirstChoice(nil)
	assert.Error(t, err)

	_, err = FirstChoice(&ChatResponse{})
	assert.Error(t, err)

	choice, err := FirstChoice(&ChatResponse{Choices: []ChatChoice{
		{Message: Message{Role: RoleAssistant, Content: "hi"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, "hi", choice.Message.Content)
}

func TestProviderFunc(t *testing.T) {
	var p Provider = ProviderFunc(func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
		return &ChatResponse{Model: req.Model}, nil
	})

	resp, err := p.Completion(context.Background(), &ChatRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "m", resp.Model)
	assert.Equal(t, "func", p.Name())
}
