package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestToolResult_ToMessage(t *testing.T) {
	t.Parallel()

	ok := ToolResult{ToolCallID: "c1", Name: "search", Content: `{"hits":3}`, Duration: 5 * time.Millisecond}
	msg := ok.ToMessage()
	assert.False(t, ok.IsError())
	assert.Equal(t, RoleTool, msg.Role)
	assert.Equal(t, `{"hits":3}`, msg.Content)
	assert.Equal(t, "search", msg.Name)
	assert.Equal(t, "c1", msg.ToolCallID)
	assert.False(t, msg.Timestamp.IsZero())

	failed := ToolResult{ToolCallID: "c2", Name: "search", Content: "partial", Error: "timeout"}
	assert.True(t, failed.IsError())
	assert.Equal(t, "Error: timeout", failed.ToMessage().Content)
}
