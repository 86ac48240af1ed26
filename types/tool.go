package types

import (
	"encoding/json"
	"time"
)

// ToolSchema defines a tool's interface for LLM function calling.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolResult 一次工具调用的执行记录，由步骤执行器在每次调用后生成。
type ToolResult struct {
	ToolCallID string        `json:"tool_call_id"`
	Name       string        `json:"name"`
	Content    string        `json:"content,omitempty"` // 已编码的结果文本
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// ToMessage converts the result into the tool message fed back to the model.
// A failed call carries its error text as content.
func (tr ToolResult) ToMessage() Message {
	content := tr.Content
	if tr.IsError() {
		content = "Error: " + tr.Error
	}
	return NewToolMessage(tr.ToolCallID, tr.Name, content)
}

// IsError reports whether the call failed.
func (tr ToolResult) IsError() bool {
	return tr.Error != ""
}
