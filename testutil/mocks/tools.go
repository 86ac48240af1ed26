// MockRegistry 的工具注册表测试模拟实现。
//
// 实现 tools.Registry，记录每次调用的参数与工作流上下文。
package mocks

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/BaSui01/stepflow/llm/tools"
	"github.com/BaSui01/stepflow/types"
)

// --- MockRegistry 结构 ---

// ToolFunc 工具执行函数类型
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// ToolCall 记录单次工具调用
type ToolCall struct {
	Name            string
	Args            map[string]any
	WorkflowContext map[string]any
	Result          any
	Error           error
}

// MockRegistry 是 tools.Registry 的模拟实现
type MockRegistry struct {
	mu    sync.Mutex
	tools map[string]*mockTool
	calls []ToolCall
}

type mockTool struct {
	registry *MockRegistry
	schema   types.ToolSchema
	fn       ToolFunc
}

func (t *mockTool) Schema() types.ToolSchema { return t.schema }

func (t *mockTool) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	args := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
	}
	wfctx, _ := tools.WorkflowContext(ctx)
	result, err := t.fn(ctx, args)

	t.registry.mu.Lock()
	t.registry.calls = append(t.registry.calls, ToolCall{
		Name:            t.schema.Name,
		Args:            args,
		WorkflowContext: wfctx,
		Result:          result,
		Error:           err,
	})
	t.registry.mu.Unlock()
	return result, err
}

// --- 构造函数和 Builder 方法 ---

// NewMockRegistry 创建新的 MockRegistry
func NewMockRegistry() *MockRegistry {
	return &MockRegistry{tools: make(map[string]*mockTool)}
}

// WithTool 注册工具及其执行函数
func (m *MockRegistry) WithTool(name string, fn ToolFunc) *MockRegistry {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools[name] = &mockTool{
		registry: m,
		schema: types.ToolSchema{
			Name:        name,
			Description: "mock tool " + name,
			Parameters:  json.RawMessage(`{"type":"object"}`),
		},
		fn: fn,
	}
	return m
}

// WithToolResult 注册返回固定结果的工具
func (m *MockRegistry) WithToolResult(name string, result any) *MockRegistry {
	return m.WithTool(name, func(context.Context, map[string]any) (any, error) {
		return result, nil
	})
}

// WithToolError 注册总是失败的工具
func (m *MockRegistry) WithToolError(name string, err error) *MockRegistry {
	return m.WithTool(name, func(context.Context, map[string]any) (any, error) {
		return nil, err
	})
}

// --- tools.Registry 接口实现 ---

func (m *MockRegistry) Get(name string) (tools.Tool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tools[name]
	if !ok {
		return nil, false
	}
	return t, true
}

func (m *MockRegistry) List() []tools.Tool {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.tools))
	for name := range m.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]tools.Tool, 0, len(names))
	for _, name := range names {
		out = append(out, m.tools[name])
	}
	return out
}

// --- 调用记录查询 ---

// GetCalls 返回所有调用记录
func (m *MockRegistry) GetCalls() []ToolCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ToolCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// GetCallCount 返回调用次数
func (m *MockRegistry) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// GetCallsForTool 返回指定工具的调用记录
func (m *MockRegistry) GetCallsForTool(name string) []ToolCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ToolCall
	for _, c := range m.calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Reset 重置调用记录
func (m *MockRegistry) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// NewToolCall builds a model tool-call request with JSON-encoded args.
func NewToolCall(id, name string, args map[string]any) types.ToolCall {
	raw, _ := json.Marshal(args)
	return types.ToolCall{ID: id, Name: name, Arguments: raw}
}
