package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/stepflow/types"
	"go.uber.org/zap"
)

// ToolFunc defines the tool function signature.
// The workflow context of the calling step is available via WorkflowContext(ctx).
type ToolFunc func(ctx context.Context, args json.RawMessage) (any, error)

// ToolMetadata describes tool metadata.
type ToolMetadata struct {
	Schema      types.ToolSchema // Tool JSON Schema
	Description string           // Detailed description
}

// Tool is a registered, invocable tool.
type Tool interface {
	Schema() types.ToolSchema
	Invoke(ctx context.Context, args json.RawMessage) (any, error)
}

// Registry is the read side of tool management consumed by the workflow engine.
type Registry interface {
	Get(name string) (Tool, bool)
	List() []Tool
}

// Func is the form in which a tool is exposed to custom step handlers
// through the workflow context.
type Func func(ctx context.Context, params map[string]any) (any, error)

// ====== 实现：DefaultRegistry ======

type registeredTool struct {
	fn     ToolFunc
	schema types.ToolSchema
}

func (t *registeredTool) Schema() types.ToolSchema { return t.schema }

func (t *registeredTool) Invoke(ctx context.Context, args json.RawMessage) (any, error) {
	return t.fn(ctx, args)
}

// DefaultRegistry is a concurrency-safe in-memory Registry.
type DefaultRegistry struct {
	mu     sync.RWMutex
	tools  map[string]*registeredTool
	logger *zap.Logger
}

// NewDefaultRegistry 创建默认的工具注册中心。
func NewDefaultRegistry(logger *zap.Logger) *DefaultRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DefaultRegistry{
		tools:  make(map[string]*registeredTool),
		logger: logger.With(zap.String("component", "tool_registry")),
	}
}

func (r *DefaultRegistry) Register(name string, fn ToolFunc, metadata ToolMetadata) error {
	if fn == nil {
		return fmt.Errorf("tool %s: nil function", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}

	// 校验 Schema
	if metadata.Schema.Name == "" {
		metadata.Schema.Name = name
	}
	if metadata.Schema.Name != name {
		return fmt.Errorf("tool name mismatch: schema.Name=%s, register name=%s", metadata.Schema.Name, name)
	}
	if metadata.Schema.Description == "" {
		metadata.Schema.Description = metadata.Description
	}
	if len(metadata.Schema.Parameters) == 0 {
		metadata.Schema.Parameters = json.RawMessage(`{"type":"object","properties":{}}`)
	}

	r.tools[name] = &registeredTool{fn: fn, schema: metadata.Schema}
	r.logger.Debug("tool registered", zap.String("name", name))
	return nil
}

func (r *DefaultRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return fmt.Errorf("tool %s not found", name)
	}
	delete(r.tools, name)
	r.logger.Debug("tool unregistered", zap.String("name", name))
	return nil
}

func (r *DefaultRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return t, true
}

// List returns all tools ordered by name so that the schema list sent to the
// model is stable between calls.
func (r *DefaultRegistry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Tool, 0, len(names))
	for _, name := range names {
		out = append(out, r.tools[name])
	}
	return out
}

func (r *DefaultRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Schemas returns the descriptors of every tool in reg.
func Schemas(reg Registry) []types.ToolSchema {
	if reg == nil {
		return nil
	}
	all := reg.List()
	out := make([]types.ToolSchema, 0, len(all))
	for _, t := range all {
		out = append(out, t.Schema())
	}
	return out
}

// AsFunc exposes t as a Func taking decoded parameters.
func AsFunc(t Tool) Func {
	return func(ctx context.Context, params map[string]any) (any, error) {
		if params == nil {
			params = map[string]any{}
		}
		args, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("tool %s: marshal params: %w", t.Schema().Name, err)
		}
		return t.Invoke(ctx, args)
	}
}
