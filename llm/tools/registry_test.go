package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/BaSui01/stepflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func echoTool(ctx context.Context, args json.RawMessage) (any, error) {
	var m map[string]any
	if err := json.Unmarshal(args, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func TestDefaultRegistry_RegisterAndGet(t *testing.T) {
	reg := NewDefaultRegistry(zap.NewNop())
	require.NoError(t, reg.Register("echo", echoTool, ToolMetadata{Description: "echo params"}))

	tool, ok := reg.Get("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", tool.Schema().Name)
	assert.Equal(t, "echo params", tool.Schema().Description)
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(tool.Schema().Parameters))

	_, ok = reg.Get("missing")
	assert.False(t, ok)
	assert.True(t, reg.Has("echo"))
}

func TestDefaultRegistry_Duplicate(t *testing.T) {
	reg := NewDefaultRegistry(nil)
	require.NoError(t, reg.Register("echo", echoTool, ToolMetadata{}))
	assert.Error(t, reg.Register("echo", echoTool, ToolMetadata{}))
}

func TestDefaultRegistry_NameMismatch(t *testing.T) {
	reg := NewDefaultRegistry(nil)
	err := reg.Register("echo", echoTool, ToolMetadata{Schema: toolSchema("other")})
	assert.Error(t, err)
}

func TestDefaultRegistry_ListSortedAndSchemas(t *testing.T) {
	reg := NewDefaultRegistry(nil)
	require.NoError(t, reg.Register("zeta", echoTool, ToolMetadata{}))
	require.NoError(t, reg.Register("alpha", echoTool, ToolMetadata{}))

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Schema().Name)
	assert.Equal(t, "zeta", list[1].Schema().Name)

	schemas := Schemas(reg)
	assert.Equal(t, "alpha", schemas[0].Name)
	assert.Nil(t, Schemas(nil))

	require.NoError(t, reg.Unregister("alpha"))
	assert.Len(t, reg.List(), 1)
	assert.Error(t, reg.Unregister("alpha"))
}

func TestAsFunc_PassesWorkflowContext(t *testing.T) {
	reg := NewDefaultRegistry(nil)
	require.NoError(t, reg.Register("lookup", func(ctx context.Context, args json.RawMessage) (any, error) {
		wfctx, ok := WorkflowContext(ctx)
		if !ok {
			return nil, nil
		}
		return wfctx["user"], nil
	}, ToolMetadata{}))

	tool, _ := reg.Get("lookup")
	fn := AsFunc(tool)

	ctx := WithWorkflowContext(context.Background(), map[string]any{"user": "ada"})
	out, err := fn(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "ada", out)
}

func toolSchema(name string) types.ToolSchema {
	return types.ToolSchema{Name: name}
}
