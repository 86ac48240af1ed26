package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/stepflow/llm/tools"
	"github.com/BaSui01/stepflow/types"
)

// =============================================================================
// 🔧 内置工具
// =============================================================================

// registerBuiltinTools 注册命令行自带的工具
func registerBuiltinTools(reg *tools.DefaultRegistry) error {
	if err := reg.Register("current_time", currentTime, tools.ToolMetadata{
		Description: "Returns the current time in RFC3339 format.",
		Schema: types.ToolSchema{
			Parameters: json.RawMessage(`{"type":"object","properties":{"timezone":{"type":"string","description":"IANA time zone, defaults to UTC"}}}`),
		},
	}); err != nil {
		return err
	}
	return reg.Register("context_lookup", contextLookup, tools.ToolMetadata{
		Description: "Returns a value from the workflow context by key.",
		Schema: types.ToolSchema{
			Parameters: json.RawMessage(`{"type":"object","properties":{"key":{"type":"string"}},"required":["key"]}`),
		},
	})
}

func currentTime(_ context.Context, args json.RawMessage) (any, error) {
	var p struct {
		Timezone string `json:"timezone"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}
	loc := time.UTC
	if p.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(p.Timezone); err != nil {
			return nil, err
		}
	}
	return time.Now().In(loc).Format(time.RFC3339), nil
}

func contextLookup(ctx context.Context, args json.RawMessage) (any, error) {
	var p struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	wfctx, ok := tools.WorkflowContext(ctx)
	if !ok {
		return nil, fmt.Errorf("no workflow context")
	}
	v, ok := wfctx[p.Key]
	if !ok {
		return nil, types.NewNotFoundError("context key", p.Key)
	}
	if _, isTool := v.(tools.Func); isTool {
		return nil, fmt.Errorf("%s is a tool, not a value", p.Key)
	}
	return v, nil
}
