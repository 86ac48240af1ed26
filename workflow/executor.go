package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/stepflow/llm"
	"github.com/BaSui01/stepflow/llm/tools"
	"github.com/BaSui01/stepflow/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ExecutorConfig 步骤执行器配置
type ExecutorConfig struct {
	// Model 请求使用的默认模型，StepDefinition.Model 优先
	Model string `yaml:"model" json:"model"`
	// MaxToolRounds caps the tool-call rounds of one prompt step.
	MaxToolRounds int `yaml:"max_tool_rounds" json:"max_tool_rounds"`
	// DefaultMaxSteps applies to agent steps with MaxSteps == 0.
	DefaultMaxSteps int `yaml:"default_max_steps" json:"default_max_steps"`
	// DefaultFallback applies to agent steps without a fallback.
	DefaultFallback FallbackPolicy `yaml:"default_fallback" json:"default_fallback"`
	Temperature     float32        `yaml:"temperature" json:"temperature"`
	MaxTokens       int            `yaml:"max_tokens" json:"max_tokens"`
}

// DefaultExecutorConfig 返回默认执行器配置
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxToolRounds:   25,
		DefaultMaxSteps: 10,
		DefaultFallback: FallbackError,
	}
}

// StepResult 步骤执行结果
type StepResult struct {
	Value any
	// Transcript is the conversation of prompt and agent steps.
	Transcript []types.Message
	// Iterations counts completion calls made by the step.
	Iterations int
}

// StepExecutor runs one step according to its type. It holds no per-run
// state and can be shared by engines and goroutines.
type StepExecutor struct {
	provider llm.Provider
	registry tools.Registry
	cfg      ExecutorConfig
	metrics  MetricsRecorder
	logger   *zap.Logger
}

// ExecutorOption 执行器选项
type ExecutorOption func(*StepExecutor)

// WithExecutorConfig 设置执行器配置，零值字段使用默认值
func WithExecutorConfig(cfg ExecutorConfig) ExecutorOption {
	return func(e *StepExecutor) {
		def := DefaultExecutorConfig()
		if cfg.MaxToolRounds <= 0 {
			cfg.MaxToolRounds = def.MaxToolRounds
		}
		if cfg.DefaultMaxSteps <= 0 {
			cfg.DefaultMaxSteps = def.DefaultMaxSteps
		}
		if cfg.DefaultFallback == "" {
			cfg.DefaultFallback = def.DefaultFallback
		}
		e.cfg = cfg
	}
}

// WithExecutorLogger 设置日志记录器
func WithExecutorLogger(logger *zap.Logger) ExecutorOption {
	return func(e *StepExecutor) {
		if logger != nil {
			e.logger = logger.With(zap.String("component", "step_executor"))
		}
	}
}

// WithExecutorMetrics 设置指标记录器
func WithExecutorMetrics(m MetricsRecorder) ExecutorOption {
	return func(e *StepExecutor) {
		if m != nil {
			e.metrics = m
		}
	}
}

// NewStepExecutor creates an executor. provider may be nil when the
// workflow has no prompt or agent steps; registry may be nil when no tools
// are offered.
func NewStepExecutor(provider llm.Provider, registry tools.Registry, opts ...ExecutorOption) *StepExecutor {
	e := &StepExecutor{
		provider: provider,
		registry: registry,
		cfg:      DefaultExecutorConfig(),
		metrics:  nopMetrics{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the tool registry offered to steps (may be nil).
func (e *StepExecutor) Registry() tools.Registry { return e.registry }

// Config returns the executor configuration.
func (e *StepExecutor) Config() ExecutorConfig { return e.cfg }

// Execute dispatches step by type. On failure the returned result may still
// carry the transcript collected so far.
func (e *StepExecutor) Execute(ctx context.Context, step StepDefinition, wfctx map[string]any) (*StepResult, error) {
	ctx, span := tracer().Start(ctx, "stepflow.step",
		trace.WithAttributes(
			attribute.String("step.name", step.Name),
			attribute.String("step.type", string(step.Type)),
		))

	var (
		res *StepResult
		err error
	)
	switch step.Type {
	case StepTypePrompt:
		res, err = e.executePrompt(ctx, step, wfctx)
	case StepTypeCustom:
		res, err = e.executeCustom(ctx, step, wfctx)
	case StepTypeParallel:
		res, err = e.executeParallel(ctx, step, wfctx)
	case StepTypeAgent:
		res, err = e.executeAgent(ctx, step, wfctx)
	default:
		err = types.NewError(types.ErrInvalidWorkflow, fmt.Sprintf("unknown step type %q", step.Type)).WithStep(step.Name)
	}
	endSpan(span, err)
	return res, err
}

// ============================================================
// prompt
// ============================================================

func (e *StepExecutor) executePrompt(ctx context.Context, step StepDefinition, wfctx map[string]any) (*StepResult, error) {
	msgs, err := e.seedMessages(step, wfctx)
	if err != nil {
		return nil, err
	}
	res := &StepResult{}
	schemas := tools.Schemas(e.registry)

	for round := 0; round < e.cfg.MaxToolRounds; round++ {
		msg, err := e.complete(ctx, step, msgs, schemas)
		res.Iterations++
		if err != nil {
			res.Transcript = msgs
			return res, err
		}
		msgs = append(msgs, msg)
		if len(msg.ToolCalls) == 0 {
			res.Value = msg.Content
			res.Transcript = msgs
			return res, nil
		}
		toolMsgs, err := e.runToolCalls(ctx, msg.ToolCalls, wfctx)
		msgs = append(msgs, toolMsgs...)
		if err != nil {
			res.Transcript = msgs
			return res, err
		}
	}

	res.Transcript = msgs
	return res, types.NewError(types.ErrExecution,
		fmt.Sprintf("prompt step %q still requesting tools after %d rounds", step.Name, e.cfg.MaxToolRounds)).
		WithStep(step.Name)
}

// ============================================================
// custom
// ============================================================

func (e *StepExecutor) executeCustom(ctx context.Context, step StepDefinition, wfctx map[string]any) (res *StepResult, err error) {
	if step.Handler == nil {
		return nil, types.NewError(types.ErrInvalidWorkflow, fmt.Sprintf("custom step %q has no handler", step.Name)).WithStep(step.Name)
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("custom step handler panicked",
				zap.String("step", step.Name),
				zap.Any("panic", r))
			res = nil
			err = types.NewError(types.ErrExecution, fmt.Sprintf("handler panic: %v", r)).WithStep(step.Name)
		}
	}()

	out, err := step.Handler(ctx, shallowCopy(wfctx))
	if err != nil {
		return nil, err
	}
	return &StepResult{Value: out}, nil
}

// ============================================================
// parallel
// ============================================================

// executeParallel runs every branch against its own shallow copy of wfctx.
// The first failing branch cancels the shared context; every branch is
// still awaited before returning and the results of the others are dropped.
func (e *StepExecutor) executeParallel(ctx context.Context, step StepDefinition, wfctx map[string]any) (*StepResult, error) {
	g, gctx := errgroup.WithContext(ctx)
	values := make([]any, len(step.Steps))

	for i, branch := range step.Steps {
		i, branch := i, branch
		branchCtx := shallowCopy(wfctx)
		g.Go(func() error {
			res, err := e.Execute(gctx, branch, branchCtx)
			if err != nil {
				return types.NewError(types.ErrExecution, fmt.Sprintf("parallel branch %q failed", branch.Name)).
					WithStep(branch.Name).
					WithCause(err)
			}
			values[i] = res.Value
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		e.logger.Warn("parallel step failed",
			zap.String("step", step.Name),
			zap.Error(err))
		return nil, err
	}

	out := make(map[string]any, len(step.Steps))
	for i, branch := range step.Steps {
		out[branch.Name] = values[i]
	}
	return &StepResult{Value: out}, nil
}

// ============================================================
// shared helpers
// ============================================================

func (e *StepExecutor) seedMessages(step StepDefinition, wfctx map[string]any) ([]types.Message, error) {
	if step.Prompt == nil {
		return nil, types.NewError(types.ErrInvalidWorkflow, fmt.Sprintf("step %q has no prompt", step.Name)).WithStep(step.Name)
	}
	text, err := step.Prompt.Render(shallowCopy(wfctx))
	if err != nil {
		return nil, types.NewError(types.ErrExecution, "render prompt").WithStep(step.Name).WithCause(err)
	}
	msgs := make([]types.Message, 0, 4)
	if step.SystemPrompt != "" {
		msgs = append(msgs, types.NewSystemMessage(step.SystemPrompt))
	}
	return append(msgs, types.NewUserMessage(text)), nil
}

// complete issues one completion call and returns the assistant message.
func (e *StepExecutor) complete(ctx context.Context, step StepDefinition, msgs []types.Message, schemas []types.ToolSchema) (types.Message, error) {
	if e.provider == nil {
		return types.Message{}, types.NewError(types.ErrProviderNotSet, "no completion provider configured").WithStep(step.Name)
	}
	model := step.Model
	if model == "" {
		model = e.cfg.Model
	}
	req := &llm.ChatRequest{
		Model:       model,
		Messages:    types.CloneMessages(msgs),
		Tools:       schemas,
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	}
	if ri := runInfoFrom(ctx); ri.sessionID != "" {
		req.TraceID = ri.sessionID
		req.Tags = []string{ri.workflow, step.Name}
	}

	start := time.Now()
	resp, err := e.provider.Completion(ctx, req)
	if err == nil {
		var choice llm.ChatChoice
		choice, err = llm.FirstChoice(resp)
		if err == nil {
			e.metrics.RecordLLMRequest(e.provider.Name(), model, "success", time.Since(start))
			msg := choice.Message
			if msg.Role == "" {
				msg.Role = types.RoleAssistant
			}
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			return msg, nil
		}
	}
	e.metrics.RecordLLMRequest(e.provider.Name(), model, "error", time.Since(start))
	return types.Message{}, types.NewError(types.ErrUpstreamError, "completion failed").WithStep(step.Name).WithCause(err)
}

// runToolCalls executes calls one after another, in the order requested,
// and returns one tool message per call. The first failing call stops the
// sequence.
func (e *StepExecutor) runToolCalls(ctx context.Context, calls []types.ToolCall, wfctx map[string]any) ([]types.Message, error) {
	out := make([]types.Message, 0, len(calls))
	toolCtx := tools.WithWorkflowContext(ctx, wfctx)

	for _, call := range calls {
		var tool tools.Tool
		ok := false
		if e.registry != nil {
			tool, ok = e.registry.Get(call.Name)
		}
		if !ok {
			e.metrics.RecordToolCall(call.Name, "not_found")
			return out, types.NewError(types.ErrToolNotFound, fmt.Sprintf("tool not found: %s", call.Name))
		}

		tr := types.ToolResult{ToolCallID: call.ID, Name: call.Name}
		start := time.Now()
		result, err := tool.Invoke(toolCtx, call.Arguments)
		tr.Duration = time.Since(start)
		e.metrics.RecordToolCall(call.Name, statusLabel(err))
		if err == nil {
			tr.Content, err = toolContent(result)
			if err != nil {
				err = fmt.Errorf("encode result: %w", err)
			}
		}
		if err != nil {
			tr.Error = err.Error()
			e.logger.Warn("tool call failed",
				zap.String("tool", call.Name),
				zap.String("call_id", call.ID),
				zap.Duration("duration", tr.Duration),
				zap.Error(err))
			return out, types.NewError(types.ErrExecution, fmt.Sprintf("tool %q failed", call.Name)).WithCause(err)
		}

		e.logger.Debug("tool call completed",
			zap.String("tool", call.Name),
			zap.String("call_id", call.ID),
			zap.Duration("duration", tr.Duration))
		out = append(out, tr.ToMessage())
	}
	return out, nil
}

func toolContent(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case json.RawMessage:
		return string(t), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func shallowCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
