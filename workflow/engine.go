package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/stepflow/llm/tools"
	"github.com/BaSui01/stepflow/types"
	"github.com/BaSui01/stepflow/workflow/state"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Engine runs a Definition step by step, persisting progress through a
// state.Manager. Steps run strictly in definition order and the first
// failure aborts the run.
type Engine struct {
	def      *Definition
	manager  *state.Manager
	executor *StepExecutor
	metrics  MetricsRecorder
	logger   *zap.Logger

	sessionID  string
	resumeFrom string

	// runMu serializes Execute; sessionMu guards session only, so event
	// subscribers may call Session while a run is in progress.
	runMu     sync.Mutex
	sessionMu sync.Mutex
	session   *state.Session
}

// EngineOption 引擎选项
type EngineOption func(*Engine)

// WithLogger 设置日志记录器
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics 设置指标记录器
func WithMetrics(m MetricsRecorder) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithSessionID fixes the id of the session the engine opens.
func WithSessionID(id string) EngineOption {
	return func(e *Engine) { e.sessionID = id }
}

// WithResume makes the engine open its session from a previous one: steps
// that completed there are skipped and its context is carried over.
func WithResume(fromSessionID string) EngineOption {
	return func(e *Engine) { e.resumeFrom = fromSessionID }
}

// WithSession attaches an already open session.
func WithSession(s *state.Session) EngineOption {
	return func(e *Engine) { e.session = s }
}

// NewEngine validates def and creates an engine for it.
func NewEngine(def *Definition, manager *state.Manager, executor *StepExecutor, opts ...EngineOption) (*Engine, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if manager == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "state manager is required")
	}
	if executor == nil {
		executor = NewStepExecutor(nil, nil)
	}

	e := &Engine{
		def:      def,
		manager:  manager,
		executor: executor,
		metrics:  nopMetrics{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(
		zap.String("component", "workflow_engine"),
		zap.String("workflow", def.Name))
	return e, nil
}

// Definition returns the workflow the engine runs.
func (e *Engine) Definition() *Definition { return e.def }

// Session returns the engine's session, or nil before the first Execute.
func (e *Engine) Session() *state.Session {
	e.sessionMu.Lock()
	defer e.sessionMu.Unlock()
	return e.session
}

func (e *Engine) setSession(s *state.Session) {
	e.sessionMu.Lock()
	e.session = s
	e.sessionMu.Unlock()
}

// Execute runs the workflow once with input as the initial context and
// returns the final context.
func (e *Engine) Execute(ctx context.Context, input map[string]any) (result map[string]any, err error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	start := time.Now()
	ctx, span := tracer().Start(ctx, "stepflow.workflow",
		trace.WithAttributes(
			attribute.String("workflow.name", e.def.Name),
			attribute.Int("workflow.steps", len(e.def.Steps)),
		))
	defer func() {
		status := string(state.WorkflowCompleted)
		if err != nil {
			status = string(state.WorkflowFailed)
		}
		e.metrics.RecordWorkflowRun(e.def.Name, status, time.Since(start))
		endSpan(span, err)
	}()

	wfctx, err := e.openSession(ctx, input)
	if err != nil {
		return nil, err
	}
	s := e.Session()
	span.SetAttributes(attribute.String("session.id", s.ID()))
	ctx = withRunInfo(ctx, e.def.Name, s.ID())
	logger := e.logger.With(zap.String("session_id", s.ID()))

	current, err := e.manager.UpdateWorkflow(ctx, s, state.WorkflowUpdate{Status: ptr(state.WorkflowRunning)})
	if err != nil {
		return nil, err
	}

	e.injectTools(wfctx)

	logger.Info("workflow started", zap.Int("steps", len(e.def.Steps)))

	for i, step := range e.def.Steps {
		if e.alreadyCompleted(current, i, step.Name) {
			logger.Info("step already completed, skipping", zap.String("step", step.Name))
			e.metrics.RecordStep(e.def.Name, string(step.Type), string(state.StepSkipped), 0)
			continue
		}

		stepID := state.StepID(step.Name, i)
		stepStart := time.Now()

		if step.When != nil {
			run, condErr := step.When(persistable(wfctx))
			if condErr != nil {
				e.metrics.RecordStep(e.def.Name, string(step.Type), string(state.StepFailed), time.Since(stepStart))
				return nil, e.failStep(ctx, s, logger, stepID, step, nil,
					types.NewError(types.ErrExecution, "evaluate step condition").WithCause(condErr))
			}
			if !run {
				if _, err := e.manager.UpdateStep(ctx, s, stepID, state.StepUpdate{
					Status:      ptr(state.StepSkipped),
					CompletedAt: &stepStart,
				}); err != nil {
					return nil, err
				}
				logger.Info("step condition false, skipping", zap.String("step", step.Name))
				e.metrics.RecordStep(e.def.Name, string(step.Type), string(state.StepSkipped), 0)
				continue
			}
		}

		if _, err := e.manager.UpdateStep(ctx, s, stepID, state.StepUpdate{
			Status:    ptr(state.StepRunning),
			StartedAt: &stepStart,
		}); err != nil {
			return nil, err
		}

		res, stepErr := e.executor.Execute(ctx, step, wfctx)
		if stepErr != nil {
			e.metrics.RecordStep(e.def.Name, string(step.Type), string(state.StepFailed), time.Since(stepStart))
			return nil, e.failStep(ctx, s, logger, stepID, step, res, stepErr)
		}

		mergeResult(wfctx, step, res.Value)

		if len(res.Transcript) > 0 {
			if _, err := e.manager.UpdateStep(ctx, s, stepID, state.StepUpdate{
				Transcript: res.Transcript,
				Metadata:   map[string]any{"iterations": res.Iterations},
			}); err != nil {
				return nil, err
			}
		}
		if current, err = e.manager.SaveStep(ctx, s, step.Name, res.Value, persistable(wfctx)); err != nil {
			return nil, err
		}

		e.metrics.RecordStep(e.def.Name, string(step.Type), string(state.StepCompleted), time.Since(stepStart))
		logger.Debug("step completed",
			zap.String("step", step.Name),
			zap.Duration("duration", time.Since(stepStart)))
	}

	done := time.Now()
	if _, err := e.manager.UpdateWorkflow(ctx, s, state.WorkflowUpdate{
		Status:      ptr(state.WorkflowCompleted),
		CompletedAt: &done,
	}); err != nil {
		return nil, err
	}

	logger.Info("workflow completed", zap.Duration("duration", time.Since(start)))
	return persistable(wfctx), nil
}

// openSession creates, resumes or reuses the engine's session and returns
// the context the run starts from. Caller holds e.runMu.
func (e *Engine) openSession(ctx context.Context, input map[string]any) (map[string]any, error) {
	wfctx := shallowCopy(input)
	if e.Session() != nil {
		return wfctx, nil
	}

	opts := state.InitOptions{
		SessionID: e.sessionID,
		Context:   persistable(wfctx),
		Tags:      e.def.Tags,
	}

	if e.resumeFrom != "" {
		s, err := e.manager.ResumeSession(ctx, e.resumeFrom, e.def.SessionDefinition(), opts)
		if err != nil {
			return nil, err
		}
		st, err := e.manager.GetState(s)
		if err != nil {
			return nil, err
		}
		e.setSession(s)
		return st.Context, nil
	}

	s, err := e.manager.InitializeSession(ctx, e.def.SessionDefinition(), opts)
	if err != nil {
		return nil, err
	}
	e.setSession(s)
	return wfctx, nil
}

// injectTools exposes every registered tool to custom handlers under the
// tool's name.
func (e *Engine) injectTools(wfctx map[string]any) {
	reg := e.executor.Registry()
	if reg == nil {
		return
	}
	for _, t := range reg.List() {
		wfctx[t.Schema().Name] = tools.AsFunc(t)
	}
}

func (e *Engine) alreadyCompleted(st *state.WorkflowState, index int, name string) bool {
	if e.resumeFrom == "" || st == nil || index >= len(st.Steps) {
		return false
	}
	step := st.Steps[index]
	return step.Name == name && step.Status == state.StepCompleted
}

// failStep records the failure on the step and the workflow, then returns
// the error wrapped with the step name.
func (e *Engine) failStep(ctx context.Context, s *state.Session, logger *zap.Logger, stepID string, step StepDefinition, res *StepResult, cause error) error {
	wrapped := types.NewExecutionError(step.Name, cause)
	msg := cause.Error()
	now := time.Now()

	upd := state.StepUpdate{
		Status:      ptr(state.StepFailed),
		CompletedAt: &now,
		Error:       &msg,
	}
	if res != nil && len(res.Transcript) > 0 {
		upd.Transcript = res.Transcript
	}
	if _, err := e.manager.UpdateStep(ctx, s, stepID, upd); err != nil {
		logger.Error("failed to record step failure", zap.String("step", step.Name), zap.Error(err))
	}

	wfErr := wrapped.Error()
	if _, err := e.manager.UpdateWorkflow(ctx, s, state.WorkflowUpdate{
		Status:      ptr(state.WorkflowFailed),
		CompletedAt: &now,
		Error:       &wfErr,
	}); err != nil {
		logger.Error("failed to record workflow failure", zap.Error(err))
	}

	logger.Error("workflow failed",
		zap.String("step", step.Name),
		zap.String("step_type", string(step.Type)),
		zap.Error(cause))
	return wrapped
}

// mergeResult stores a step result in the context. A parallel step's map
// is splatted so its branch names become top-level keys.
func mergeResult(wfctx map[string]any, step StepDefinition, value any) {
	if step.Type == StepTypeParallel {
		if m, ok := value.(map[string]any); ok {
			for k, v := range m {
				wfctx[k] = v
			}
			return
		}
	}
	wfctx[step.Name] = value
}

// persistable returns a copy of wfctx without injected tool functions.
func persistable(wfctx map[string]any) map[string]any {
	out := make(map[string]any, len(wfctx))
	for k, v := range wfctx {
		if _, ok := v.(tools.Func); ok {
			continue
		}
		out[k] = v
	}
	return out
}

func ptr[T any](v T) *T { return &v }

// String 便于日志输出
func (e *Engine) String() string {
	return fmt.Sprintf("Engine(%s, %d steps)", e.def.Name, len(e.def.Steps))
}
