package workflow

import (
	"context"
	"fmt"

	"github.com/BaSui01/stepflow/llm/tools"
	"github.com/BaSui01/stepflow/types"
	"go.uber.org/zap"
)

const summarizeInstruction = "You have run out of steps. Summarize the conversation so far and give the best answer you can without calling any tools."

// executeAgent runs the bounded agent loop: call the model, run the tools it
// asks for, repeat until it answers without tool calls or MaxSteps calls
// have been made. The fallback policy decides what an exhausted loop yields.
func (e *StepExecutor) executeAgent(ctx context.Context, step StepDefinition, wfctx map[string]any) (*StepResult, error) {
	msgs, err := e.seedMessages(step, wfctx)
	if err != nil {
		return nil, err
	}

	maxSteps := step.MaxSteps
	if maxSteps <= 0 {
		maxSteps = e.cfg.DefaultMaxSteps
	}
	fallback := step.Fallback
	if fallback == "" {
		fallback = e.cfg.DefaultFallback
	}

	workflowName := runInfoFrom(ctx).workflow
	logger := e.logger.With(zap.String("step", step.Name), zap.Int("max_steps", maxSteps))
	schemas := tools.Schemas(e.registry)
	res := &StepResult{}

	for i := 0; i < maxSteps; i++ {
		msg, err := e.complete(ctx, step, msgs, schemas)
		res.Iterations++
		if err != nil {
			res.Transcript = msgs
			return res, err
		}
		msgs = append(msgs, msg)

		if len(msg.ToolCalls) == 0 {
			logger.Debug("agent finished", zap.Int("iterations", res.Iterations))
			e.metrics.RecordAgentRun(workflowName, res.Iterations, "")
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

	logger.Info("agent step budget exhausted", zap.String("fallback", string(fallback)))
	e.metrics.RecordAgentRun(workflowName, res.Iterations, string(fallback))

	switch fallback {
	case FallbackReturnPartial:
		res.Value = fmt.Sprintf("Partial result after %d steps; transcript has %d entries", maxSteps, len(msgs))
		res.Transcript = msgs
		return res, nil

	case FallbackSummarize:
		msgs = append(msgs, types.NewUserMessage(summarizeInstruction))
		msg, err := e.complete(ctx, step, msgs, nil)
		res.Iterations++
		if err != nil {
			res.Transcript = msgs
			return res, err
		}
		msgs = append(msgs, msg)
		res.Value = msg.Content
		res.Transcript = msgs
		return res, nil

	default:
		res.Transcript = msgs
		return res, types.NewAgentBoundError(step.Name, maxSteps)
	}
}
