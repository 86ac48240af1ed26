package workflow

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/BaSui01/stepflow/workflow"

// MetricsRecorder receives run, step, completion, tool and agent-loop
// measurements. internal/metrics.Collector implements it.
type MetricsRecorder interface {
	RecordWorkflowRun(workflow, status string, duration time.Duration)
	RecordStep(workflow, stepType, status string, duration time.Duration)
	RecordLLMRequest(provider, model, status string, duration time.Duration)
	RecordToolCall(tool, status string)
	RecordAgentRun(workflow string, iterations int, policy string)
}

type nopMetrics struct{}

func (nopMetrics) RecordWorkflowRun(string, string, time.Duration)        {}
func (nopMetrics) RecordStep(string, string, string, time.Duration)       {}
func (nopMetrics) RecordLLMRequest(string, string, string, time.Duration) {}
func (nopMetrics) RecordToolCall(string, string)                          {}
func (nopMetrics) RecordAgentRun(string, int, string)                     {}

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// endSpan records err on span (if any) and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// run 级别信息通过 context 传给执行器，用于指标标签与日志字段。
type runInfoKey struct{}

type runInfo struct {
	workflow  string
	sessionID string
}

func withRunInfo(ctx context.Context, workflow, sessionID string) context.Context {
	return context.WithValue(ctx, runInfoKey{}, runInfo{workflow: workflow, sessionID: sessionID})
}

func runInfoFrom(ctx context.Context) runInfo {
	ri, _ := ctx.Value(runInfoKey{}).(runInfo)
	return ri
}
