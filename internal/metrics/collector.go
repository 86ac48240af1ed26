// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 工作流指标
	workflowRunsTotal   *prometheus.CounterVec
	workflowRunDuration *prometheus.HistogramVec

	// 步骤指标
	stepExecutionsTotal *prometheus.CounterVec
	stepDuration        *prometheus.HistogramVec

	// LLM 与工具指标
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	toolCallsTotal     *prometheus.CounterVec

	// Agent 指标
	agentIterations *prometheus.HistogramVec
	agentFallbacks  *prometheus.CounterVec

	// 状态存储指标
	stateSavesTotal       *prometheus.CounterVec
	stateSnapshotsTotal   *prometheus.CounterVec
	stateCompactionsTotal *prometheus.CounterVec
	stateEventsDiscarded  *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，注册到 prometheus 默认注册表
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegisterer(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegisterer 创建指标收集器，注册到指定注册表
func NewCollectorWithRegisterer(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 工作流指标
	c.workflowRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Total number of workflow runs",
		},
		[]string{"workflow", "status"},
	)

	c.workflowRunDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_run_duration_seconds",
			Help:      "Workflow run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"workflow"},
	)

	// 步骤指标
	c.stepExecutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_executions_total",
			Help:      "Total number of step executions",
		},
		[]string{"workflow", "type", "status"},
	)

	c.stepDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"workflow", "type"},
	)

	// LLM 与工具指标
	c.llmRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of completion requests issued by steps",
		},
		[]string{"provider", "model", "status"},
	)

	c.llmRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Completion request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	c.toolCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls executed by steps",
		},
		[]string{"tool", "status"},
	)

	// Agent 指标
	c.agentIterations = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_iterations",
			Help:      "Completion calls made by one agent step",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34},
		},
		[]string{"workflow"},
	)

	c.agentFallbacks = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_fallbacks_total",
			Help:      "Agent steps that exhausted their step budget, by fallback policy",
		},
		[]string{"workflow", "policy"},
	)

	// 状态存储指标
	c.stateSavesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_saves_total",
			Help:      "Total number of persisted state mutations",
		},
		[]string{"workflow"},
	)

	c.stateSnapshotsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_snapshots_total",
			Help:      "Total number of state snapshots written",
		},
		[]string{"workflow"},
	)

	c.stateCompactionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_compactions_total",
			Help:      "Total number of in-memory event compactions",
		},
		[]string{"workflow"},
	)

	c.stateEventsDiscarded = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_events_discarded_total",
			Help:      "Total number of in-memory state events discarded by compaction",
		},
		[]string{"workflow"},
	)

	c.logger.Debug("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🔄 工作流指标记录
// =============================================================================

// RecordWorkflowRun 记录一次工作流执行
func (c *Collector) RecordWorkflowRun(workflow, status string, duration time.Duration) {
	c.workflowRunsTotal.WithLabelValues(workflow, status).Inc()
	c.workflowRunDuration.WithLabelValues(workflow).Observe(duration.Seconds())
}

// RecordStep 记录一次步骤执行
func (c *Collector) RecordStep(workflow, stepType, status string, duration time.Duration) {
	c.stepExecutionsTotal.WithLabelValues(workflow, stepType, status).Inc()
	c.stepDuration.WithLabelValues(workflow, stepType).Observe(duration.Seconds())
}

// =============================================================================
// 🤖 LLM / 工具 / Agent 指标记录
// =============================================================================

// RecordLLMRequest 记录补全请求
func (c *Collector) RecordLLMRequest(provider, model, status string, duration time.Duration) {
	c.llmRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.llmRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// RecordToolCall 记录工具调用
func (c *Collector) RecordToolCall(tool, status string) {
	c.toolCallsTotal.WithLabelValues(tool, status).Inc()
}

// RecordAgentRun 记录 Agent 步骤的迭代次数；policy 非空表示触发了预算耗尽降级
func (c *Collector) RecordAgentRun(workflow string, iterations int, policy string) {
	c.agentIterations.WithLabelValues(workflow).Observe(float64(iterations))
	if policy != "" {
		c.agentFallbacks.WithLabelValues(workflow, policy).Inc()
	}
}

// =============================================================================
// 💾 状态存储指标记录（实现 state.Recorder）
// =============================================================================

// RecordStateSave 记录状态保存
func (c *Collector) RecordStateSave(workflow string) {
	c.stateSavesTotal.WithLabelValues(workflow).Inc()
}

// RecordSnapshot 记录快照写入
func (c *Collector) RecordSnapshot(workflow string) {
	c.stateSnapshotsTotal.WithLabelValues(workflow).Inc()
}

// RecordCompaction 记录事件压缩
func (c *Collector) RecordCompaction(workflow string, discarded int) {
	c.stateCompactionsTotal.WithLabelValues(workflow).Inc()
	c.stateEventsDiscarded.WithLabelValues(workflow).Add(float64(discarded))
}
