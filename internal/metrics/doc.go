// 版权所有 2024 StepFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的内部指标采集能力。

# 概述

Collector 覆盖工作流执行、步骤耗时、补全请求、工具调用、Agent 迭代与降级、
以及状态存储（保存、快照、压缩）等指标。Collector 同时实现
workflow/state.Recorder，可直接注入 state.Store。

# 使用方式

	collector := metrics.NewCollector("stepflow", logger)
	store := state.NewStore(repo, cfg, state.WithRecorder(collector))
	engine, err := workflow.NewEngine(def, manager, executor, workflow.WithMetrics(collector))
*/
package metrics
