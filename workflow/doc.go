// Copyright (c) StepFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供声明式多步骤工作流的执行引擎。

# 概述

一个 Definition 是有序的步骤列表加上模型、Provider、标签等元数据。
Engine 依次执行步骤，每一步的结果写入工作流上下文，并通过
workflow/state.Manager 持久化到事件溯源的状态存储，失败时立即终止，
已完成步骤的状态保留在磁盘上以便检查或恢复。

# 步骤类型

  - prompt  : 渲染模板，调用补全客户端；模型请求工具时按顺序执行并继续对话
  - custom  : 调用 HandlerFunc，结果原样返回
  - parallel: 子步骤在各自的上下文浅拷贝上并发执行（errgroup），
    结果按子步骤名合并并平铺到上下文顶层；任一分支失败即取消其余分支
  - agent   : 有界 Agent 循环，预算耗尽后按 FallbackPolicy 处理：
    error / return_partial / summarize

# 核心类型

  - Definition / StepDefinition: 工作流与步骤定义
  - Template                   : 提示词模板（StaticPrompt / PromptFunc）
  - StepExecutor               : 按类型分派的步骤执行器
  - Engine                     : 顺序执行、持久化、恢复（WithResume）
  - MetricsRecorder            : 指标上报接口，由 internal/metrics.Collector 实现

# 可观测性

Engine 与 StepExecutor 为每次运行、每个步骤创建 OpenTelemetry span，
并通过 MetricsRecorder 上报运行、步骤、补全请求、工具调用与 Agent 降级指标。
*/
package workflow
