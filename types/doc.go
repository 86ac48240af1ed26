// Copyright (c) StepFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 StepFlow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、workflow、
workflow/state 等上层模块提供统一的类型契约，以避免循环依赖。

# 核心类型

  - Message          : 对话消息（Role、Content、ToolCalls）
  - ToolCall         : 模型请求的工具调用
  - ToolSchema       : 工具定义（name + description + JSON Schema parameters）
  - ToolResult       : 工具执行结果
  - Error / ErrorCode: 结构化错误体系（NOT_FOUND、EXECUTION_ERROR、
    AGENT_BOUND、PERSISTENCE_ERROR 等）

# 错误工具链

  - NewError / WithCause / WithStep
  - IsCode / GetErrorCode（基于 errors.As，可穿透 fmt.Errorf 包装）
  - NewNotFoundError / NewExecutionError / NewAgentBoundError / NewPersistenceError
*/
package types
