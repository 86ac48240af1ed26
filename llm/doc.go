// 版权所有 2024 StepFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 定义工作流引擎消费的补全客户端契约。

# 概述

引擎本身不实现任何模型服务商的接入，只依赖 [Provider] 的
Completion 能力：传入当前对话消息与全部已注册工具的 Schema，
得到 content 或一组 ToolCalls。流式输出不是核心需求，因此接口中不包含。

# 核心类型

  - [Provider]：补全客户端接口（Completion / Name）
  - [ProviderFunc]：函数适配器，便于测试与轻量集成
  - [ChatRequest] / [ChatResponse] / [ChatChoice]：请求与响应模型
  - [Message] / [ToolCall] / [ToolSchema]：types 包中对话类型的别名

# 子包

  - llm/tools：工具注册中心，以及把工作流上下文传递给工具的辅助函数
  - llm/openaicompat：OpenAI chat completions 协议的 HTTP 实现
  - llm/retry：上游可重试错误的指数退避重试
*/
package llm
