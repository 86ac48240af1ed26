// Package openaicompat 提供 OpenAI chat completions 协议的 llm.Provider 实现，
// 适用于 OpenAI 以及兼容该协议的 DeepSeek、Qwen、vLLM、Ollama 等端点。
// 工具 Schema 以 function 形式发送，模型返回的 tool_calls 参数字符串
// 在返回前校验为合法 JSON。
package openaicompat
