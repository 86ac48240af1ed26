// Package dsl 提供 YAML 声明式工作流定义，
// 支持 prompt / custom / parallel / agent 四类步骤、${variable} 插值
// 与 when 条件表达式，custom 步骤的处理器按名称从 HandlerRegistry 解析，
// 最终构建为 workflow.Definition。
package dsl
