package dsl

// WorkflowDSL 工作流 DSL 顶层结构
type WorkflowDSL struct {
	// Version DSL 版本
	Version string `yaml:"version" json:"version"`
	// Name 工作流名称
	Name string `yaml:"name" json:"name"`
	// Description 工作流描述
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Model / Provider 记录在会话元数据中，Model 同时作为默认请求模型
	Model    string   `yaml:"model,omitempty" json:"model,omitempty"`
	Provider string   `yaml:"provider,omitempty" json:"provider,omitempty"`
	Tags     []string `yaml:"tags,omitempty" json:"tags,omitempty"`

	// Variables 全局变量定义，默认值用于提示词插值
	Variables map[string]VariableDef `yaml:"variables,omitempty" json:"variables,omitempty"`

	// Steps 按顺序执行的步骤
	Steps []StepDef `yaml:"steps" json:"steps"`

	// Metadata 元数据，写入 WorkflowMetadata.Extra
	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// VariableDef 变量定义
type VariableDef struct {
	Type        string `yaml:"type" json:"type"`                                   // string, int, float, bool, list, map
	Default     any    `yaml:"default,omitempty" json:"default,omitempty"`         // 默认值
	Description string `yaml:"description,omitempty" json:"description,omitempty"` // 描述
}

// StepDef 步骤定义
type StepDef struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"` // prompt, custom, parallel, agent

	// When 条件表达式，仅顶层步骤可用
	When string `yaml:"when,omitempty" json:"when,omitempty"`

	// prompt / agent，支持 ${variable} 插值
	Prompt       string `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	SystemPrompt string `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	Model        string `yaml:"model,omitempty" json:"model,omitempty"`

	// custom：HandlerRegistry 中注册的名称
	Handler string `yaml:"handler,omitempty" json:"handler,omitempty"`

	// parallel
	Steps []StepDef `yaml:"steps,omitempty" json:"steps,omitempty"`

	// agent
	MaxSteps int    `yaml:"max_steps,omitempty" json:"max_steps,omitempty"`
	Fallback string `yaml:"fallback,omitempty" json:"fallback,omitempty"` // error, return_partial, summarize
}
