package dsl

import (
	"fmt"
	"regexp"
)

var variableRefPattern = regexp.MustCompile(`\$\{\s*([A-Za-z_][A-Za-z0-9_.]*)\s*\}`)

// Validator DSL 验证器
type Validator struct {
	// handlers 非空时同时检查 custom 步骤引用的处理器是否已注册
	handlers *HandlerRegistry
}

// NewValidator 创建验证器
func NewValidator() *Validator {
	return &Validator{}
}

// WithHandlers 启用处理器引用检查
func (v *Validator) WithHandlers(handlers *HandlerRegistry) *Validator {
	v.handlers = handlers
	return v
}

// Validate 验证 DSL 定义，返回全部错误
func (v *Validator) Validate(dsl *WorkflowDSL) []error {
	var errs []error

	// 基础字段验证
	if dsl.Version == "" {
		errs = append(errs, fmt.Errorf("version is required"))
	}
	if dsl.Name == "" {
		errs = append(errs, fmt.Errorf("name is required"))
	}
	if len(dsl.Steps) == 0 {
		errs = append(errs, fmt.Errorf("steps must have at least one step"))
	}

	for name, def := range dsl.Variables {
		switch def.Type {
		case "string", "int", "float", "bool", "list", "map":
		default:
			errs = append(errs, fmt.Errorf("variable %s: invalid type %q", name, def.Type))
		}
	}

	names := make(map[string]bool, len(dsl.Steps))
	for i := range dsl.Steps {
		step := &dsl.Steps[i]
		if step.Name != "" && names[step.Name] {
			errs = append(errs, fmt.Errorf("duplicate step name: %s", step.Name))
		}
		names[step.Name] = true
		errs = append(errs, v.validateStep(step, true)...)
	}

	return errs
}

// validateStep 验证单个步骤
func (v *Validator) validateStep(step *StepDef, topLevel bool) []error {
	var errs []error
	label := step.Name
	if label == "" {
		errs = append(errs, fmt.Errorf("step name is required"))
		label = "<unnamed>"
	}

	if step.When != "" {
		if !topLevel {
			errs = append(errs, fmt.Errorf("step %s: when is only allowed on top-level steps", label))
		} else if _, err := CompileCondition(step.When); err != nil {
			errs = append(errs, fmt.Errorf("step %s: invalid when expression: %w", label, err))
		}
	}

	switch step.Type {
	case "prompt":
		if step.Prompt == "" {
			errs = append(errs, fmt.Errorf("step %s: prompt step requires prompt", label))
		}

	case "agent":
		if step.Prompt == "" {
			errs = append(errs, fmt.Errorf("step %s: agent step requires prompt", label))
		}
		if step.MaxSteps < 0 {
			errs = append(errs, fmt.Errorf("step %s: max_steps must not be negative", label))
		}
		switch step.Fallback {
		case "", "error", "return_partial", "summarize":
		default:
			errs = append(errs, fmt.Errorf("step %s: invalid fallback %q", label, step.Fallback))
		}

	case "custom":
		if step.Handler == "" {
			errs = append(errs, fmt.Errorf("step %s: custom step requires handler", label))
		} else if v.handlers != nil {
			if _, ok := v.handlers.Get(step.Handler); !ok {
				errs = append(errs, fmt.Errorf("step %s: handler %q not registered", label, step.Handler))
			}
		}

	case "parallel":
		if len(step.Steps) == 0 {
			errs = append(errs, fmt.Errorf("step %s: parallel step requires steps", label))
		}
		branches := make(map[string]bool, len(step.Steps))
		for i := range step.Steps {
			sub := &step.Steps[i]
			if sub.Name != "" && branches[sub.Name] {
				errs = append(errs, fmt.Errorf("step %s: duplicate branch %s", label, sub.Name))
			}
			branches[sub.Name] = true
			errs = append(errs, v.validateStep(sub, false)...)
		}

	default:
		errs = append(errs, fmt.Errorf("step %s: invalid type %q", label, step.Type))
	}

	return errs
}

// extractVariableRefs 提取 ${var} 引用
func extractVariableRefs(s string) []string {
	matches := variableRefPattern.FindAllStringSubmatch(s, -1)
	refs := make([]string, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, m[1])
	}
	return refs
}
