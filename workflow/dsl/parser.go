package dsl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/BaSui01/stepflow/types"
	"github.com/BaSui01/stepflow/workflow"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// 处理器注册表
// =============================================================================

// HandlerRegistry resolves the handler names used by custom steps.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]workflow.HandlerFunc
}

// NewHandlerRegistry 创建处理器注册表
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]workflow.HandlerFunc)}
}

// Register 注册处理器，同名覆盖
func (r *HandlerRegistry) Register(name string, fn workflow.HandlerFunc) error {
	if name == "" {
		return fmt.Errorf("handler name is required")
	}
	if fn == nil {
		return fmt.Errorf("handler %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
	return nil
}

// Get 获取处理器
func (r *HandlerRegistry) Get(name string) (workflow.HandlerFunc, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[name]
	return fn, ok
}

// Names 返回已注册的处理器名称（排序）
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// =============================================================================
// 解析器
// =============================================================================

// Parser DSL 解析器
type Parser struct {
	handlers *HandlerRegistry
}

// NewParser 创建 DSL 解析器；handlers 为 nil 时含 custom 步骤的工作流无法解析
func NewParser(handlers *HandlerRegistry) *Parser {
	if handlers == nil {
		handlers = NewHandlerRegistry()
	}
	return &Parser{handlers: handlers}
}

// Handlers 返回处理器注册表
func (p *Parser) Handlers() *HandlerRegistry { return p.handlers }

// ParseFile 从文件解析 DSL
func (p *Parser) ParseFile(filename string) (*workflow.Definition, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read DSL file: %w", err)
	}
	return p.Parse(data)
}

// Parse 从 YAML 字节解析 DSL 并构建 workflow.Definition
func (p *Parser) Parse(data []byte) (*workflow.Definition, error) {
	doc, err := decode(data)
	if err != nil {
		return nil, err
	}

	// 1. 验证 DSL（含处理器引用）
	if err := validate(NewValidator().WithHandlers(p.handlers), doc); err != nil {
		return nil, err
	}

	// 2. 解析变量默认值，作为插值兜底
	defaults := resolveVariables(doc.Variables)

	// 3. 构建步骤
	steps := make([]workflow.StepDefinition, 0, len(doc.Steps))
	for i := range doc.Steps {
		step, err := p.buildStep(&doc.Steps[i], defaults)
		if err != nil {
			return nil, fmt.Errorf("build step %s: %w", doc.Steps[i].Name, err)
		}
		steps = append(steps, step)
	}

	def := &workflow.Definition{
		Name:        doc.Name,
		Description: doc.Description,
		Steps:       steps,
		Model:       doc.Model,
		Provider:    doc.Provider,
		Tags:        append([]string(nil), doc.Tags...),
		Extra:       doc.Metadata,
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// Load decodes and validates a workflow file without resolving handlers.
func Load(data []byte) (*WorkflowDSL, error) {
	doc, err := decode(data)
	if err != nil {
		return nil, err
	}
	if err := validate(NewValidator(), doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// LoadFile 从文件加载并验证 DSL
func LoadFile(filename string) (*WorkflowDSL, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read DSL file: %w", err)
	}
	return Load(data)
}

// Lint reports prompt references that resolve neither to a declared
// variable nor to the result of an earlier step. They are not errors: the
// value may arrive through the run input.
func Lint(doc *WorkflowDSL) []string {
	var warnings []string
	known := make(map[string]bool, len(doc.Variables)+len(doc.Steps))
	for name := range doc.Variables {
		known[name] = true
	}

	var check func(step *StepDef)
	check = func(step *StepDef) {
		for _, ref := range extractVariableRefs(step.Prompt) {
			root := strings.SplitN(ref, ".", 2)[0]
			if !known[root] {
				warnings = append(warnings, fmt.Sprintf("step %s: ${%s} is not a variable or an earlier step result", step.Name, ref))
			}
		}
		for i := range step.Steps {
			check(&step.Steps[i])
		}
	}

	for i := range doc.Steps {
		check(&doc.Steps[i])
		known[doc.Steps[i].Name] = true
		if doc.Steps[i].Type == "parallel" {
			for _, sub := range doc.Steps[i].Steps {
				known[sub.Name] = true
			}
		}
	}
	return warnings
}

func decode(data []byte) (*WorkflowDSL, error) {
	var doc WorkflowDSL
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, types.NewError(types.ErrInvalidWorkflow, "parse YAML").WithCause(err)
	}
	return &doc, nil
}

func validate(v *Validator, doc *WorkflowDSL) error {
	errs := v.Validate(doc)
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return types.NewError(types.ErrInvalidWorkflow, "validation errors: "+strings.Join(msgs, "; "))
}

// resolveVariables 解析变量默认值
func resolveVariables(varDefs map[string]VariableDef) map[string]any {
	vars := make(map[string]any)
	for name, def := range varDefs {
		if def.Default != nil {
			vars[name] = def.Default
		}
	}
	return vars
}

// buildStep 从 DSL 构建单个步骤
func (p *Parser) buildStep(def *StepDef, defaults map[string]any) (workflow.StepDefinition, error) {
	step := workflow.StepDefinition{
		Name:         def.Name,
		Type:         workflow.StepType(def.Type),
		SystemPrompt: def.SystemPrompt,
		Model:        def.Model,
		MaxSteps:     def.MaxSteps,
		Fallback:     workflow.FallbackPolicy(def.Fallback),
	}

	if def.When != "" {
		cond, err := CompileCondition(def.When)
		if err != nil {
			return step, err
		}
		step.When = cond.Eval
	}

	switch step.Type {
	case workflow.StepTypePrompt, workflow.StepTypeAgent:
		step.Prompt = interpolatedPrompt{text: def.Prompt, defaults: defaults}

	case workflow.StepTypeCustom:
		fn, ok := p.handlers.Get(def.Handler)
		if !ok {
			return step, fmt.Errorf("handler %q not registered", def.Handler)
		}
		step.Handler = fn

	case workflow.StepTypeParallel:
		for i := range def.Steps {
			sub, err := p.buildStep(&def.Steps[i], defaults)
			if err != nil {
				return step, fmt.Errorf("build branch %s: %w", def.Steps[i].Name, err)
			}
			step.Steps = append(step.Steps, sub)
		}
	}
	return step, nil
}

// =============================================================================
// 提示词插值
// =============================================================================

// interpolatedPrompt replaces ${path} with the value at path in the
// workflow context, falling back to the variable defaults.
type interpolatedPrompt struct {
	text     string
	defaults map[string]any
}

func (p interpolatedPrompt) Render(vars map[string]any) (string, error) {
	var missing []string
	out := variableRefPattern.ReplaceAllStringFunc(p.text, func(match string) string {
		path := variableRefPattern.FindStringSubmatch(match)[1]
		v := resolveVar(path, vars)
		if v == nil {
			v = resolveVar(path, p.defaults)
		}
		if v == nil {
			missing = append(missing, path)
			return match
		}
		return formatValue(v)
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("undefined prompt variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(v)
}
