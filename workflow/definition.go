package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/stepflow/types"
	"github.com/BaSui01/stepflow/workflow/state"
)

// StepType 步骤类型
type StepType string

const (
	StepTypePrompt   StepType = "prompt"
	StepTypeCustom   StepType = "custom"
	StepTypeParallel StepType = "parallel"
	StepTypeAgent    StepType = "agent"
)

// FallbackPolicy decides what an agent step does once it has used its
// whole step budget without a final answer.
type FallbackPolicy string

const (
	FallbackError         FallbackPolicy = "error"
	FallbackReturnPartial FallbackPolicy = "return_partial"
	FallbackSummarize     FallbackPolicy = "summarize"
)

// Valid reports whether p is a known policy. The empty policy is valid and
// means "use the executor default".
func (p FallbackPolicy) Valid() bool {
	switch p {
	case "", FallbackError, FallbackReturnPartial, FallbackSummarize:
		return true
	}
	return false
}

// ============================================================
// Prompt templates
// ============================================================

// Template renders a prompt from the workflow context.
type Template interface {
	Render(vars map[string]any) (string, error)
}

// StaticPrompt is a fixed prompt that ignores the context.
type StaticPrompt string

func (p StaticPrompt) Render(map[string]any) (string, error) { return string(p), nil }

// PromptFunc builds a prompt from the context.
type PromptFunc func(vars map[string]any) (string, error)

func (f PromptFunc) Render(vars map[string]any) (string, error) { return f(vars) }

// ConditionFunc decides from the workflow context whether a top-level step
// runs. A step whose condition is false is marked skipped.
type ConditionFunc func(wfctx map[string]any) (bool, error)

// HandlerFunc is the body of a custom step. It receives a copy of the
// workflow context built by the steps before it.
type HandlerFunc func(ctx context.Context, wfctx map[string]any) (any, error)

// ============================================================
// Definitions
// ============================================================

// StepDefinition describes one step.
type StepDefinition struct {
	Name string
	Type StepType

	// When 为空表示总是执行
	When ConditionFunc

	// prompt / agent
	Prompt       Template
	SystemPrompt string
	Model        string // overrides Definition.Model

	// custom
	Handler HandlerFunc

	// parallel
	Steps []StepDefinition

	// agent
	MaxSteps int
	Fallback FallbackPolicy
}

// Definition is an ordered list of steps plus the metadata recorded on
// every session opened for it.
type Definition struct {
	Name        string
	Description string
	Steps       []StepDefinition
	Model       string
	Provider    string
	Tags        []string
	Extra       map[string]any
}

// PromptStep 创建 prompt 步骤
func PromptStep(name string, prompt Template) StepDefinition {
	return StepDefinition{Name: name, Type: StepTypePrompt, Prompt: prompt}
}

// CustomStep 创建 custom 步骤
func CustomStep(name string, handler HandlerFunc) StepDefinition {
	return StepDefinition{Name: name, Type: StepTypeCustom, Handler: handler}
}

// ParallelStep 创建 parallel 步骤
func ParallelStep(name string, branches ...StepDefinition) StepDefinition {
	return StepDefinition{Name: name, Type: StepTypeParallel, Steps: branches}
}

// AgentStep 创建 agent 步骤
func AgentStep(name string, prompt Template, maxSteps int, fallback FallbackPolicy) StepDefinition {
	return StepDefinition{
		Name:     name,
		Type:     StepTypeAgent,
		Prompt:   prompt,
		MaxSteps: maxSteps,
		Fallback: fallback,
	}
}

// Validate checks names, types and per-type requirements.
func (d *Definition) Validate() error {
	if d == nil {
		return types.NewError(types.ErrInvalidWorkflow, "workflow definition is nil")
	}
	if strings.TrimSpace(d.Name) == "" {
		return types.NewError(types.ErrInvalidWorkflow, "workflow name is required")
	}
	if len(d.Steps) == 0 {
		return types.NewError(types.ErrInvalidWorkflow, fmt.Sprintf("workflow %q has no steps", d.Name))
	}

	seen := make(map[string]bool, len(d.Steps))
	for _, step := range d.Steps {
		if seen[step.Name] {
			return types.NewError(types.ErrInvalidWorkflow, fmt.Sprintf("duplicate step name %q", step.Name))
		}
		seen[step.Name] = true
		if err := step.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (s StepDefinition) validate() error {
	invalid := func(msg string) error {
		return types.NewError(types.ErrInvalidWorkflow, msg).WithStep(s.Name)
	}
	if strings.TrimSpace(s.Name) == "" {
		return invalid("step name is required")
	}
	switch s.Type {
	case StepTypePrompt:
		if s.Prompt == nil {
			return invalid(fmt.Sprintf("prompt step %q has no prompt", s.Name))
		}
	case StepTypeCustom:
		if s.Handler == nil {
			return invalid(fmt.Sprintf("custom step %q has no handler", s.Name))
		}
	case StepTypeAgent:
		if s.Prompt == nil {
			return invalid(fmt.Sprintf("agent step %q has no prompt", s.Name))
		}
		if s.MaxSteps < 0 {
			return invalid(fmt.Sprintf("agent step %q has negative max steps", s.Name))
		}
		if !s.Fallback.Valid() {
			return invalid(fmt.Sprintf("agent step %q has unknown fallback %q", s.Name, s.Fallback))
		}
	case StepTypeParallel:
		if len(s.Steps) == 0 {
			return invalid(fmt.Sprintf("parallel step %q has no branches", s.Name))
		}
		names := make(map[string]bool, len(s.Steps))
		for _, sub := range s.Steps {
			if names[sub.Name] {
				return invalid(fmt.Sprintf("parallel step %q has duplicate branch %q", s.Name, sub.Name))
			}
			names[sub.Name] = true
			if err := sub.validate(); err != nil {
				return err
			}
		}
	default:
		return invalid(fmt.Sprintf("step %q has unknown type %q", s.Name, s.Type))
	}
	return nil
}

// SessionDefinition 转换为 state.Manager 使用的会话定义
func (d *Definition) SessionDefinition() state.SessionDefinition {
	names := make([]string, len(d.Steps))
	parallel := false
	for i, s := range d.Steps {
		names[i] = s.Name
		if s.Type == StepTypeParallel {
			parallel = true
		}
	}
	return state.SessionDefinition{
		Name:  d.Name,
		Steps: names,
		Metadata: state.WorkflowMetadata{
			Model:       d.Model,
			Provider:    d.Provider,
			TargetCount: len(d.Steps),
			Parallel:    parallel,
			Tags:        append([]string(nil), d.Tags...),
			Extra:       state.CloneMap(d.Extra),
		},
	}
}
