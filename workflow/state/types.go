package state

import (
	"time"

	"github.com/BaSui01/stepflow/types"
)

// WorkflowStatus is the lifecycle status of a session.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

// IsTerminal reports whether no further step will run.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed || s == WorkflowCancelled
}

// StepStatus is the lifecycle status of one step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// WorkflowMetadata 会话级元数据
type WorkflowMetadata struct {
	Model       string         `json:"model,omitempty"`
	Provider    string         `json:"provider,omitempty"`
	TargetCount int            `json:"target_count,omitempty"`
	Parallel    bool           `json:"parallel,omitempty"`
	ResumedFrom string         `json:"resumed_from,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// WorkflowState is the full persisted state of one session.
// Values handed out by Manager are copies; mutating them has no effect on
// the manager's state.
type WorkflowState struct {
	SessionID    string           `json:"session_id"`
	WorkflowName string           `json:"workflow_name"`
	Status       WorkflowStatus   `json:"status"`
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	Context      map[string]any   `json:"context"`
	Steps        []StepState      `json:"steps"`
	Metadata     WorkflowMetadata `json:"metadata"`
	Error        string           `json:"error,omitempty"`
}

// StepByID returns the step with the given id.
func (w *WorkflowState) StepByID(id string) (StepState, bool) {
	for _, s := range w.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return StepState{}, false
}

// StepByName returns the first step with the given name.
func (w *WorkflowState) StepByName(name string) (StepState, bool) {
	for _, s := range w.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepState{}, false
}

// CompletedSteps counts steps in StepCompleted.
func (w *WorkflowState) CompletedSteps() int {
	n := 0
	for _, s := range w.Steps {
		if s.Status == StepCompleted {
			n++
		}
	}
	return n
}

// StepState 单个步骤的状态
type StepState struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Index       int             `json:"index"`
	Status      StepStatus      `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Input       any             `json:"input,omitempty"`
	Output      any             `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	Transcript  []types.Message `json:"transcript,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// StateEvent is an append-only record of one persisted mutation.
type StateEvent struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Data      *WorkflowState `json:"data"`
}

// EventStateSaved is the StateEvent type recorded by Store.Save.
const EventStateSaved = "state:saved"

// SessionSummary is the index entry used to list sessions without loading them.
type SessionSummary struct {
	SessionID      string         `json:"session_id"`
	WorkflowName   string         `json:"workflow_name"`
	StartedAt      time.Time      `json:"started_at"`
	Status         WorkflowStatus `json:"status"`
	StepCount      int            `json:"step_count"`
	CompletedSteps int            `json:"completed_steps"`
	Tags           []string       `json:"tags,omitempty"`
}

// Summarize builds the index entry for w.
func Summarize(w *WorkflowState) SessionSummary {
	return SessionSummary{
		SessionID:      w.SessionID,
		WorkflowName:   w.WorkflowName,
		StartedAt:      w.StartedAt,
		Status:         w.Status,
		StepCount:      len(w.Steps),
		CompletedSteps: w.CompletedSteps(),
		Tags:           append([]string(nil), w.Metadata.Tags...),
	}
}

// SessionFilter 会话列表过滤条件，零值字段不参与过滤
type SessionFilter struct {
	WorkflowName string
	Status       WorkflowStatus
	Since        time.Time
	Until        time.Time
	Tags         []string // 会话必须包含全部标签
	Limit        int
}

// Match reports whether s passes every set criterion of f.
func (f SessionFilter) Match(s SessionSummary) bool {
	if f.WorkflowName != "" && s.WorkflowName != f.WorkflowName {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && s.StartedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && s.StartedAt.After(f.Until) {
		return false
	}
	for _, want := range f.Tags {
		found := false
		for _, have := range s.Tags {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
