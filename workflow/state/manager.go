package state

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/stepflow/types"
	"github.com/BaSui01/stepflow/workflow/eventbus"
	"go.uber.org/zap"
)

// SessionDefinition is what the manager needs to know about a workflow to
// open a session for it.
type SessionDefinition struct {
	Name     string
	Steps    []string // step names in definition order
	Metadata WorkflowMetadata
}

// InitOptions 会话初始化选项
type InitOptions struct {
	// SessionID 为空时按 YYYYMMDD_HHMMSS_NNN 生成
	SessionID string
	Context   map[string]any
	Tags      []string
}

// Session is the handle of one open session. Every manager operation takes
// the handle it acts on, so a single Manager can drive any number of sessions.
type Session struct {
	mu      sync.Mutex
	current *WorkflowState
}

// ID returns the session id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.SessionID
}

// WorkflowUpdate lists top-level fields to overwrite; nil fields are left
// unchanged. Metadata is merged field by field rather than replaced.
type WorkflowUpdate struct {
	WorkflowName *string
	Status       *WorkflowStatus
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Context      map[string]any
	Error        *string
	Metadata     *MetadataUpdate
}

// MetadataUpdate 元数据的深度合并补丁
type MetadataUpdate struct {
	Model       *string
	Provider    *string
	TargetCount *int
	Parallel    *bool
	ResumedFrom *string
	Tags        []string
	Extra       map[string]any // 按 key 递归合并
}

// StepUpdate lists step fields to overwrite; nil fields are left unchanged.
type StepUpdate struct {
	Status      *StepStatus     `json:"status,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Input       any             `json:"input,omitempty"`
	Output      any             `json:"output,omitempty"`
	Error       *string         `json:"error,omitempty"`
	Transcript  []types.Message `json:"transcript,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// StepUpdatedPayload is the payload of eventbus.EventStepUpdated.
type StepUpdatedPayload struct {
	StepID  string
	Updates StepUpdate
	State   *WorkflowState
}

// Manager 是唯一允许构造新的工作流/步骤状态值的组件。
// 每次变更都基于当前状态的深拷贝生成新值，同步持久化后再替换会话句柄中的引用，
// 并通过事件总线广播。
type Manager struct {
	store  *Store
	bus    *eventbus.Bus
	logger *zap.Logger
	now    func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a Manager. A nil bus gets a private one.
func NewManager(store *Store, bus *eventbus.Bus, logger *zap.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = eventbus.New(logger)
	}
	m := &Manager{
		store:  store,
		bus:    bus,
		logger: logger.With(zap.String("component", "state_manager")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Bus returns the event bus the manager publishes on.
func (m *Manager) Bus() *eventbus.Bus { return m.bus }

// Store returns the underlying state store.
func (m *Manager) Store() *Store { return m.store }

// InitializeSession builds a fresh state with one pending step per step
// definition, persists it and emits session:initialized.
func (m *Manager) InitializeSession(ctx context.Context, def SessionDefinition, opts InitOptions) (*Session, error) {
	now := m.now()

	id := opts.SessionID
	if id == "" {
		id = NewSessionID(now)
	} else if !ValidSessionID(id) {
		return nil, types.NewError(types.ErrInvalidRequest, "session id must match YYYYMMDD_HHMMSS_NNN: "+id)
	}

	steps := make([]StepState, len(def.Steps))
	for i, name := range def.Steps {
		steps[i] = StepState{
			ID:        StepID(name, i),
			Name:      name,
			Index:     i,
			Status:    StepPending,
			StartedAt: now,
			Metadata:  map[string]any{},
		}
	}

	meta := def.Metadata.Clone()
	if meta.TargetCount == 0 {
		meta.TargetCount = len(def.Steps)
	}
	meta.Tags = mergeTags(meta.Tags, opts.Tags)

	st := &WorkflowState{
		SessionID:    id,
		WorkflowName: def.Name,
		Status:       WorkflowPending,
		StartedAt:    now,
		Context:      CloneMap(opts.Context),
		Steps:        steps,
		Metadata:     meta,
	}
	if st.Context == nil {
		st.Context = map[string]any{}
	}

	if err := m.store.Save(ctx, st); err != nil {
		return nil, err
	}

	s := &Session{current: st}
	m.logger.Info("session initialized",
		zap.String("session_id", id),
		zap.String("workflow", def.Name),
		zap.Int("steps", len(steps)))
	m.publish(eventbus.EventSessionInitialized, id, st.Clone())
	return s, nil
}

// ResumeSession opens a new session for def that carries over the context of
// fromID and every completed step whose name and position still match def.
// Steps are rebuilt from def, so a definition edited between runs simply
// re-runs what no longer lines up.
func (m *Manager) ResumeSession(ctx context.Context, fromID string, def SessionDefinition, opts InitOptions) (*Session, error) {
	prev, err := m.store.Load(ctx, fromID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	id := opts.SessionID
	if id == "" {
		id = NewSessionID(now)
	} else if !ValidSessionID(id) {
		return nil, types.NewError(types.ErrInvalidRequest, "session id must match YYYYMMDD_HHMMSS_NNN: "+id)
	}

	st := prev.Clone()
	st.SessionID = id
	if def.Name != "" {
		st.WorkflowName = def.Name
	}
	st.Status = WorkflowPending
	st.StartedAt = now
	st.CompletedAt = nil
	st.Error = ""
	st.Metadata.ResumedFrom = fromID
	st.Metadata.TargetCount = len(def.Steps)
	st.Metadata.Tags = mergeTags(st.Metadata.Tags, opts.Tags)
	for k, v := range opts.Context {
		if st.Context == nil {
			st.Context = map[string]any{}
		}
		st.Context[k] = CloneValue(v)
	}

	carried := 0
	steps := make([]StepState, len(def.Steps))
	for i, name := range def.Steps {
		if i < len(prev.Steps) && prev.Steps[i].Name == name && prev.Steps[i].Status == StepCompleted {
			steps[i] = prev.Steps[i].Clone()
			steps[i].ID = StepID(name, i)
			steps[i].Index = i
			carried++
			continue
		}
		steps[i] = StepState{
			ID:        StepID(name, i),
			Name:      name,
			Index:     i,
			Status:    StepPending,
			StartedAt: now,
			Metadata:  map[string]any{},
		}
	}
	st.Steps = steps
	if dropped := prev.CompletedSteps() - carried; dropped > 0 {
		m.logger.Warn("completed steps no longer match the definition",
			zap.String("resumed_from", fromID),
			zap.Int("dropped", dropped))
	}

	if err := m.store.Save(ctx, st); err != nil {
		return nil, err
	}

	m.logger.Info("session resumed",
		zap.String("session_id", id),
		zap.String("resumed_from", fromID),
		zap.Int("completed_steps", st.CompletedSteps()))
	m.publish(eventbus.EventSessionInitialized, id, st.Clone())
	return &Session{current: st}, nil
}

// LoadSession restores a persisted session and emits session:loaded.
func (m *Manager) LoadSession(ctx context.Context, sessionID string) (*Session, error) {
	st, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	m.logger.Info("session loaded", zap.String("session_id", sessionID))
	m.publish(eventbus.EventSessionLoaded, sessionID, st.Clone())
	return &Session{current: st}, nil
}

// GetState returns a deep copy of the session's current state.
func (m *Manager) GetState(s *Session) (*WorkflowState, error) {
	if s == nil {
		return nil, errNoSession()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone(), nil
}

// UpdateWorkflow shallow-merges top-level fields and deep-merges metadata.
func (m *Manager) UpdateWorkflow(ctx context.Context, s *Session, upd WorkflowUpdate) (*WorkflowState, error) {
	if s == nil {
		return nil, errNoSession()
	}
	s.mu.Lock()
	next := s.current.Clone()
	if upd.WorkflowName != nil {
		next.WorkflowName = *upd.WorkflowName
	}
	if upd.Status != nil {
		next.Status = *upd.Status
	}
	if upd.StartedAt != nil {
		next.StartedAt = *upd.StartedAt
	}
	if upd.CompletedAt != nil {
		t := *upd.CompletedAt
		next.CompletedAt = &t
	}
	if upd.Context != nil {
		next.Context = CloneMap(upd.Context)
	}
	if upd.Error != nil {
		next.Error = *upd.Error
	}
	if upd.Metadata != nil {
		next.Metadata = mergeMetadata(next.Metadata, *upd.Metadata)
	}

	err := m.commit(ctx, s, next)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	m.publish(eventbus.EventWorkflowUpdated, next.SessionID, next.Clone())
	return next.Clone(), nil
}

// UpdateStep replaces the step with stepID by a copy carrying upd.
func (m *Manager) UpdateStep(ctx context.Context, s *Session, stepID string, upd StepUpdate) (*WorkflowState, error) {
	if s == nil {
		return nil, errNoSession()
	}
	s.mu.Lock()
	idx := -1
	for i := range s.current.Steps {
		if s.current.Steps[i].ID == stepID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return nil, types.NewNotFoundError("step", stepID)
	}

	next := s.current.Clone()
	next.Steps[idx] = applyStepUpdate(next.Steps[idx], upd)

	err := m.commit(ctx, s, next)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	m.publish(eventbus.EventStepUpdated, next.SessionID, StepUpdatedPayload{
		StepID:  stepID,
		Updates: cloneStepUpdate(upd),
		State:   next.Clone(),
	})
	return next.Clone(), nil
}

// SaveStep marks the step called name completed with result and stores
// wfctx as the session context. A name outside the original definition is
// appended as a new completed step.
func (m *Manager) SaveStep(ctx context.Context, s *Session, name string, result any, wfctx map[string]any) (*WorkflowState, error) {
	if s == nil {
		return nil, errNoSession()
	}
	s.mu.Lock()
	now := m.now()
	next := s.current.Clone()

	idx := -1
	for i := range next.Steps {
		if next.Steps[i].Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		idx = len(next.Steps)
		next.Steps = append(next.Steps, StepState{
			ID:        StepID(name, idx),
			Name:      name,
			Index:     idx,
			StartedAt: now,
			Metadata:  map[string]any{},
		})
	}

	step := next.Steps[idx]
	step.Status = StepCompleted
	if step.StartedAt.IsZero() {
		step.StartedAt = now
	}
	completed := now
	step.CompletedAt = &completed
	step.Output = CloneValue(result)
	step.Error = ""
	next.Steps[idx] = step

	if wfctx != nil {
		next.Context = CloneMap(wfctx)
	}

	err := m.commit(ctx, s, next)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	m.publish(eventbus.EventStepUpdated, next.SessionID, StepUpdatedPayload{
		StepID: step.ID,
		Updates: StepUpdate{
			Status:      ptr(StepCompleted),
			CompletedAt: &completed,
			Output:      CloneValue(result),
		},
		State: next.Clone(),
	})
	return next.Clone(), nil
}

// commit persists next and swaps it in as the session's current state.
// Caller holds s.mu and releases it before publishing: the bus is
// synchronous and subscribers may call back into the manager.
func (m *Manager) commit(ctx context.Context, s *Session, next *WorkflowState) error {
	if err := m.store.Save(ctx, next); err != nil {
		m.logger.Error("persist state failed",
			zap.String("session_id", next.SessionID),
			zap.Error(err))
		return err
	}
	s.current = next
	return nil
}

func (m *Manager) publish(t eventbus.EventType, sessionID string, payload any) {
	m.bus.Publish(eventbus.Event{
		Type:      t,
		SessionID: sessionID,
		Timestamp: m.now(),
		Payload:   payload,
	})
}

func errNoSession() error {
	return types.NewError(types.ErrSessionRequired, "no session: call InitializeSession or LoadSession first")
}

func applyStepUpdate(step StepState, upd StepUpdate) StepState {
	if upd.Status != nil {
		step.Status = *upd.Status
	}
	if upd.StartedAt != nil {
		step.StartedAt = *upd.StartedAt
	}
	if upd.CompletedAt != nil {
		t := *upd.CompletedAt
		step.CompletedAt = &t
	}
	if upd.Input != nil {
		step.Input = CloneValue(upd.Input)
	}
	if upd.Output != nil {
		step.Output = CloneValue(upd.Output)
	}
	if upd.Error != nil {
		step.Error = *upd.Error
	}
	if upd.Transcript != nil {
		step.Transcript = types.CloneMessages(upd.Transcript)
	}
	if upd.Metadata != nil {
		step.Metadata = mergeMaps(step.Metadata, upd.Metadata)
	}
	return step
}

func cloneStepUpdate(u StepUpdate) StepUpdate {
	out := u
	out.Input = CloneValue(u.Input)
	out.Output = CloneValue(u.Output)
	out.Transcript = types.CloneMessages(u.Transcript)
	out.Metadata = CloneMap(u.Metadata)
	return out
}

func mergeMetadata(base WorkflowMetadata, upd MetadataUpdate) WorkflowMetadata {
	if upd.Model != nil {
		base.Model = *upd.Model
	}
	if upd.Provider != nil {
		base.Provider = *upd.Provider
	}
	if upd.TargetCount != nil {
		base.TargetCount = *upd.TargetCount
	}
	if upd.Parallel != nil {
		base.Parallel = *upd.Parallel
	}
	if upd.ResumedFrom != nil {
		base.ResumedFrom = *upd.ResumedFrom
	}
	if upd.Tags != nil {
		base.Tags = append([]string(nil), upd.Tags...)
	}
	if upd.Extra != nil {
		base.Extra = mergeMaps(base.Extra, upd.Extra)
	}
	return base
}

// mergeMaps merges patch into a copy of base; nested maps merge recursively.
func mergeMaps(base, patch map[string]any) map[string]any {
	out := CloneMap(base)
	if out == nil {
		out = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		if pm, ok := v.(map[string]any); ok {
			if bm, ok := out[k].(map[string]any); ok {
				out[k] = mergeMaps(bm, pm)
				continue
			}
		}
		out[k] = CloneValue(v)
	}
	return out
}

func mergeTags(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, t := range append(append([]string(nil), a...), b...) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func ptr[T any](v T) *T { return &v }
