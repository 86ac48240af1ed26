package state

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/stepflow/types"
	"github.com/BaSui01/stepflow/workflow/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestManager(t *testing.T) (*Manager, *MemoryRepository, *eventbus.Bus) {
	t.Helper()
	repo := NewMemoryRepository()
	bus := eventbus.New(zap.NewNop())
	store := NewStore(repo, DefaultStoreConfig())
	return NewManager(store, bus, zap.NewNop(), WithClock(func() time.Time { return fixedNow })), repo, bus
}

func testDefinition(steps ...string) SessionDefinition {
	return SessionDefinition{
		Name:     "research",
		Steps:    steps,
		Metadata: WorkflowMetadata{Model: "gpt-4o", Provider: "openai"},
	}
}

func TestManager_InitializeSession(t *testing.T) {
	m, repo, bus := newTestManager(t)

	var events []eventbus.Event
	bus.Subscribe(eventbus.AllEvents, func(e eventbus.Event) { events = append(events, e) })

	s, err := m.InitializeSession(context.Background(), testDefinition("fetch", "analyze", "report"), InitOptions{})
	require.NoError(t, err)

	st, err := m.GetState(s)
	require.NoError(t, err)
	assert.Regexp(t, `^\d{8}_\d{6}_\d{3}$`, st.SessionID)
	assert.Contains(t, st.SessionID, "20260314_092653_")
	assert.Equal(t, WorkflowPending, st.Status)
	assert.Equal(t, 3, st.Metadata.TargetCount)
	require.Len(t, st.Steps, 3)
	for i, step := range st.Steps {
		assert.Equal(t, i, step.Index)
		assert.Equal(t, StepPending, step.Status)
		assert.Equal(t, StepID(step.Name, i), step.ID)
	}

	persisted, err := repo.Load(context.Background(), st.SessionID)
	require.NoError(t, err)
	assert.Equal(t, st.SessionID, persisted.SessionID)

	require.Len(t, events, 1)
	assert.Equal(t, eventbus.EventSessionInitialized, events[0].Type)
	assert.Equal(t, st.SessionID, events[0].SessionID)
}

func TestManager_InitializeSession_SuppliedID(t *testing.T) {
	m, _, _ := newTestManager(t)

	s, err := m.InitializeSession(context.Background(), testDefinition("a"), InitOptions{SessionID: "20250101_000000_007"})
	require.NoError(t, err)
	assert.Equal(t, "20250101_000000_007", s.ID())

	_, err = m.InitializeSession(context.Background(), testDefinition("a"), InitOptions{SessionID: "custom"})
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
}

func TestManager_GetStateReturnsIsolatedCopy(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.InitializeSession(ctx, testDefinition("a", "b"), InitOptions{
		Context: map[string]any{"nested": map[string]any{"k": "v"}, "list": []any{1.0}},
	})
	require.NoError(t, err)

	st, err := m.GetState(s)
	require.NoError(t, err)
	st.Status = WorkflowFailed
	st.Steps[0].Name = "mutated"
	st.Steps = append(st.Steps, StepState{Name: "extra"})
	st.Context["nested"].(map[string]any)["k"] = "changed"
	st.Context["list"].([]any)[0] = 2.0
	st.Metadata.Extra = map[string]any{"x": 1}

	again, err := m.GetState(s)
	require.NoError(t, err)
	assert.Equal(t, WorkflowPending, again.Status)
	assert.Equal(t, "a", again.Steps[0].Name)
	assert.Len(t, again.Steps, 2)
	assert.Equal(t, "v", again.Context["nested"].(map[string]any)["k"])
	assert.Equal(t, 1.0, again.Context["list"].([]any)[0])
	assert.Nil(t, again.Metadata.Extra)
}

type reviewNote struct {
	Lines []int
	Meta  map[string]int
}

func TestManager_GetStateReturnsIsolatedCopy_TypedShapes(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.InitializeSession(ctx, testDefinition("fetch"), InitOptions{})
	require.NoError(t, err)

	rows := []map[string]any{{"k": "orig"}}
	note := &reviewNote{Lines: []int{10}, Meta: map[string]int{"n": 1}}
	_, err = m.SaveStep(ctx, s, "fetch", rows, map[string]any{
		"fetch":  rows,
		"nums":   []int{1, 2, 3},
		"counts": map[string]int{"a": 1},
		"note":   note,
	})
	require.NoError(t, err)

	// 修改调用方持有的值
	rows[0]["k"] = "mutated-by-caller"
	note.Lines[0] = 99

	// 修改 GetState 返回的副本
	st, err := m.GetState(s)
	require.NoError(t, err)
	st.Context["fetch"].([]map[string]any)[0]["k"] = "mutated-copy"
	st.Context["nums"].([]int)[0] = 99
	st.Context["counts"].(map[string]int)["a"] = 99
	st.Context["note"].(*reviewNote).Meta["n"] = 99
	st.Steps[0].Output.([]map[string]any)[0]["k"] = "mutated-copy"

	again, err := m.GetState(s)
	require.NoError(t, err)
	assert.Equal(t, "orig", again.Context["fetch"].([]map[string]any)[0]["k"])
	assert.Equal(t, 1, again.Context["nums"].([]int)[0])
	assert.Equal(t, 1, again.Context["counts"].(map[string]int)["a"])
	stored := again.Context["note"].(*reviewNote)
	assert.Equal(t, 10, stored.Lines[0])
	assert.Equal(t, 1, stored.Meta["n"])
	assert.NotSame(t, note, stored)
	assert.Equal(t, "orig", again.Steps[0].Output.([]map[string]any)[0]["k"])
}

func TestCloneValue_PointerCycle(t *testing.T) {
	type node struct {
		Name string
		Next *node
	}
	a := &node{Name: "a"}
	a.Next = a

	c := CloneValue(a).(*node)
	assert.NotSame(t, a, c)
	assert.Same(t, c, c.Next)

	fn := func() {}
	assert.NotNil(t, CloneValue(fn))
	assert.Nil(t, CloneValue(nil))
}

func TestManager_SubscriberMayCallBack(t *testing.T) {
	m, _, bus := newTestManager(t)
	ctx := context.Background()

	s, err := m.InitializeSession(ctx, testDefinition("a", "b"), InitOptions{})
	require.NoError(t, err)

	var seen []StepStatus
	bus.Subscribe(eventbus.EventStepUpdated, func(eventbus.Event) {
		st, err := m.GetState(s)
		if err == nil {
			seen = append(seen, st.Steps[0].Status)
		}
	})
	bus.Subscribe(eventbus.EventWorkflowUpdated, func(eventbus.Event) {
		_, _ = m.UpdateStep(ctx, s, StepID("b", 1), StepUpdate{Metadata: map[string]any{"touched": true}})
	})

	done := make(chan error, 1)
	go func() {
		running := WorkflowRunning
		if _, err := m.UpdateWorkflow(ctx, s, WorkflowUpdate{Status: &running}); err != nil {
			done <- err
			return
		}
		_, err := m.SaveStep(ctx, s, "a", "ok", nil)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("manager blocked while a subscriber called back into it")
	}

	assert.Contains(t, seen, StepCompleted)
	st, err := m.GetState(s)
	require.NoError(t, err)
	assert.Equal(t, true, st.Steps[1].Metadata["touched"])
}

func TestManager_UpdateWorkflow_MergesMetadata(t *testing.T) {
	m, _, bus := newTestManager(t)
	ctx := context.Background()

	var updated int
	bus.Subscribe(eventbus.EventWorkflowUpdated, func(eventbus.Event) { updated++ })

	s, err := m.InitializeSession(ctx, testDefinition("a"), InitOptions{})
	require.NoError(t, err)

	before, _ := m.GetState(s)

	running := WorkflowRunning
	_, err = m.UpdateWorkflow(ctx, s, WorkflowUpdate{
		Status: &running,
		Metadata: &MetadataUpdate{
			Parallel: ptr(true),
			Extra:    map[string]any{"owner": map[string]any{"team": "infra"}},
		},
	})
	require.NoError(t, err)

	st, err := m.UpdateWorkflow(ctx, s, WorkflowUpdate{
		Metadata: &MetadataUpdate{Extra: map[string]any{"owner": map[string]any{"oncall": "ada"}}},
	})
	require.NoError(t, err)

	assert.Equal(t, WorkflowRunning, st.Status)
	assert.Equal(t, "gpt-4o", st.Metadata.Model)
	assert.True(t, st.Metadata.Parallel)
	assert.Equal(t, map[string]any{"team": "infra", "oncall": "ada"}, st.Metadata.Extra["owner"])
	assert.Equal(t, 2, updated)

	// 先前返回的值不受影响
	assert.Equal(t, WorkflowPending, before.Status)
}

func TestManager_UpdateStep(t *testing.T) {
	m, _, bus := newTestManager(t)
	ctx := context.Background()

	var payload StepUpdatedPayload
	bus.Subscribe(eventbus.EventStepUpdated, func(e eventbus.Event) {
		payload = e.Payload.(StepUpdatedPayload)
	})

	s, err := m.InitializeSession(ctx, testDefinition("a", "b"), InitOptions{})
	require.NoError(t, err)

	id := StepID("b", 1)
	st, err := m.UpdateStep(ctx, s, id, StepUpdate{
		Status:   ptr(StepRunning),
		Input:    map[string]any{"q": "x"},
		Metadata: map[string]any{"type": "prompt"},
	})
	require.NoError(t, err)

	step, ok := st.StepByID(id)
	require.True(t, ok)
	assert.Equal(t, StepRunning, step.Status)
	assert.Equal(t, "prompt", step.Metadata["type"])
	assert.Equal(t, StepPending, st.Steps[0].Status)

	assert.Equal(t, id, payload.StepID)
	assert.Equal(t, StepRunning, *payload.Updates.Status)
	require.NotNil(t, payload.State)
	assert.Equal(t, s.ID(), payload.State.SessionID)
}

func TestManager_UpdateStep_UnknownID(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.InitializeSession(ctx, testDefinition("a"), InitOptions{})
	require.NoError(t, err)

	_, err = m.UpdateStep(ctx, s, "step_9_ghost", StepUpdate{Status: ptr(StepRunning)})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrNotFound))
	assert.Contains(t, err.Error(), "step_9_ghost")
}

func TestManager_NilSession(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.GetState(nil)
	assert.True(t, types.IsCode(err, types.ErrSessionRequired))
	_, err = m.UpdateWorkflow(context.Background(), nil, WorkflowUpdate{})
	assert.True(t, types.IsCode(err, types.ErrSessionRequired))
}

func TestManager_SaveStep(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.InitializeSession(ctx, testDefinition("a", "b"), InitOptions{})
	require.NoError(t, err)

	st, err := m.SaveStep(ctx, s, "a", "result-a", map[string]any{"a": "result-a"})
	require.NoError(t, err)
	assert.Equal(t, StepCompleted, st.Steps[0].Status)
	assert.Equal(t, "result-a", st.Steps[0].Output)
	require.NotNil(t, st.Steps[0].CompletedAt)
	assert.Equal(t, map[string]any{"a": "result-a"}, st.Context)

	// 不在定义中的步骤名会被追加
	st, err = m.SaveStep(ctx, s, "adhoc", 42, nil)
	require.NoError(t, err)
	require.Len(t, st.Steps, 3)
	assert.Equal(t, "adhoc", st.Steps[2].Name)
	assert.Equal(t, 2, st.Steps[2].Index)
	assert.Equal(t, StepCompleted, st.Steps[2].Status)
	assert.Equal(t, map[string]any{"a": "result-a"}, st.Context)
}

func TestManager_LoadSession(t *testing.T) {
	m, _, bus := newTestManager(t)
	ctx := context.Background()

	var loaded int
	bus.Subscribe(eventbus.EventSessionLoaded, func(eventbus.Event) { loaded++ })

	s, err := m.InitializeSession(ctx, testDefinition("a"), InitOptions{})
	require.NoError(t, err)
	_, err = m.SaveStep(ctx, s, "a", "done", map[string]any{"a": "done"})
	require.NoError(t, err)

	restored, err := m.LoadSession(ctx, s.ID())
	require.NoError(t, err)
	st, err := m.GetState(restored)
	require.NoError(t, err)
	assert.Equal(t, StepCompleted, st.Steps[0].Status)
	assert.Equal(t, 1, loaded)

	_, err = m.LoadSession(ctx, "20200101_000000_000")
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestManager_ResumeSession(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.InitializeSession(ctx, testDefinition("a", "b"), InitOptions{SessionID: "20260101_010101_001"})
	require.NoError(t, err)
	_, err = m.SaveStep(ctx, s, "a", "A", map[string]any{"a": "A"})
	require.NoError(t, err)
	_, err = m.UpdateStep(ctx, s, StepID("b", 1), StepUpdate{Status: ptr(StepFailed), Error: ptr("boom")})
	require.NoError(t, err)

	resumed, err := m.ResumeSession(ctx, s.ID(), testDefinition("a", "b"), InitOptions{SessionID: "20260101_020202_002"})
	require.NoError(t, err)

	st, err := m.GetState(resumed)
	require.NoError(t, err)
	assert.Equal(t, "20260101_010101_001", st.Metadata.ResumedFrom)
	assert.Equal(t, StepCompleted, st.Steps[0].Status)
	assert.Equal(t, StepPending, st.Steps[1].Status)
	assert.Empty(t, st.Steps[1].Error)
	assert.Equal(t, "A", st.Context["a"])
}

func TestManager_ResumeSession_DefinitionChanged(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.InitializeSession(ctx, testDefinition("fetch", "analyze", "report"), InitOptions{SessionID: "20260101_010101_001"})
	require.NoError(t, err)
	for _, name := range []string{"fetch", "analyze"} {
		_, err = m.SaveStep(ctx, s, name, name+"-out", nil)
		require.NoError(t, err)
	}

	// analyze 被替换为 summarize，并新增 publish 步骤
	edited := testDefinition("fetch", "summarize", "report", "publish")
	resumed, err := m.ResumeSession(ctx, s.ID(), edited, InitOptions{SessionID: "20260101_020202_002"})
	require.NoError(t, err)

	st, err := m.GetState(resumed)
	require.NoError(t, err)
	require.Len(t, st.Steps, 4)
	assert.Equal(t, 4, st.Metadata.TargetCount)
	for i, name := range edited.Steps {
		assert.Equal(t, name, st.Steps[i].Name)
		assert.Equal(t, StepID(name, i), st.Steps[i].ID)
	}
	assert.Equal(t, StepCompleted, st.Steps[0].Status)
	assert.Equal(t, "fetch-out", st.Steps[0].Output)
	assert.Equal(t, StepPending, st.Steps[1].Status)
	assert.Nil(t, st.Steps[1].Output)

	// 每个步骤都可以按新定义的 ID 更新
	for _, step := range st.Steps {
		_, err = m.UpdateStep(ctx, resumed, step.ID, StepUpdate{Metadata: map[string]any{"seen": true}})
		require.NoError(t, err)
	}
}
