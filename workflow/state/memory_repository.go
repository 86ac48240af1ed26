package state

import (
	"context"
	"sync"

	"github.com/BaSui01/stepflow/types"
)

// MemoryRepository 内存实现，适合开发与测试，重启后数据丢失。
// 存取都经过深拷贝，与文件实现的值语义一致。
type MemoryRepository struct {
	mu        sync.RWMutex
	states    map[string]*WorkflowState
	history   map[string][]*WorkflowState
	snapshots map[string][]*WorkflowState
}

// NewMemoryRepository 创建内存存储
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		states:    make(map[string]*WorkflowState),
		history:   make(map[string][]*WorkflowState),
		snapshots: make(map[string][]*WorkflowState),
	}
}

func (r *MemoryRepository) Save(ctx context.Context, st *WorkflowState) error {
	if st == nil {
		return types.NewError(types.ErrInvalidRequest, "nil workflow state")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[st.SessionID] = st.Clone()
	r.history[st.SessionID] = append(r.history[st.SessionID], st.Clone())
	return nil
}

func (r *MemoryRepository) Load(ctx context.Context, sessionID string) (*WorkflowState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[sessionID]
	if !ok {
		return nil, types.NewNotFoundError("session", sessionID)
	}
	return st.Clone(), nil
}

func (r *MemoryRepository) SaveSnapshot(ctx context.Context, st *WorkflowState) error {
	if st == nil {
		return types.NewError(types.ErrInvalidRequest, "nil workflow state")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[st.SessionID] = append(r.snapshots[st.SessionID], st.Clone())
	return nil
}

func (r *MemoryRepository) LoadSnapshot(ctx context.Context, sessionID string) (*WorkflowState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	snaps := r.snapshots[sessionID]
	if len(snaps) == 0 {
		return nil, types.NewNotFoundError("snapshot", sessionID)
	}
	return snaps[len(snaps)-1].Clone(), nil
}

// SnapshotCount returns how many snapshots were written for a session.
func (r *MemoryRepository) SnapshotCount(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.snapshots[sessionID])
}

func (r *MemoryRepository) LoadHistory(ctx context.Context, sessionID string) ([]*WorkflowState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.history[sessionID]
	out := make([]*WorkflowState, len(src))
	for i, st := range src {
		out[i] = st.Clone()
	}
	return out, nil
}

func (r *MemoryRepository) ListSessions(ctx context.Context, filter SessionFilter) ([]SessionSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]SessionSummary, 0, len(r.states))
	for _, st := range r.states {
		if s := Summarize(st); filter.Match(s) {
			out = append(out, s)
		}
	}
	r.mu.RUnlock()

	sortSummaries(out)
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}
