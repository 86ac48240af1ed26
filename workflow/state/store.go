package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/stepflow/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StoreConfig 控制快照与压缩的阈值
type StoreConfig struct {
	// SnapshotInterval 每 N 次保存写一次快照，<=0 关闭
	SnapshotInterval int `yaml:"snapshot_interval" json:"snapshot_interval"`
	// CompactionThreshold 单会话保留事件数超过该值时压缩，<=0 关闭
	CompactionThreshold int `yaml:"compaction_threshold" json:"compaction_threshold"`
}

// DefaultStoreConfig returns the thresholds used when none are configured.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		SnapshotInterval:    10,
		CompactionThreshold: 100,
	}
}

// Recorder receives store activity counters. internal/metrics.Collector
// implements it.
type Recorder interface {
	RecordStateSave(workflow string)
	RecordSnapshot(workflow string)
	RecordCompaction(workflow string, discarded int)
}

type nopRecorder struct{}

func (nopRecorder) RecordStateSave(string)       {}
func (nopRecorder) RecordSnapshot(string)        {}
func (nopRecorder) RecordCompaction(string, int) {}

// StoreStats is a point-in-time view of the store counters.
type StoreStats struct {
	TotalSaves     int            `json:"total_saves"`
	RetainedEvents int            `json:"retained_events"`
	SessionSaves   map[string]int `json:"session_saves"`
	Snapshots      int            `json:"snapshots"`
	Compactions    int            `json:"compactions"`
}

type cachedSnapshot struct {
	state *WorkflowState
	// saves is the session's save count when the snapshot was taken.
	saves int
}

// Store buffers state events in memory in front of a Repository, deciding
// when to snapshot and when to compact.
type Store struct {
	repo     Repository
	recorder Recorder
	logger   *zap.Logger

	mu           sync.Mutex
	cfg          StoreConfig
	events       []StateEvent
	totalSaves   int
	sessionSaves map[string]int
	retained     map[string]int
	snapshots    map[string]cachedSnapshot
	snapCount    int
	compactions  int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) StoreOption {
	return func(s *Store) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithStoreLogger sets the logger.
func WithStoreLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates a Store over repo.
func NewStore(repo Repository, cfg StoreConfig, opts ...StoreOption) *Store {
	s := &Store{
		repo:         repo,
		recorder:     nopRecorder{},
		logger:       zap.NewNop(),
		cfg:          cfg,
		sessionSaves: make(map[string]int),
		retained:     make(map[string]int),
		snapshots:    make(map[string]cachedSnapshot),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "state_store"))
	return s
}

// Repository returns the underlying repository.
func (s *Store) Repository() Repository { return s.repo }

// Config returns the active thresholds.
func (s *Store) Config() StoreConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// ApplyConfig swaps the thresholds; used on configuration reload.
func (s *Store) ApplyConfig(cfg StoreConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.logger.Info("store config applied",
		zap.Int("snapshot_interval", cfg.SnapshotInterval),
		zap.Int("compaction_threshold", cfg.CompactionThreshold))
}

// Save persists st, records a StateEvent and applies the snapshot and
// compaction policies.
func (s *Store) Save(ctx context.Context, st *WorkflowState) error {
	if st == nil {
		return types.NewError(types.ErrInvalidRequest, "nil workflow state")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Save(ctx, st); err != nil {
		return err
	}

	sid := st.SessionID
	s.events = append(s.events, StateEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Type:      EventStateSaved,
		SessionID: sid,
		Data:      st.Clone(),
	})
	s.totalSaves++
	s.sessionSaves[sid]++
	s.retained[sid]++
	s.recorder.RecordStateSave(st.WorkflowName)

	if s.cfg.SnapshotInterval > 0 && s.totalSaves%s.cfg.SnapshotInterval == 0 {
		if err := s.snapshotLocked(ctx, st); err != nil {
			return err
		}
	}

	if s.cfg.CompactionThreshold > 0 && s.retained[sid] > s.cfg.CompactionThreshold {
		if err := s.compactLocked(ctx, sid); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) snapshotLocked(ctx context.Context, st *WorkflowState) error {
	if err := s.repo.SaveSnapshot(ctx, st); err != nil {
		return err
	}
	s.snapshots[st.SessionID] = cachedSnapshot{state: st.Clone(), saves: s.sessionSaves[st.SessionID]}
	s.snapCount++
	s.recorder.RecordSnapshot(st.WorkflowName)
	s.logger.Debug("snapshot taken",
		zap.String("session_id", st.SessionID),
		zap.Int("total_saves", s.totalSaves))
	return nil
}

// compactLocked keeps only the newest event of sid. The newest state is
// snapshotted first so that disk still covers what memory drops.
func (s *Store) compactLocked(ctx context.Context, sid string) error {
	last := -1
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].SessionID == sid {
			last = i
			break
		}
	}
	if last < 0 {
		return nil
	}
	newest := s.events[last]

	if cached, ok := s.snapshots[sid]; !ok || cached.saves < s.sessionSaves[sid] {
		if err := s.snapshotLocked(ctx, newest.Data); err != nil {
			return err
		}
	}

	kept := make([]StateEvent, 0, len(s.events))
	discarded := 0
	for i, ev := range s.events {
		if ev.SessionID == sid && i != last {
			discarded++
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept
	s.retained[sid] = 1
	s.compactions++
	s.recorder.RecordCompaction(newest.Data.WorkflowName, discarded)
	s.logger.Debug("events compacted",
		zap.String("session_id", sid),
		zap.Int("discarded", discarded))
	return nil
}

// Load returns the latest state of a session: from the snapshot cache when it
// is current, otherwise from the repository.
func (s *Store) Load(ctx context.Context, sessionID string) (*WorkflowState, error) {
	s.mu.Lock()
	cached, ok := s.snapshots[sessionID]
	current := ok && cached.saves == s.sessionSaves[sessionID]
	s.mu.Unlock()

	if current {
		return cached.state.Clone(), nil
	}
	return s.repo.Load(ctx, sessionID)
}

// Replay reconstructs historical state from the repository history.
// With an empty stepName it returns the last recorded state; otherwise the
// earliest recorded state that contains a step with that name.
func (s *Store) Replay(ctx context.Context, sessionID, stepName string) (*WorkflowState, error) {
	history, err := s.repo.LoadHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, types.NewError(types.ErrHistoryNotFound,
			fmt.Sprintf("no history for session %s", sessionID))
	}
	if stepName == "" {
		return history[len(history)-1], nil
	}
	for _, st := range history {
		if _, ok := st.StepByName(stepName); ok {
			return st, nil
		}
	}
	return nil, types.NewNotFoundError("step", stepName).
		WithCause(fmt.Errorf("step never recorded in session %s", sessionID))
}

// Events returns the retained events of a session, oldest first.
func (s *Store) Events(sessionID string) []StateEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StateEvent, 0, s.retained[sessionID])
	for _, ev := range s.events {
		if ev.SessionID == sessionID {
			ev.Data = ev.Data.Clone()
			out = append(out, ev)
		}
	}
	return out
}

// Stats returns the store counters.
func (s *Store) Stats() StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	saves := make(map[string]int, len(s.sessionSaves))
	for k, v := range s.sessionSaves {
		saves[k] = v
	}
	return StoreStats{
		TotalSaves:     s.totalSaves,
		RetainedEvents: len(s.events),
		SessionSaves:   saves,
		Snapshots:      s.snapCount,
		Compactions:    s.compactions,
	}
}
