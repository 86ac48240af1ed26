package state

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/stepflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newFileRepo(t *testing.T) *FileRepository {
	t.Helper()
	repo, err := NewFileRepository(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return repo
}

func TestFileRepository_Layout(t *testing.T) {
	repo := newFileRepo(t)
	ctx := context.Background()

	st := sampleState("20260314_092653_042", "fetch", "analyze")
	st.Steps[0].Status = StepCompleted
	st.Steps[0].Output = "ok"
	require.NoError(t, repo.Save(ctx, st))

	dir := filepath.Join(repo.BaseDir(), "2026", "03", "20260314_092653_042")
	assert.FileExists(t, filepath.Join(dir, "state.json"))
	assert.FileExists(t, filepath.Join(dir, "steps", "000_fetch.json"))
	// pending 步骤不单独落盘
	assert.NoFileExists(t, filepath.Join(dir, "steps", "001_analyze.json"))
	assert.FileExists(t, filepath.Join(repo.BaseDir(), "index.json"))

	entries, err := os.ReadDir(filepath.Join(dir, "history"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	step, err := repo.LoadStep(ctx, st.SessionID, 0, "fetch")
	require.NoError(t, err)
	assert.Equal(t, "ok", step.Output)

	_, err = repo.LoadStep(ctx, st.SessionID, 1, "analyze")
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestFileRepository_NoTempFilesLeft(t *testing.T) {
	repo := newFileRepo(t)
	ctx := context.Background()

	st := sampleState("20260314_092653_043", "a")
	for i := 0; i < 3; i++ {
		st.Context["i"] = i
		require.NoError(t, repo.Save(ctx, st))
	}
	require.NoError(t, repo.SaveSnapshot(ctx, st))

	err := filepath.Walk(repo.BaseDir(), func(path string, info os.FileInfo, err error) error {
		require.NoError(t, err)
		assert.False(t, strings.HasSuffix(path, ".tmp"), "leftover temp file %s", path)
		return nil
	})
	require.NoError(t, err)
}

func TestFileRepository_RoundTripPreservesDates(t *testing.T) {
	repo := newFileRepo(t)
	ctx := context.Background()

	when := time.Date(2026, 1, 2, 3, 4, 5, 600, time.UTC)
	done := when.Add(time.Minute)

	st := sampleState("20260102_030405_001", "a")
	st.CompletedAt = &done
	st.Context["deadline"] = when
	st.Context["nested"] = map[string]any{"at": when, "list": []any{when, "plain"}}
	st.Context["label"] = "2026-01-02" // 非完整时间戳保持字符串
	st.Steps[0].Status = StepCompleted
	st.Steps[0].CompletedAt = &done
	st.Steps[0].Output = map[string]any{"fetched_at": when}
	require.NoError(t, repo.Save(ctx, st))

	loaded, err := repo.Load(ctx, st.SessionID)
	require.NoError(t, err)

	assert.True(t, loaded.StartedAt.Equal(fixedNow))
	require.NotNil(t, loaded.CompletedAt)
	assert.True(t, loaded.CompletedAt.Equal(done))

	deadline, ok := loaded.Context["deadline"].(time.Time)
	require.True(t, ok, "deadline should be promoted to time.Time, got %T", loaded.Context["deadline"])
	assert.True(t, deadline.Equal(when))

	nested := loaded.Context["nested"].(map[string]any)
	assert.IsType(t, time.Time{}, nested["at"])
	assert.IsType(t, time.Time{}, nested["list"].([]any)[0])
	assert.Equal(t, "plain", nested["list"].([]any)[1])
	assert.Equal(t, "2026-01-02", loaded.Context["label"])

	out := loaded.Steps[0].Output.(map[string]any)
	assert.IsType(t, time.Time{}, out["fetched_at"])
}

func TestFileRepository_LoadMissing(t *testing.T) {
	repo := newFileRepo(t)
	ctx := context.Background()

	_, err := repo.Load(ctx, "20260101_000000_000")
	assert.True(t, types.IsCode(err, types.ErrNotFound))

	_, err = repo.Load(ctx, "not-a-session")
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))

	history, err := repo.LoadHistory(ctx, "20260101_000000_000")
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = repo.LoadSnapshot(ctx, "20260101_000000_000")
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestFileRepository_HistoryOrder(t *testing.T) {
	repo := newFileRepo(t)
	ctx := context.Background()

	st := sampleState("20260101_000000_010", "a")
	for i := 0; i < 5; i++ {
		st.Context["i"] = i
		require.NoError(t, repo.Save(ctx, st))
	}

	history, err := repo.LoadHistory(ctx, st.SessionID)
	require.NoError(t, err)
	require.Len(t, history, 5)
	for i, h := range history {
		assert.Equal(t, float64(i), h.Context["i"])
	}
}

func TestFileRepository_LatestSnapshot(t *testing.T) {
	repo := newFileRepo(t)
	ctx := context.Background()

	clock := time.UnixMilli(999)
	repo.now = func() time.Time { return clock }

	st := sampleState("20260101_000000_011", "a")
	st.Context["v"] = "old"
	require.NoError(t, repo.SaveSnapshot(ctx, st))

	// 时间戳补零后位数增加也必须被视为更新
	clock = time.UnixMilli(1000)
	st.Context["v"] = "new"
	require.NoError(t, repo.SaveSnapshot(ctx, st))

	snap, err := repo.LoadSnapshot(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "new", snap.Context["v"])
}

func TestFileRepository_SnapshotsInSameMillisecond(t *testing.T) {
	repo := newFileRepo(t)
	ctx := context.Background()
	repo.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

	st := sampleState("20260101_000000_012", "a")
	for _, v := range []string{"first", "second", "third"} {
		st.Context["v"] = v
		require.NoError(t, repo.SaveSnapshot(ctx, st))
	}

	dir, err := repo.SessionDir(st.SessionID)
	require.NoError(t, err)
	entries, err := os.ReadDir(filepath.Join(dir, snapshotsDir))
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	snap, err := repo.LoadSnapshot(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "third", snap.Context["v"])
}

func TestFileRepository_SnapshotSupersedesLegacyName(t *testing.T) {
	repo := newFileRepo(t)
	ctx := context.Background()

	st := sampleState("20260101_000000_013", "a")
	st.Context["v"] = "current"
	require.NoError(t, repo.SaveSnapshot(ctx, st))

	dir, err := repo.SessionDir(st.SessionID)
	require.NoError(t, err)
	st.Context["v"] = "legacy"
	data, err := encodeState(st)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, snapshotsDir, "1000.json"), data, 0o644))

	snap, err := repo.LoadSnapshot(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "current", snap.Context["v"])
}

func TestFileRepository_ListSessions(t *testing.T) {
	base := t.TempDir()
	repo, err := NewFileRepository(base, nil)
	require.NoError(t, err)
	ctx := context.Background()

	mk := func(id, name string, status WorkflowStatus, started time.Time, tags ...string) {
		st := sampleState(id, "a", "b")
		st.WorkflowName = name
		st.Status = status
		st.StartedAt = started
		st.Metadata.Tags = tags
		if status == WorkflowCompleted {
			st.Steps[0].Status = StepCompleted
			st.Steps[1].Status = StepCompleted
		}
		require.NoError(t, repo.Save(ctx, st))
	}

	day := func(d int) time.Time { return time.Date(2026, 2, d, 12, 0, 0, 0, time.UTC) }
	mk("20260201_120000_001", "ingest", WorkflowCompleted, day(1), "nightly")
	mk("20260203_120000_002", "ingest", WorkflowFailed, day(3), "nightly", "retry")
	mk("20260205_120000_003", "report", WorkflowCompleted, day(5))

	all, err := repo.ListSessions(ctx, SessionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "20260205_120000_003", all[0].SessionID)
	assert.Equal(t, "20260201_120000_001", all[2].SessionID)
	assert.Equal(t, 2, all[2].CompletedSteps)
	assert.Equal(t, 2, all[2].StepCount)

	byName, err := repo.ListSessions(ctx, SessionFilter{WorkflowName: "ingest"})
	require.NoError(t, err)
	assert.Len(t, byName, 2)

	byStatus, err := repo.ListSessions(ctx, SessionFilter{Status: WorkflowFailed})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "20260203_120000_002", byStatus[0].SessionID)

	byRange, err := repo.ListSessions(ctx, SessionFilter{Since: day(2), Until: day(4)})
	require.NoError(t, err)
	require.Len(t, byRange, 1)

	byTag, err := repo.ListSessions(ctx, SessionFilter{Tags: []string{"nightly", "retry"}})
	require.NoError(t, err)
	require.Len(t, byTag, 1)

	limited, err := repo.ListSessions(ctx, SessionFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	// 重新打开后索引仍然可用
	reopened, err := NewFileRepository(base, nil)
	require.NoError(t, err)
	again, err := reopened.ListSessions(ctx, SessionFilter{})
	require.NoError(t, err)
	assert.Len(t, again, 3)
}

func TestFileRepository_WithStoreAndManager(t *testing.T) {
	repo := newFileRepo(t)
	store := NewStore(repo, StoreConfig{SnapshotInterval: 2, CompactionThreshold: 10})
	m := NewManager(store, nil, nil)
	ctx := context.Background()

	s, err := m.InitializeSession(ctx, testDefinition("a", "b"), InitOptions{})
	require.NoError(t, err)
	_, err = m.SaveStep(ctx, s, "a", "A", map[string]any{"a": "A"})
	require.NoError(t, err)
	_, err = m.SaveStep(ctx, s, "b", "B", map[string]any{"a": "A", "b": "B"})
	require.NoError(t, err)

	replayed, err := store.Replay(ctx, s.ID(), "")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "A", "b": "B"}, replayed.Context)

	history, err := repo.LoadHistory(ctx, s.ID())
	require.NoError(t, err)
	assert.Len(t, history, 3)

	_, err = repo.LoadSnapshot(ctx, s.ID())
	require.NoError(t, err)
}
