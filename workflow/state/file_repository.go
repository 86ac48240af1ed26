package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/stepflow/types"
	"go.uber.org/zap"
)

const (
	indexFileName = "index.json"
	stateFileName = "state.json"
	stepsDirName  = "steps"
	historyDir    = "history"
	snapshotsDir  = "snapshots"
)

// FileRepository 基于本地目录树的会话存储，适合单进程部署。
//
// 布局:
//
//	<base>/index.json
//	<base>/<yyyy>/<mm>/<sessionId>/state.json
//	<base>/<yyyy>/<mm>/<sessionId>/steps/<NNN>_<name>.json
//	<base>/<yyyy>/<mm>/<sessionId>/history/<ms>_<seq>.json
//	<base>/<yyyy>/<mm>/<sessionId>/snapshots/<ms>_<seq>.json
//
// 所有写入均为原子写: 先写临时文件再 rename。
type FileRepository struct {
	baseDir string
	mu      sync.Mutex
	index   map[string]SessionSummary
	seq     uint64
	now     func() time.Time
	logger  *zap.Logger
}

// NewFileRepository 创建文件存储并加载已有索引
func NewFileRepository(baseDir string, logger *zap.Logger) (*FileRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, types.NewPersistenceError("create state directory", err)
	}

	r := &FileRepository{
		baseDir: baseDir,
		index:   make(map[string]SessionSummary),
		now:     time.Now,
		logger:  logger.With(zap.String("component", "file_repository")),
	}
	if err := r.loadIndex(); err != nil {
		return nil, types.NewPersistenceError("load session index", err)
	}
	return r, nil
}

// BaseDir returns the root directory of the repository.
func (r *FileRepository) BaseDir() string { return r.baseDir }

// SessionDir returns the directory holding a session's files.
func (r *FileRepository) SessionDir(sessionID string) (string, error) {
	year, month, err := sessionPartition(sessionID)
	if err != nil {
		return "", types.NewError(types.ErrInvalidRequest, err.Error())
	}
	return filepath.Join(r.baseDir, year, month, sessionID), nil
}

func (r *FileRepository) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(r.baseDir, indexFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var index map[string]SessionSummary
	if err := json.Unmarshal(data, &index); err != nil {
		return err
	}
	if index != nil {
		r.index = index
	}
	return nil
}

// writeAtomic 原子写: 写入临时文件后重命名
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func (r *FileRepository) Save(ctx context.Context, st *WorkflowState) error {
	if st == nil {
		return types.NewError(types.ErrInvalidRequest, "nil workflow state")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := r.SessionDir(st.SessionID)
	if err != nil {
		return err
	}
	data, err := encodeState(st)
	if err != nil {
		return types.NewPersistenceError("encode state", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := writeAtomic(filepath.Join(dir, stateFileName), data); err != nil {
		return types.NewPersistenceError("write state file", err)
	}

	for _, step := range st.Steps {
		if step.Status == StepPending {
			continue
		}
		stepData, err := json.MarshalIndent(step, "", "  ")
		if err != nil {
			return types.NewPersistenceError("encode step "+step.Name, err)
		}
		if err := writeAtomic(filepath.Join(dir, stepsDirName, stepFileName(step)), stepData); err != nil {
			return types.NewPersistenceError("write step file", err)
		}
	}

	r.seq++
	name := fmt.Sprintf("%013d_%06d.json", r.now().UnixMilli(), r.seq%1_000_000)
	if err := writeAtomic(filepath.Join(dir, historyDir, name), data); err != nil {
		return types.NewPersistenceError("write history file", err)
	}

	r.index[st.SessionID] = Summarize(st)
	if err := r.writeIndex(); err != nil {
		return types.NewPersistenceError("write session index", err)
	}

	r.logger.Debug("state saved",
		zap.String("session_id", st.SessionID),
		zap.String("status", string(st.Status)))
	return nil
}

func stepFileName(step StepState) string {
	return fmt.Sprintf("%03d_%s.json", step.Index, sanitizeName(step.Name))
}

func (r *FileRepository) writeIndex() error {
	data, err := json.MarshalIndent(r.index, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(r.baseDir, indexFileName), data)
}

func (r *FileRepository) Load(ctx context.Context, sessionID string) (*WorkflowState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := r.SessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	return readStateFile(filepath.Join(dir, stateFileName), sessionID)
}

func readStateFile(path, sessionID string) (*WorkflowState, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, types.NewNotFoundError("session", sessionID)
	}
	if err != nil {
		return nil, types.NewPersistenceError("read "+filepath.Base(path), err)
	}
	st, err := decodeState(data)
	if err != nil {
		return nil, types.NewPersistenceError("decode "+filepath.Base(path), err)
	}
	return st, nil
}

// LoadStep reads the individually persisted file of one non-pending step.
func (r *FileRepository) LoadStep(ctx context.Context, sessionID string, index int, name string) (*StepState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := r.SessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, stepsDirName, stepFileName(StepState{Index: index, Name: name}))
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, types.NewNotFoundError("step", StepID(name, index))
	}
	if err != nil {
		return nil, types.NewPersistenceError("read step file", err)
	}
	var step StepState
	if err := json.Unmarshal(data, &step); err != nil {
		return nil, types.NewPersistenceError("decode step file", err)
	}
	step.Input = promoteDates(step.Input)
	step.Output = promoteDates(step.Output)
	step.Metadata = promoteMap(step.Metadata)
	return &step, nil
}

func (r *FileRepository) SaveSnapshot(ctx context.Context, st *WorkflowState) error {
	if st == nil {
		return types.NewError(types.ErrInvalidRequest, "nil workflow state")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := r.SessionDir(st.SessionID)
	if err != nil {
		return err
	}
	data, err := encodeState(st)
	if err != nil {
		return types.NewPersistenceError("encode snapshot", err)
	}
	r.mu.Lock()
	r.seq++
	name := fmt.Sprintf("%013d_%06d.json", r.now().UnixMilli(), r.seq%1_000_000)
	r.mu.Unlock()
	if err := writeAtomic(filepath.Join(dir, snapshotsDir, name), data); err != nil {
		return types.NewPersistenceError("write snapshot", err)
	}
	r.logger.Debug("snapshot written", zap.String("session_id", st.SessionID), zap.String("file", name))
	return nil
}

func (r *FileRepository) LoadSnapshot(ctx context.Context, sessionID string) (*WorkflowState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := r.SessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	names, err := listJSON(filepath.Join(dir, snapshotsDir))
	if err != nil {
		return nil, types.NewPersistenceError("list snapshots", err)
	}
	if len(names) == 0 {
		return nil, types.NewNotFoundError("snapshot", sessionID)
	}
	// <ms>_<seq> 定长可按字典序比较；旧版 <ms>.json 更短，排在前面
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) < len(names[j])
		}
		return names[i] < names[j]
	})
	return readStateFile(filepath.Join(dir, snapshotsDir, names[len(names)-1]), sessionID)
}

func (r *FileRepository) LoadHistory(ctx context.Context, sessionID string) ([]*WorkflowState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := r.SessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	names, err := listJSON(filepath.Join(dir, historyDir))
	if err != nil {
		return nil, types.NewPersistenceError("list history", err)
	}
	sort.Strings(names)

	out := make([]*WorkflowState, 0, len(names))
	for _, name := range names {
		st, err := readStateFile(filepath.Join(dir, historyDir, name), sessionID)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// listJSON returns the .json file names in dir; a missing dir yields none.
func listJSON(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func (r *FileRepository) ListSessions(ctx context.Context, filter SessionFilter) ([]SessionSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	out := make([]SessionSummary, 0, len(r.index))
	for _, s := range r.index {
		if filter.Match(s) {
			out = append(out, s)
		}
	}
	r.mu.Unlock()

	sortSummaries(out)
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

// sortSummaries orders by start time, newest first; ties fall back to id.
func sortSummaries(s []SessionSummary) {
	sort.Slice(s, func(i, j int) bool {
		if !s[i].StartedAt.Equal(s[j].StartedAt) {
			return s[i].StartedAt.After(s[j].StartedAt)
		}
		return s[i].SessionID > s[j].SessionID
	})
}
