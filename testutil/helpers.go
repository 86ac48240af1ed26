// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试辅助函数、断言与状态层夹具
//
// 使用方法:
//
//	manager, repo := testutil.NewFileManager(t)
//	testutil.AssertRolesEqual(t, []types.Role{types.RoleUser, types.RoleAssistant}, transcript)
//
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/BaSui01/stepflow/types"
	"github.com/BaSui01/stepflow/workflow/state"
	"go.uber.org/zap/zaptest"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	return TestContextWithTimeout(t, 30*time.Second)
}

// TestContextWithTimeout 返回带自定义超时的测试上下文
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// 💾 状态层夹具
// =============================================================================

// NewFileManager builds a Manager over a FileRepository rooted in a
// per-test temp dir.
func NewFileManager(t *testing.T, opts ...state.ManagerOption) (*state.Manager, *state.FileRepository) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	repo, err := state.NewFileRepository(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("create file repository: %v", err)
	}
	store := state.NewStore(repo, state.DefaultStoreConfig(), state.WithStoreLogger(logger))
	return state.NewManager(store, nil, logger, opts...), repo
}

// NewMemoryManager builds a Manager over a MemoryRepository.
func NewMemoryManager(t *testing.T, opts ...state.ManagerOption) (*state.Manager, *state.MemoryRepository) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	repo := state.NewMemoryRepository()
	store := state.NewStore(repo, state.DefaultStoreConfig(), state.WithStoreLogger(logger))
	return state.NewManager(store, nil, logger, opts...), repo
}

// =============================================================================
// 🔍 断言辅助
// =============================================================================

// AssertRolesEqual 断言消息序列的角色依次相等
func AssertRolesEqual(t *testing.T, expected []types.Role, actual []types.Message) {
	t.Helper()

	if len(expected) != len(actual) {
		t.Errorf("message count mismatch: expected %d, got %d", len(expected), len(actual))
		return
	}
	for i := range expected {
		if expected[i] != actual[i].Role {
			t.Errorf("message[%d] role mismatch: expected %q, got %q", i, expected[i], actual[i].Role)
		}
	}
}

// AssertJSONEqual 断言两个值的 JSON 表示相等
func AssertJSONEqual(t *testing.T, expected, actual any) {
	t.Helper()

	expectedJSON, err := json.Marshal(expected)
	if err != nil {
		t.Fatalf("failed to marshal expected: %v", err)
	}
	actualJSON, err := json.Marshal(actual)
	if err != nil {
		t.Fatalf("failed to marshal actual: %v", err)
	}
	if string(expectedJSON) != string(actualJSON) {
		t.Errorf("JSON mismatch:\nexpected: %s\nactual: %s", expectedJSON, actualJSON)
	}
}

// =============================================================================
// ⏱️ 时间辅助
// =============================================================================

// WaitFor 等待条件满足或超时
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// =============================================================================
// 🔧 测试数据辅助
// =============================================================================

// MustJSON 将值转换为 JSON 字符串，失败时 panic
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
