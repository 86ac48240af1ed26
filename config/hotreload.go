// 配置热重载实现。
//
// Reloader 在 ChangeNotifier 报告配置文件变更时重新加载，
// 校验失败保留当前配置，成功时计算字段级差异并通知回调。
package config

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 热重载类型定义 ---

// ConfigChange 代表一个字段的配置更改
type ConfigChange struct {
	// 已更改字段的路径（例如 "State.SnapshotInterval"）
	Path string `json:"path"`

	// 更改前后的值，敏感字段已脱敏
	OldValue any `json:"old_value,omitempty"`
	NewValue any `json:"new_value,omitempty"`

	// RequiresRestart 指示此更改是否需要重启进程才能生效
	RequiresRestart bool `json:"requires_restart"`

	// 检测到更改的时间
	Timestamp time.Time `json:"timestamp"`
}

// ReloadCallback 在新配置生效后调用
type ReloadCallback func(oldConfig, newConfig *Config, changes []ConfigChange)

// hotReloadable 列出运行中即可生效的字段，其余字段需要重启
var hotReloadable = map[string]bool{
	"State.SnapshotInterval":    true,
	"State.CompactionThreshold": true,
	"Log.Level":                 true,
}

// sensitiveFields 在日志与回调中脱敏
var sensitiveFields = map[string]bool{
	"LLM.APIKey": true,
}

// IsHotReloadable reports whether a change to path takes effect without a
// restart.
func IsHotReloadable(path string) bool {
	return hotReloadable[path]
}

// Reloader 管理配置热重载
type Reloader struct {
	mu sync.RWMutex

	loader   *Loader
	notifier ChangeNotifier
	current  *Config

	callbacks []ReloadCallback
	logger    *zap.Logger
}

// NewReloader 创建热重载器，initial 为当前生效的配置
func NewReloader(loader *Loader, notifier ChangeNotifier, initial *Config, logger *zap.Logger) *Reloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if initial == nil {
		initial = DefaultConfig()
	}
	return &Reloader{
		loader:   loader,
		notifier: notifier,
		current:  initial,
		logger:   logger.With(zap.String("component", "config_reloader")),
	}
}

// OnReload 注册配置重新加载的回调
func (r *Reloader) OnReload(callback ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, callback)
}

// Config 返回当前生效的配置
func (r *Reloader) Config() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Start 订阅文件变更并启动 notifier
func (r *Reloader) Start(ctx context.Context) error {
	r.notifier.OnChange(func(event FileEvent) {
		if event.Op == FileOpRemove {
			r.logger.Warn("config file removed, keeping current config", zap.String("path", event.Path))
			return
		}
		if _, err := r.Reload(); err != nil {
			r.logger.Error("config reload failed, keeping current config",
				zap.String("path", event.Path), zap.Error(err))
		}
	})
	return r.notifier.Start(ctx)
}

// Stop 停止 notifier
func (r *Reloader) Stop() error {
	return r.notifier.Stop()
}

// Reload 重新加载配置；失败时保留当前配置
func (r *Reloader) Reload() ([]ConfigChange, error) {
	next, err := r.loader.Load()
	if err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	r.mu.Lock()
	old := r.current
	changes := detectChanges(old, next)
	if len(changes) == 0 {
		r.mu.Unlock()
		r.logger.Debug("config file changed without effective changes")
		return nil, nil
	}
	r.current = next
	callbacks := append([]ReloadCallback(nil), r.callbacks...)
	r.mu.Unlock()

	requiresRestart := false
	for _, change := range changes {
		requiresRestart = requiresRestart || change.RequiresRestart
		r.logger.Info("configuration changed",
			zap.String("path", change.Path),
			zap.Any("old_value", change.OldValue),
			zap.Any("new_value", change.NewValue),
			zap.Bool("requires_restart", change.RequiresRestart))
	}
	if requiresRestart {
		r.logger.Warn("some configuration changes require restart to take effect")
	}

	for _, cb := range callbacks {
		r.notify(cb, old, next, changes)
	}
	return changes, nil
}

// notify 调用回调并捕获 panic
func (r *Reloader) notify(cb ReloadCallback, old, next *Config, changes []ConfigChange) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("reload callback panicked", zap.Any("panic", rec))
		}
	}()
	cb(old, next, changes)
}

// detectChanges 检测新旧配置之间的变化
func detectChanges(oldConfig, newConfig *Config) []ConfigChange {
	var changes []ConfigChange
	now := time.Now()
	compareStructs("", reflect.ValueOf(oldConfig).Elem(), reflect.ValueOf(newConfig).Elem(), now, &changes)
	return changes
}

// compareStructs 递归比较结构体字段
func compareStructs(prefix string, oldVal, newVal reflect.Value, now time.Time, changes *[]ConfigChange) {
	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		path := field.Name
		if prefix != "" {
			path = prefix + "." + field.Name
		}

		oldField, newField := oldVal.Field(i), newVal.Field(i)
		if oldField.Kind() == reflect.Struct {
			compareStructs(path, oldField, newField, now, changes)
			continue
		}
		if reflect.DeepEqual(oldField.Interface(), newField.Interface()) {
			continue
		}

		change := ConfigChange{
			Path:            path,
			OldValue:        oldField.Interface(),
			NewValue:        newField.Interface(),
			RequiresRestart: !hotReloadable[path],
			Timestamp:       now,
		}
		if sensitiveFields[path] {
			change.OldValue, change.NewValue = "[REDACTED]", "[REDACTED]"
		}
		*changes = append(*changes, change)
	}
}
