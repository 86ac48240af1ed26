// 配置加载器与验证测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	// 不指定配置文件，应该返回默认值
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ".stepflow/sessions", cfg.State.BaseDir)
	assert.Equal(t, 25, cfg.Engine.MaxToolRounds)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "stepflow.yaml")

	yamlContent := `
state:
  base_dir: /var/lib/stepflow
  snapshot_interval: 5
  compaction_threshold: 50

engine:
  max_tool_rounds: 8
  default_max_steps: 4
  default_fallback: summarize
  timeout: 90s

llm:
  default_model: "claude-3"

log:
  level: "debug"
  format: "console"
  output_paths: [stdout, /tmp/stepflow.log]

metrics:
  namespace: wf
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	// 验证 YAML 值覆盖了默认值
	assert.Equal(t, "/var/lib/stepflow", cfg.State.BaseDir)
	assert.Equal(t, 5, cfg.State.SnapshotInterval)
	assert.Equal(t, 50, cfg.State.CompactionThreshold)
	assert.Equal(t, 8, cfg.Engine.MaxToolRounds)
	assert.Equal(t, 4, cfg.Engine.DefaultMaxSteps)
	assert.Equal(t, "summarize", cfg.Engine.DefaultFallback)
	assert.Equal(t, 90*time.Second, cfg.Engine.Timeout)
	assert.Equal(t, "claude-3", cfg.LLM.DefaultModel)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, []string{"stdout", "/tmp/stepflow.log"}, cfg.Log.OutputPaths)
	assert.Equal(t, "wf", cfg.Metrics.Namespace)

	// 未出现的字段保留默认值
	assert.Equal(t, "openai", cfg.LLM.DefaultProvider)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("STEPFLOW_STATE_BASE_DIR", "/env/sessions")
	t.Setenv("STEPFLOW_STATE_SNAPSHOT_INTERVAL", "3")
	t.Setenv("STEPFLOW_ENGINE_TEMPERATURE", "0.2")
	t.Setenv("STEPFLOW_ENGINE_TIMEOUT", "2m")
	t.Setenv("STEPFLOW_LOG_OUTPUT_PATHS", "stdout, stderr")
	t.Setenv("STEPFLOW_TELEMETRY_ENABLED", "true")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "/env/sessions", cfg.State.BaseDir)
	assert.Equal(t, 3, cfg.State.SnapshotInterval)
	assert.InDelta(t, 0.2, cfg.Engine.Temperature, 0.001)
	assert.Equal(t, 2*time.Minute, cfg.Engine.Timeout)
	assert.Equal(t, []string{"stdout", "stderr"}, cfg.Log.OutputPaths)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "stepflow.yaml")
	yamlContent := `
state:
  base_dir: /yaml/sessions
  compaction_threshold: 40
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	// 环境变量应该覆盖 YAML
	t.Setenv("STEPFLOW_STATE_BASE_DIR", "/env/sessions")

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, "/env/sessions", cfg.State.BaseDir)
	// YAML 值应该保留（没有被环境变量覆盖）
	assert.Equal(t, 40, cfg.State.CompactionThreshold)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_ENGINE_MAX_TOOL_ROUNDS", "3")

	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Engine.MaxToolRounds)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("STEPFLOW_STATE_SNAPSHOT_INTERVAL", "often")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STEPFLOW_STATE_SNAPSHOT_INTERVAL")
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("STEPFLOW_ENGINE_DEFAULT_FALLBACK", "retry")

	_, err := NewLoader().
		WithValidator((*Config).Validate).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.default_fallback")
}

func TestLoader_NonExistentFile(t *testing.T) {
	// 指定不存在的文件，应该使用默认值（不报错）
	cfg, err := NewLoader().
		WithConfigPath("/non/existent/path/stepflow.yaml").
		Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultStateConfig(), cfg.State)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")
	invalidYAML := `
state:
  base_dir: [invalid
  this is not valid yaml
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidYAML), 0o644))

	_, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	assert.Error(t, err)
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid default config", modify: func(c *Config) {}},
		{name: "empty base dir", modify: func(c *Config) { c.State.BaseDir = "" }, wantErr: "state.base_dir"},
		{name: "negative snapshot interval", modify: func(c *Config) { c.State.SnapshotInterval = -1 }, wantErr: "snapshot_interval"},
		{name: "negative compaction threshold", modify: func(c *Config) { c.State.CompactionThreshold = -5 }, wantErr: "compaction_threshold"},
		{name: "zero tool rounds", modify: func(c *Config) { c.Engine.MaxToolRounds = 0 }, wantErr: "max_tool_rounds"},
		{name: "zero max steps", modify: func(c *Config) { c.Engine.DefaultMaxSteps = 0 }, wantErr: "default_max_steps"},
		{name: "unknown fallback", modify: func(c *Config) { c.Engine.DefaultFallback = "retry" }, wantErr: "default_fallback"},
		{name: "temperature too high", modify: func(c *Config) { c.Engine.Temperature = 3 }, wantErr: "temperature"},
		{name: "unknown log format", modify: func(c *Config) { c.Log.Format = "xml" }, wantErr: "log.format"},
		{name: "sample rate above one", modify: func(c *Config) { c.Telemetry.SampleRate = 1.5 }, wantErr: "sample_rate"},
		{name: "disabled snapshots are valid", modify: func(c *Config) { c.State.SnapshotInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// --- MustLoad 测试 ---

func TestMustLoad_Success(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "stepflow.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("engine:\n  max_tool_rounds: 12\n"), 0o644))

	assert.NotPanics(t, func() {
		cfg := MustLoad(configPath)
		assert.Equal(t, 12, cfg.Engine.MaxToolRounds)
	})
}

func TestMustLoad_InvalidFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("invalid: [yaml"), 0o644))

	assert.Panics(t, func() {
		MustLoad(configPath)
	})
}

func TestLoadFromEnv_Function(t *testing.T) {
	t.Setenv("STEPFLOW_LLM_DEFAULT_MODEL", "env-model")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "env-model", cfg.LLM.DefaultModel)
}
