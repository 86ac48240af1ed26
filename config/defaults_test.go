package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	// Each sub-config should be non-zero
	assert.NotEqual(t, StateConfig{}, cfg.State)
	assert.NotEqual(t, EngineConfig{}, cfg.Engine)
	assert.NotEqual(t, LLMConfig{}, cfg.LLM)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	assert.NotEqual(t, MetricsConfig{}, cfg.Metrics)
	assert.NoError(t, cfg.Validate())
}

// --- Individual Default*Config functions ---

func TestDefaultStateConfig(t *testing.T) {
	cfg := DefaultStateConfig()
	assert.Equal(t, ".stepflow/sessions", cfg.BaseDir)
	assert.Equal(t, 10, cfg.SnapshotInterval)
	assert.Equal(t, 100, cfg.CompactionThreshold)
}

func TestDefaultEngineConfig(t *testing.T) {
	cfg := DefaultEngineConfig()
	assert.Equal(t, 25, cfg.MaxToolRounds)
	assert.Equal(t, 10, cfg.DefaultMaxSteps)
	assert.Equal(t, "error", cfg.DefaultFallback)
	assert.InDelta(t, 0.7, cfg.Temperature, 0.001)
	assert.Zero(t, cfg.MaxTokens)
	assert.Zero(t, cfg.Timeout)
}

func TestDefaultLLMConfig(t *testing.T) {
	cfg := DefaultLLMConfig()
	assert.Equal(t, "openai", cfg.DefaultProvider)
	assert.Equal(t, "gpt-4o", cfg.DefaultModel)
	assert.Empty(t, cfg.APIKey)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stderr"}, cfg.OutputPaths)
	assert.True(t, cfg.EnableCaller)
	assert.False(t, cfg.EnableStacktrace)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "stepflow", cfg.ServiceName)
	assert.InDelta(t, 0.1, cfg.SampleRate, 0.001)
}

func TestDefaultMetricsConfig(t *testing.T) {
	cfg := DefaultMetricsConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "stepflow", cfg.Namespace)
}
