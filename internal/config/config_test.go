package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockpulse/internal/models"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Collector.Interval)
	assert.Equal(t, 7, cfg.Collector.RetentionDays)
	assert.Equal(t, "lz4", cfg.Optimizer.Codec)
	assert.Equal(t, 100000, cfg.Index.RebuildLimit)
	assert.Equal(t, 100, cfg.WebSocket.MaxClients)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 30*time.Second, cfg.Logs.DiscoverInterval)
	assert.Equal(t, time.Hour, cfg.Logs.Backlog)

	cpu, ok := cfg.Thresholds[models.MetricCPUPercent]
	require.True(t, ok)
	assert.Equal(t, 70.0, cpu.Warning)
	assert.Equal(t, 90.0, cpu.Critical)
	assert.True(t, cpu.Enabled)
}

func TestLoadConfig_FileOverrides(t *testing.T) {
	dir := t.TempDir()
	yaml := `
collector:
  interval: 10s
optimizer:
  codec: gzip
websocket:
  max_clients: 5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Collector.Interval)
	assert.Equal(t, "gzip", cfg.Optimizer.Codec)
	assert.Equal(t, 5, cfg.WebSocket.MaxClients)
	assert.Equal(t, 7, cfg.Collector.RetentionDays)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("DOCKPULSE_COLLECTOR_RETENTION_DAYS", "3")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Collector.RetentionDays)
}

func TestLoadConfig_RejectsInvertedThreshold(t *testing.T) {
	dir := t.TempDir()
	yaml := `
thresholds:
  cpu_percent:
    warning: 95
    critical: 90
    enabled: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	_, err := LoadConfig(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cpu_percent")
}

func TestValidate_RejectsUnknownCodec(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	cfg.Optimizer.Codec = "brotli"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsNonPositiveInterval(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	cfg.WebSocket.PingInterval = 0
	assert.Error(t, cfg.Validate())
}
