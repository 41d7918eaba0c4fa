package alert

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockpulse/internal/models"
)

func cpuOnlyEngine() *Engine {
	return NewEngine(map[models.MetricType]models.ThresholdConfig{
		models.MetricCPUPercent: {Warning: 70, Critical: 90, Enabled: true},
	})
}

func TestEvaluate_CPULevels(t *testing.T) {
	engine := cpuOnlyEngine()
	now := time.Now()

	tests := []struct {
		name  string
		cpu   float64
		level models.AlertLevel
		count int
	}{
		{name: "critical", cpu: 95, level: models.AlertLevelCritical, count: 1},
		{name: "critical at bound", cpu: 90, level: models.AlertLevelCritical, count: 1},
		{name: "warning", cpu: 75, level: models.AlertLevelWarning, count: 1},
		{name: "warning at bound", cpu: 70, level: models.AlertLevelWarning, count: 1},
		{name: "below", cpu: 50, count: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sample := &models.MetricSample{ContainerID: "c1", ContainerName: "web-1", Timestamp: now, CPUPercent: tt.cpu}
			alerts := engine.Evaluate(sample, nil)
			require.Len(t, alerts, tt.count)
			if tt.count == 1 {
				assert.Equal(t, tt.level, alerts[0].Level)
				assert.Equal(t, models.MetricCPUPercent, alerts[0].Metric)
				assert.Equal(t, tt.cpu, alerts[0].Value)
				assert.Equal(t, "c1", alerts[0].ContainerID)
				assert.NotEmpty(t, alerts[0].ID)
			}
		})
	}
}

func TestEvaluate_DisabledMetric(t *testing.T) {
	engine := cpuOnlyEngine()
	require.NoError(t, engine.UpdateThreshold(models.MetricCPUPercent, 70, 90, false))

	sample := &models.MetricSample{ContainerID: "c1", Timestamp: time.Now(), CPUPercent: 99}
	assert.Empty(t, engine.Evaluate(sample, nil))
}

func TestEvaluate_NetworkNeedsPreviousSample(t *testing.T) {
	engine := NewEngine(nil)
	now := time.Now()

	first := &models.MetricSample{ContainerID: "c1", Timestamp: now, NetworkRxBytes: 10 * megabyte * 1024}
	assert.Empty(t, engine.Evaluate(first, nil))

	second := &models.MetricSample{
		ContainerID:    "c1",
		Timestamp:      now.Add(2 * time.Second),
		NetworkRxBytes: first.NetworkRxBytes + 300*megabyte,
	}
	alerts := engine.Evaluate(second, first)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.MetricNetworkRx, alerts[0].Metric)
	assert.Equal(t, models.AlertLevelWarning, alerts[0].Level)
	assert.InDelta(t, 150*megabyte, alerts[0].Value, 1)
}

func TestEvaluate_MultipleAlerts(t *testing.T) {
	engine := NewEngine(nil)
	now := time.Now()

	prev := &models.MetricSample{ContainerID: "c1", Timestamp: now}
	sample := &models.MetricSample{
		ContainerID:    "c1",
		Timestamp:      now.Add(time.Second),
		CPUPercent:     96,
		NetworkRxBytes: 200 * megabyte,
	}

	alerts := engine.Evaluate(sample, prev)
	require.Len(t, alerts, 2)
	assert.Equal(t, models.MetricCPUPercent, alerts[0].Metric)
	assert.Equal(t, models.AlertLevelCritical, alerts[0].Level)
	assert.Equal(t, models.MetricNetworkRx, alerts[1].Metric)
	assert.Equal(t, models.AlertLevelWarning, alerts[1].Level)
}

func TestEvaluate_CounterResetRaisesNothing(t *testing.T) {
	engine := NewEngine(nil)
	now := time.Now()

	prev := &models.MetricSample{ContainerID: "c1", Timestamp: now, NetworkTxBytes: 900 * megabyte}
	sample := &models.MetricSample{ContainerID: "c1", Timestamp: now.Add(time.Second), NetworkTxBytes: 10}
	assert.Empty(t, engine.Evaluate(sample, prev))
}

func TestUpdateThreshold_RejectsInvertedBounds(t *testing.T) {
	engine := cpuOnlyEngine()

	err := engine.UpdateThreshold(models.MetricCPUPercent, 90, 70, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidThreshold))

	err = engine.UpdateThreshold(models.MetricCPUPercent, 80, 80, true)
	assert.True(t, errors.Is(err, ErrInvalidThreshold))

	cfg := engine.Thresholds()[models.MetricCPUPercent]
	assert.Equal(t, 70.0, cfg.Warning)
	assert.Equal(t, 90.0, cfg.Critical)
}

func TestUpdateThreshold_UnknownMetric(t *testing.T) {
	engine := cpuOnlyEngine()
	err := engine.UpdateThreshold("disk_temperature", 1, 2, true)
	assert.True(t, errors.Is(err, ErrUnknownMetric))
}

func TestUpdateThreshold_EnablesNewMetric(t *testing.T) {
	engine := cpuOnlyEngine()
	require.NoError(t, engine.UpdateThreshold(models.MetricPids, 100, 500, true))

	sample := &models.MetricSample{ContainerID: "c1", Timestamp: time.Now(), PIDs: 600}
	alerts := engine.Evaluate(sample, nil)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.MetricPids, alerts[0].Metric)
	assert.Equal(t, models.AlertLevelCritical, alerts[0].Level)
}

func TestEvaluate_MemoryLimit(t *testing.T) {
	engine := cpuOnlyEngine()
	require.NoError(t, engine.UpdateThreshold(models.MetricMemoryLimit, 1<<30, 4<<30, true))

	sample := &models.MetricSample{ContainerID: "c1", Timestamp: time.Now(), MemoryLimit: 2 << 30}
	alerts := engine.Evaluate(sample, nil)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.MetricMemoryLimit, alerts[0].Metric)
	assert.Equal(t, models.AlertLevelWarning, alerts[0].Level)
	assert.Equal(t, float64(2<<30), alerts[0].Value)
}

func TestThresholdsFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.json")
	source := NewEngine(nil)
	require.NoError(t, source.UpdateThreshold(models.MetricCPUPercent, 50, 60, true))
	require.NoError(t, source.ExportThresholdsToFile(path))

	target := cpuOnlyEngine()
	require.NoError(t, target.ImportThresholdsFromFile(path))
	assert.Equal(t, source.Thresholds(), target.Thresholds())
}

func TestImportThresholds_RejectsWholeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.json")
	require.NoError(t, WriteThresholdsFile(path, map[models.MetricType]models.ThresholdConfig{
		models.MetricCPUPercent:    {Warning: 10, Critical: 20, Enabled: true},
		models.MetricMemoryPercent: {Warning: 99, Critical: 20, Enabled: true},
	}))

	engine := cpuOnlyEngine()
	err := engine.ImportThresholdsFromFile(path)
	assert.True(t, errors.Is(err, ErrInvalidThreshold))
	assert.Equal(t, 70.0, engine.Thresholds()[models.MetricCPUPercent].Warning)
}
