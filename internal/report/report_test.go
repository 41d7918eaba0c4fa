package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockpulse/internal/models"
)

var base = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func sample(id string, offset time.Duration, cpu, mem float64) models.MetricSample {
	return models.MetricSample{
		ContainerID:   id,
		ContainerName: id + "-name",
		Timestamp:     base.Add(offset),
		CPUPercent:    cpu,
		MemoryPercent: mem,
	}
}

func raised(id string, offset time.Duration, metric models.MetricType, level models.AlertLevel) models.Alert {
	return models.Alert{
		ContainerID:   id,
		ContainerName: id + "-name",
		Timestamp:     base.Add(offset),
		Metric:        metric,
		Level:         level,
	}
}

func TestBuild(t *testing.T) {
	samples := []models.MetricSample{
		sample("a", 0, 10, 20),
		sample("a", 30*time.Minute, 30, 40),
		sample("b", 10*time.Minute, 80, 50),
		sample("b", 70*time.Minute, 60, 70),
		sample("c", -time.Hour, 99, 99),
	}
	alerts := []models.Alert{
		raised("b", 10*time.Minute, models.MetricCPUPercent, models.AlertLevelWarning),
		raised("b", 70*time.Minute, models.MetricCPUPercent, models.AlertLevelCritical),
		raised("a", 30*time.Minute, models.MetricMemoryPercent, models.AlertLevelWarning),
		raised("c", -time.Hour, models.MetricCPUPercent, models.AlertLevelCritical),
	}

	r := Build(base, base.Add(2*time.Hour), samples, alerts)

	assert.Equal(t, 4, r.Samples)
	assert.Equal(t, 3, r.AlertSummary.TotalAlerts)
	assert.Equal(t, 1, r.AlertSummary.CriticalAlerts)
	assert.Equal(t, 2, r.AlertSummary.WarningAlerts)

	require.Len(t, r.AlertSummary.TopMetrics, 2)
	top := r.AlertSummary.TopMetrics[0]
	assert.Equal(t, models.MetricCPUPercent, top.Metric)
	assert.Equal(t, 2, top.AlertCount)
	assert.Equal(t, models.AlertLevelCritical, top.MaxLevel)
	assert.Equal(t, []string{"b-name"}, top.TopTargets)

	require.Len(t, r.TopContainers, 2)
	assert.Equal(t, "b", r.TopContainers[0].ContainerID)
	assert.InDelta(t, 70, r.TopContainers[0].CPUAvg, 1e-9)
	assert.InDelta(t, 80, r.TopContainers[0].CPUMax, 1e-9)
	assert.Equal(t, 2, r.TopContainers[0].AlertCount)
	assert.Equal(t, "a", r.TopContainers[1].ContainerID)
	assert.InDelta(t, 30, r.TopContainers[1].MemAvg, 1e-9)

	require.Len(t, r.Trends.CPUTrend, 2)
	assert.Equal(t, base, r.Trends.CPUTrend[0].Timestamp)
	assert.InDelta(t, 40, r.Trends.CPUTrend[0].Value, 1e-9)
	assert.InDelta(t, 60, r.Trends.CPUTrend[1].Value, 1e-9)
	assert.InDelta(t, 70, r.Trends.MemoryTrend[1].Value, 1e-9)
}

func TestBuild_Empty(t *testing.T) {
	r := Build(base, base.Add(time.Hour), nil, nil)
	assert.Zero(t, r.Samples)
	assert.Empty(t, r.TopContainers)
	assert.NotNil(t, r.AlertSummary.TopMetrics)
	assert.NotNil(t, r.Trends.CPUTrend)
}

func TestWriteHTML(t *testing.T) {
	r := Build(base, base.Add(time.Hour), []models.MetricSample{sample("<web>", 0, 12.34, 5)}, nil)

	var buf bytes.Buffer
	require.NoError(t, WriteHTML(&buf, r))
	out := buf.String()
	assert.Contains(t, out, "12.3%")
	assert.Contains(t, out, "&lt;web&gt;-name")
	assert.NotContains(t, out, "<web>")
}
