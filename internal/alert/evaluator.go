package alert

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/dockpulse/internal/models"
)

var (
	ErrInvalidThreshold = errors.New("warning threshold must be below critical threshold")
	ErrUnknownMetric    = errors.New("unknown metric type")
)

// Engine evaluates samples against the configured thresholds. Apart from
// reading its threshold table it holds no state.
type Engine struct {
	mutex      sync.RWMutex
	thresholds map[models.MetricType]models.ThresholdConfig
	newID      func() string
}

// NewEngine copies thresholds. A nil map selects DefaultThresholds.
func NewEngine(thresholds map[models.MetricType]models.ThresholdConfig) *Engine {
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}
	table := make(map[models.MetricType]models.ThresholdConfig, len(thresholds))
	for k, v := range thresholds {
		table[k] = v
	}
	return &Engine{
		thresholds: table,
		newID:      func() string { return uuid.New().String() },
	}
}

// UpdateThreshold replaces the thresholds of one metric type. The table is
// left untouched when the bounds are not strictly ordered.
func (e *Engine) UpdateThreshold(metric models.MetricType, warning, critical float64, enabled bool) error {
	if !metric.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}
	if warning >= critical {
		return fmt.Errorf("%w: %s warning=%v critical=%v", ErrInvalidThreshold, metric, warning, critical)
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.thresholds[metric] = models.ThresholdConfig{Warning: warning, Critical: critical, Enabled: enabled}
	return nil
}

// Thresholds returns a copy of the current table.
func (e *Engine) Thresholds() map[models.MetricType]models.ThresholdConfig {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	out := make(map[models.MetricType]models.ThresholdConfig, len(e.thresholds))
	for k, v := range e.thresholds {
		out[k] = v
	}
	return out
}

// Evaluate returns the alerts raised by sample. prev is the preceding
// sample of the same container and may be nil; rate metrics need it.
func (e *Engine) Evaluate(sample, prev *models.MetricSample) []models.Alert {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	var alerts []models.Alert
	for _, metric := range models.MetricTypes {
		cfg, ok := e.thresholds[metric]
		if !ok || !cfg.Enabled {
			continue
		}
		value, ok := extractMetricValue(metric, sample, prev)
		if !ok {
			continue
		}

		var level models.AlertLevel
		var threshold float64
		switch {
		case value >= cfg.Critical:
			level, threshold = models.AlertLevelCritical, cfg.Critical
		case value >= cfg.Warning:
			level, threshold = models.AlertLevelWarning, cfg.Warning
		default:
			continue
		}

		alerts = append(alerts, models.Alert{
			ID:            e.newID(),
			ContainerID:   sample.ContainerID,
			ContainerName: sample.ContainerName,
			ServiceName:   sample.ServiceName,
			Timestamp:     sample.Timestamp,
			Level:         level,
			Metric:        metric,
			Value:         value,
			Threshold:     threshold,
			Message:       formatAlertMessage(metric, level, sample.ContainerName, value, threshold),
		})
	}
	return alerts
}

func extractMetricValue(metric models.MetricType, sample, prev *models.MetricSample) (float64, bool) {
	switch metric {
	case models.MetricCPUPercent:
		return sample.CPUPercent, true
	case models.MetricMemoryPercent:
		return sample.MemoryPercent, true
	case models.MetricMemoryUsage:
		return float64(sample.MemoryUsage), true
	case models.MetricMemoryLimit:
		return float64(sample.MemoryLimit), true
	case models.MetricPids:
		return float64(sample.PIDs), true
	case models.MetricNetworkRx:
		return rate(sample, prev, func(s *models.MetricSample) uint64 { return s.NetworkRxBytes })
	case models.MetricNetworkTx:
		return rate(sample, prev, func(s *models.MetricSample) uint64 { return s.NetworkTxBytes })
	case models.MetricBlockRead:
		return rate(sample, prev, func(s *models.MetricSample) uint64 { return s.BlockReadBytes })
	case models.MetricBlockWrite:
		return rate(sample, prev, func(s *models.MetricSample) uint64 { return s.BlockWriteBytes })
	default:
		return 0, false
	}
}

// rate is bytes per second between two consecutive samples. A counter that
// went backwards is treated as a reset and yields zero.
func rate(sample, prev *models.MetricSample, counter func(*models.MetricSample) uint64) (float64, bool) {
	if prev == nil {
		return 0, false
	}
	dt := sample.Timestamp.Sub(prev.Timestamp).Seconds()
	if dt <= 0 {
		return 0, false
	}
	cur, last := counter(sample), counter(prev)
	if cur < last {
		return 0, true
	}
	return float64(cur-last) / dt, true
}

func formatAlertMessage(metric models.MetricType, level models.AlertLevel, container string, value, threshold float64) string {
	switch metric {
	case models.MetricCPUPercent, models.MetricMemoryPercent:
		return fmt.Sprintf("%s %s on %s: %.2f%% (threshold: %.2f%%)", metricLabel(metric), level, container, value, threshold)
	case models.MetricNetworkRx, models.MetricNetworkTx, models.MetricBlockRead, models.MetricBlockWrite:
		return fmt.Sprintf("%s %s on %s: %.2f MB/s (threshold: %.2f MB/s)", metricLabel(metric), level, container, value/megabyte, threshold/megabyte)
	case models.MetricPids:
		return fmt.Sprintf("%s %s on %s: %.0f (threshold: %.0f)", metricLabel(metric), level, container, value, threshold)
	default:
		return fmt.Sprintf("%s %s on %s: %.2f MB (threshold: %.2f MB)", metricLabel(metric), level, container, value/megabyte, threshold/megabyte)
	}
}

func metricLabel(metric models.MetricType) string {
	switch metric {
	case models.MetricCPUPercent:
		return "CPU usage"
	case models.MetricMemoryPercent:
		return "Memory usage"
	case models.MetricMemoryUsage:
		return "Memory usage"
	case models.MetricMemoryLimit:
		return "Memory limit"
	case models.MetricNetworkRx:
		return "Network receive rate"
	case models.MetricNetworkTx:
		return "Network transmit rate"
	case models.MetricBlockRead:
		return "Block read rate"
	case models.MetricBlockWrite:
		return "Block write rate"
	case models.MetricPids:
		return "Process count"
	default:
		return string(metric)
	}
}
