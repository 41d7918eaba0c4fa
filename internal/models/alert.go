package models

import (
	"time"
)

type AlertLevel string

const (
	AlertLevelInfo     AlertLevel = "info"
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
)

// Rank orders levels so notifiers can apply a minimum level.
func (l AlertLevel) Rank() int {
	switch l {
	case AlertLevelCritical:
		return 2
	case AlertLevelWarning:
		return 1
	default:
		return 0
	}
}

// ParseAlertLevel accepts any casing. Unknown values map to info.
func ParseAlertLevel(s string) AlertLevel {
	switch AlertLevel(lower(s)) {
	case AlertLevelCritical:
		return AlertLevelCritical
	case AlertLevelWarning:
		return AlertLevelWarning
	default:
		return AlertLevelInfo
	}
}

// Alert is produced when a sample crosses a threshold. It is never mutated
// after creation.
type Alert struct {
	ID            string     `json:"id"`
	ContainerID   string     `json:"container_id"`
	ContainerName string     `json:"container_name"`
	ServiceName   string     `json:"service_name,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
	Level         AlertLevel `json:"level"`
	Metric        MetricType `json:"metric_type"`
	Value         float64    `json:"value"`
	Threshold     float64    `json:"threshold_value"`
	Message       string     `json:"message"`
}
