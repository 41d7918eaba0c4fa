package models

import "strings"

type MetricType string

const (
	MetricCPUPercent    MetricType = "cpu_percent"
	MetricMemoryUsage   MetricType = "memory_usage"
	MetricMemoryPercent MetricType = "memory_percent"
	MetricMemoryLimit   MetricType = "memory_limit"
	MetricNetworkRx     MetricType = "network_rx"
	MetricNetworkTx     MetricType = "network_tx"
	MetricBlockRead     MetricType = "block_read"
	MetricBlockWrite    MetricType = "block_write"
	MetricPids          MetricType = "pids"
)

// MetricTypes lists every known metric type.
var MetricTypes = []MetricType{
	MetricCPUPercent,
	MetricMemoryUsage,
	MetricMemoryPercent,
	MetricMemoryLimit,
	MetricNetworkRx,
	MetricNetworkTx,
	MetricBlockRead,
	MetricBlockWrite,
	MetricPids,
}

func (m MetricType) Valid() bool {
	for _, t := range MetricTypes {
		if t == m {
			return true
		}
	}
	return false
}

// ThresholdConfig holds the warning and critical bounds for one metric type.
// Network bounds are in bytes per second.
type ThresholdConfig struct {
	Warning  float64 `json:"warning" mapstructure:"warning"`
	Critical float64 `json:"critical" mapstructure:"critical"`
	Enabled  bool    `json:"enabled" mapstructure:"enabled"`
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
