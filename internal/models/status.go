package models

import "time"

// CollectorStatus is a snapshot of the metrics collector.
type CollectorStatus struct {
	Running             bool          `json:"running"`
	MonitoredContainers int           `json:"monitored_containers"`
	Interval            time.Duration `json:"collection_interval"`
	RetentionDays       int           `json:"retention_days"`
	Ticks               uint64        `json:"ticks"`
	Samples             uint64        `json:"samples"`
	Alerts              uint64        `json:"alerts"`
	Errors              uint64        `json:"errors"`
	LastTick            time.Time     `json:"last_tick"`
}

// HostStatus carries host-level figures for status broadcasts.
type HostStatus struct {
	Hostname      string  `json:"hostname"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsed    uint64  `json:"memory_used"`
	MemoryTotal   uint64  `json:"memory_total"`
	UptimeSeconds uint64  `json:"uptime_seconds"`
}
