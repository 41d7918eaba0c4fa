package models

import (
	"time"
)

// ContainerInfo identifies a monitored container
type ContainerInfo struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Service string            `json:"service,omitempty"`
	Labels  map[string]string `json:"labels,omitempty"`
}

// RawStats are the cumulative counters reported by the container runtime
// for a single stats read.
type RawStats struct {
	CPUUsage    uint64
	SystemUsage uint64
	OnlineCPUs  uint32

	MemoryUsage uint64
	MemoryLimit uint64
	MemoryStats map[string]uint64

	Networks map[string]NetworkCounters
	BlockIO  []BlockIOEntry

	Pids uint64
}

type NetworkCounters struct {
	RxBytes   uint64
	TxBytes   uint64
	RxPackets uint64
	TxPackets uint64
}

type BlockIOEntry struct {
	Op    string
	Value uint64
}

// MetricSample is one point-in-time resource reading for a container
type MetricSample struct {
	ContainerID   string    `json:"container_id"`
	ContainerName string    `json:"container_name"`
	ServiceName   string    `json:"service_name,omitempty"`
	Timestamp     time.Time `json:"timestamp"`

	// CPU Statistics
	CPUPercent       float64 `json:"cpu_percent"`
	CPUUsageNs       uint64  `json:"cpu_usage"`
	CPUSystemUsageNs uint64  `json:"cpu_system_usage"`
	OnlineCPUs       uint32  `json:"online_cpus"`

	// Memory Statistics
	MemoryUsage   uint64  `json:"memory_usage"`
	MemoryLimit   uint64  `json:"memory_limit"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryCache   uint64  `json:"memory_cache"`

	// Network Statistics
	NetworkRxBytes   uint64 `json:"network_rx_bytes"`
	NetworkTxBytes   uint64 `json:"network_tx_bytes"`
	NetworkRxPackets uint64 `json:"network_rx_packets"`
	NetworkTxPackets uint64 `json:"network_tx_packets"`

	// Disk I/O Statistics
	BlockReadBytes  uint64 `json:"block_read_bytes"`
	BlockWriteBytes uint64 `json:"block_write_bytes"`

	PIDs uint64 `json:"pids"`
}
