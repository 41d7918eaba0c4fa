package monitor

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/dockpulse/internal/models"
)

// HostReader reads host-wide resource figures.
type HostReader struct{}

func (HostReader) Snapshot(ctx context.Context) (models.HostStatus, error) {
	var status models.HostStatus

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return status, fmt.Errorf("failed to read cpu usage: %w", err)
	}
	if len(percents) > 0 {
		status.CPUPercent = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return status, fmt.Errorf("failed to read memory usage: %w", err)
	}
	status.MemoryPercent = vm.UsedPercent
	status.MemoryUsed = vm.Used
	status.MemoryTotal = vm.Total

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return status, fmt.Errorf("failed to read host info: %w", err)
	}
	status.Hostname = info.Hostname
	status.UptimeSeconds = info.Uptime
	return status, nil
}
