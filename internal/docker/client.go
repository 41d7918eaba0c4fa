// Package docker adapts the Docker Engine API to the narrow operations the
// collectors need. Docker SDK types do not leave this package.
package docker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"

	"github.com/dockpulse/internal/json"
	"github.com/dockpulse/internal/models"
)

// ErrNotFound reports that a container no longer exists.
var ErrNotFound = errors.New("container not found")

const composeServiceLabel = "com.docker.compose.service"

// LineFunc receives one line of container output. stream is "stdout" or
// "stderr".
type LineFunc func(stream, line string)

type Client struct {
	api *client.Client
}

// NewClient connects using the DOCKER_HOST family of environment variables.
func NewClient() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Client{api: cli}, nil
}

func (c *Client) Close() error {
	return c.api.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.Ping(ctx)
	return err
}

func (c *Client) ListRunningContainers(ctx context.Context) ([]models.ContainerInfo, error) {
	containers, err := c.api.ContainerList(ctx, types.ContainerListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	out := make([]models.ContainerInfo, 0, len(containers))
	for _, ctr := range containers {
		out = append(out, containerInfo(ctr.ID, ctr.Names, ctr.Labels))
	}
	return out, nil
}

func containerInfo(id string, names []string, labels map[string]string) models.ContainerInfo {
	name := id
	if len(id) > 12 {
		name = id[:12]
	}
	if len(names) > 0 {
		name = strings.TrimPrefix(names[0], "/")
	}
	return models.ContainerInfo{
		ID:      id,
		Name:    name,
		Service: labels[composeServiceLabel],
		Labels:  labels,
	}
}

// Stats takes a single non-streaming stats reading.
func (c *Client) Stats(ctx context.Context, containerID string) (models.RawStats, error) {
	resp, err := c.api.ContainerStats(ctx, containerID, false)
	if err != nil {
		return models.RawStats{}, wrapNotFound(containerID, err)
	}
	defer resp.Body.Close()

	var stats types.StatsJSON
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return models.RawStats{}, fmt.Errorf("failed to decode stats for %s: %w", containerID, err)
	}
	return normalizeStats(stats), nil
}

func normalizeStats(s types.StatsJSON) models.RawStats {
	cpus := s.CPUStats.OnlineCPUs
	if cpus == 0 {
		cpus = uint32(len(s.CPUStats.CPUUsage.PercpuUsage))
	}

	raw := models.RawStats{
		CPUUsage:    s.CPUStats.CPUUsage.TotalUsage,
		SystemUsage: s.CPUStats.SystemUsage,
		OnlineCPUs:  cpus,
		MemoryUsage: s.MemoryStats.Usage,
		MemoryLimit: s.MemoryStats.Limit,
		MemoryStats: s.MemoryStats.Stats,
		Networks:    make(map[string]models.NetworkCounters, len(s.Networks)),
		Pids:        s.PidsStats.Current,
	}
	for iface, n := range s.Networks {
		raw.Networks[iface] = models.NetworkCounters{
			RxBytes:   n.RxBytes,
			TxBytes:   n.TxBytes,
			RxPackets: n.RxPackets,
			TxPackets: n.TxPackets,
		}
	}
	for _, entry := range s.BlkioStats.IoServiceBytesRecursive {
		raw.BlockIO = append(raw.BlockIO, models.BlockIOEntry{Op: entry.Op, Value: entry.Value})
	}
	return raw
}

// StreamLogs follows the output of a container from since until ctx is
// cancelled or the container stops. fn is called from a single goroutine.
func (c *Client) StreamLogs(ctx context.Context, containerID string, since time.Time, fn LineFunc) error {
	info, err := c.api.ContainerInspect(ctx, containerID)
	if err != nil {
		return wrapNotFound(containerID, err)
	}
	tty := info.Config != nil && info.Config.Tty

	opts := types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Timestamps: true,
	}
	if !since.IsZero() {
		opts.Since = since.UTC().Format(time.RFC3339Nano)
	}

	rc, err := c.api.ContainerLogs(ctx, containerID, opts)
	if err != nil {
		return wrapNotFound(containerID, err)
	}
	defer rc.Close()

	if err := demux(rc, tty, fn); err != nil && ctx.Err() == nil {
		return fmt.Errorf("log stream for %s: %w", containerID, err)
	}
	return nil
}

func wrapNotFound(containerID string, err error) error {
	if errdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, containerID)
	}
	return err
}
