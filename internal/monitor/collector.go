package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/dockpulse/internal/alert"
	"github.com/dockpulse/internal/docker"
	"github.com/dockpulse/internal/feed"
	"github.com/dockpulse/internal/models"
	"github.com/dockpulse/internal/telemetry"
)

const (
	defaultInterval        = 5 * time.Second
	defaultRetentionDays   = 7
	defaultCleanupInterval = 24 * time.Hour
	defaultMaxConcurrency  = 10
	feedCapacity           = 4096
)

// ContainerRuntime is the part of the container runtime the collector uses.
type ContainerRuntime interface {
	ListRunningContainers(ctx context.Context) ([]models.ContainerInfo, error)
	Stats(ctx context.Context, containerID string) (models.RawStats, error)
}

// Store persists samples and alerts and answers time range queries.
type Store interface {
	AppendSample(sample models.MetricSample) error
	AppendAlert(alert models.Alert) error
	RecentSamples(ctx context.Context, containerID string, since time.Time, limit int) ([]models.MetricSample, error)
	RecentAlerts(ctx context.Context, containerID string, since time.Time, limit int) ([]models.Alert, error)
	Cleanup(retentionDays int) (int, error)
}

// Dispatcher forwards alerts to subscribers.
type Dispatcher interface {
	Dispatch(alert models.Alert)
}

type Config struct {
	Interval        time.Duration
	RetentionDays   int
	CleanupInterval time.Duration
	MaxConcurrency  int
}

type Collector struct {
	runtime    ContainerRuntime
	store      Store
	engine     *alert.Engine
	dispatcher Dispatcher
	logger     *zap.Logger
	metrics    *telemetry.Metrics
	config     Config
	sem        *semaphore.Weighted
	now        func() time.Time

	mutex      sync.RWMutex
	containers map[string]models.ContainerInfo

	prevMutex sync.Mutex
	previous  map[string]models.MetricSample

	samples *feed.Feed[models.MetricSample]
	alerts  *feed.Feed[models.Alert]

	lifecycle sync.Mutex
	running   atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	stats collectorStats
}

type collectorStats struct {
	ticks    atomic.Uint64
	samples  atomic.Uint64
	alerts   atomic.Uint64
	errors   atomic.Uint64
	lastTick atomic.Int64
}

func NewCollector(runtime ContainerRuntime, store Store, engine *alert.Engine, dispatcher Dispatcher,
	config Config, logger *zap.Logger, metrics *telemetry.Metrics) *Collector {
	if config.Interval <= 0 {
		config.Interval = defaultInterval
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = defaultRetentionDays
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaultCleanupInterval
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaultMaxConcurrency
	}
	if metrics == nil {
		metrics = telemetry.NewMetrics(nil)
	}

	return &Collector{
		runtime:    runtime,
		store:      store,
		engine:     engine,
		dispatcher: dispatcher,
		logger:     logger.Named("collector"),
		metrics:    metrics,
		config:     config,
		sem:        semaphore.NewWeighted(int64(config.MaxConcurrency)),
		now:        time.Now,
		containers: make(map[string]models.ContainerInfo),
		previous:   make(map[string]models.MetricSample),
		samples:    feed.New[models.MetricSample](feedCapacity),
		alerts:     feed.New[models.Alert](feedCapacity),
	}
}

// Start discovers running containers and launches the polling and cleanup
// loops. Calling Start on a running collector is a no-op.
func (c *Collector) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.running.Load() {
		return nil
	}

	if err := c.discover(ctx); err != nil {
		c.logger.Warn("Initial container discovery failed", zap.Error(err))
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running.Store(true)

	c.wg.Add(2)
	go c.loop(loopCtx, "poll", c.config.Interval, c.Tick)
	go c.loop(loopCtx, "cleanup", c.config.CleanupInterval, c.cleanup)

	c.logger.Info("Collector started",
		zap.Duration("interval", c.config.Interval),
		zap.Int("containers", c.monitoredCount()))
	return nil
}

// Stop cancels both loops, waits for in-flight work and drops the
// per-container state.
func (c *Collector) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if !c.running.Load() {
		return
	}
	c.cancel()
	c.wg.Wait()
	c.running.Store(false)

	c.mutex.Lock()
	c.containers = make(map[string]models.ContainerInfo)
	c.mutex.Unlock()

	c.prevMutex.Lock()
	c.previous = make(map[string]models.MetricSample)
	c.prevMutex.Unlock()

	c.metrics.MonitoredGauge.Set(0)
	c.logger.Info("Collector stopped")
}

func (c *Collector) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.safeRun(ctx, name, fn)
		}
	}
}

func (c *Collector) safeRun(ctx context.Context, name string, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			c.stats.errors.Add(1)
			c.metrics.CollectorErrors.WithLabelValues("panic").Inc()
			c.logger.Error("Recovered from panic", zap.String("loop", name), zap.Any("panic", r))
		}
	}()
	fn(ctx)
}

func (c *Collector) discover(ctx context.Context) error {
	containers, err := c.runtime.ListRunningContainers(ctx)
	if err != nil {
		return err
	}

	current := make(map[string]models.ContainerInfo, len(containers))
	for _, ctr := range containers {
		current[ctr.ID] = ctr
	}

	c.mutex.Lock()
	removed := make([]string, 0)
	for id := range c.containers {
		if _, ok := current[id]; !ok {
			removed = append(removed, id)
		}
	}
	c.containers = current
	c.mutex.Unlock()

	if len(removed) > 0 {
		c.prevMutex.Lock()
		for _, id := range removed {
			delete(c.previous, id)
		}
		c.prevMutex.Unlock()
	}
	c.metrics.MonitoredGauge.Set(float64(len(current)))
	return nil
}

// Tick samples every monitored container once. One container's failure
// never aborts the tick.
func (c *Collector) Tick(ctx context.Context) {
	if err := c.discover(ctx); err != nil {
		c.stats.errors.Add(1)
		c.metrics.CollectorErrors.WithLabelValues("discover").Inc()
		c.logger.Warn("Container discovery failed, using known containers", zap.Error(err))
	}

	c.mutex.RLock()
	targets := make([]models.ContainerInfo, 0, len(c.containers))
	for _, info := range c.containers {
		targets = append(targets, info)
	}
	c.mutex.RUnlock()

	var wg sync.WaitGroup
	for _, info := range targets {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(info models.ContainerInfo) {
			defer wg.Done()
			defer c.sem.Release(1)
			c.collectContainer(ctx, info)
		}(info)
	}
	wg.Wait()

	c.stats.ticks.Add(1)
	c.stats.lastTick.Store(c.now().UnixNano())
	c.metrics.CollectorTicks.Inc()
}

func (c *Collector) collectContainer(ctx context.Context, info models.ContainerInfo) {
	defer func() {
		if r := recover(); r != nil {
			c.stats.errors.Add(1)
			c.logger.Error("Recovered from panic while sampling",
				zap.String("container_id", info.ID), zap.Any("panic", r))
		}
	}()

	raw, err := c.runtime.Stats(ctx, info.ID)
	if err != nil {
		if errors.Is(err, docker.ErrNotFound) {
			c.deregister(info.ID)
			c.logger.Info("Container disappeared, no longer monitoring",
				zap.String("container_id", info.ID), zap.String("name", info.Name))
			return
		}
		if ctx.Err() != nil {
			return
		}
		c.stats.errors.Add(1)
		c.metrics.CollectorErrors.WithLabelValues("stats").Inc()
		c.logger.Warn("Failed to collect container stats",
			zap.String("container_id", info.ID), zap.Error(err))
		return
	}

	c.prevMutex.Lock()
	prev, hasPrev := c.previous[info.ID]
	c.prevMutex.Unlock()

	var prevPtr *models.MetricSample
	if hasPrev {
		prevPtr = &prev
	}
	sample := buildSample(info, raw, prevPtr, c.now())

	c.prevMutex.Lock()
	c.previous[info.ID] = sample
	c.prevMutex.Unlock()

	c.stats.samples.Add(1)
	c.metrics.CollectorSamples.Inc()

	// Feeds are published before the store append so anything a backlog
	// read finds in the store is already sequenced.
	c.samples.Append(sample)
	if err := c.store.AppendSample(sample); err != nil {
		c.stats.errors.Add(1)
		c.metrics.CollectorErrors.WithLabelValues("persist").Inc()
		c.logger.Warn("Failed to persist sample", zap.String("container_id", info.ID), zap.Error(err))
	}

	for _, a := range c.engine.Evaluate(&sample, prevPtr) {
		c.stats.alerts.Add(1)
		c.metrics.AlertsTotal.WithLabelValues(string(a.Level)).Inc()
		c.alerts.Append(a)
		if err := c.store.AppendAlert(a); err != nil {
			c.stats.errors.Add(1)
			c.metrics.CollectorErrors.WithLabelValues("persist").Inc()
			c.logger.Warn("Failed to persist alert", zap.String("alert_id", a.ID), zap.Error(err))
		}
		if c.dispatcher != nil {
			c.dispatcher.Dispatch(a)
		}
	}
}

func (c *Collector) deregister(containerID string) {
	c.mutex.Lock()
	delete(c.containers, containerID)
	n := len(c.containers)
	c.mutex.Unlock()

	c.prevMutex.Lock()
	delete(c.previous, containerID)
	c.prevMutex.Unlock()

	c.metrics.MonitoredGauge.Set(float64(n))
}

func (c *Collector) cleanup(context.Context) {
	removed, err := c.store.Cleanup(c.config.RetentionDays)
	if err != nil {
		c.stats.errors.Add(1)
		c.metrics.CollectorErrors.WithLabelValues("cleanup").Inc()
		c.logger.Warn("Retention cleanup failed", zap.Error(err))
		return
	}
	if removed > 0 {
		c.logger.Info("Removed expired metric files", zap.Int("files", removed))
	}
}

// buildSample derives a MetricSample from raw counters and the previous
// sample of the same container.
func buildSample(info models.ContainerInfo, raw models.RawStats, prev *models.MetricSample, now time.Time) models.MetricSample {
	cpus := raw.OnlineCPUs
	if cpus == 0 {
		cpus = 1
	}

	sample := models.MetricSample{
		ContainerID:      info.ID,
		ContainerName:    info.Name,
		ServiceName:      info.Service,
		Timestamp:        now,
		CPUUsageNs:       raw.CPUUsage,
		CPUSystemUsageNs: raw.SystemUsage,
		OnlineCPUs:       cpus,
		MemoryUsage:      raw.MemoryUsage,
		MemoryLimit:      raw.MemoryLimit,
		MemoryCache:      memoryCache(raw.MemoryStats),
		PIDs:             raw.Pids,
	}
	if prev != nil {
		sample.CPUPercent = calculateCPUPercent(prev.CPUUsageNs, prev.CPUSystemUsageNs, raw.CPUUsage, raw.SystemUsage, cpus)
	}
	sample.MemoryPercent = calculateMemoryPercent(raw.MemoryUsage, raw.MemoryLimit)

	for _, n := range raw.Networks {
		sample.NetworkRxBytes += n.RxBytes
		sample.NetworkTxBytes += n.TxBytes
		sample.NetworkRxPackets += n.RxPackets
		sample.NetworkTxPackets += n.TxPackets
	}
	for _, entry := range raw.BlockIO {
		switch {
		case strings.EqualFold(entry.Op, "read"):
			sample.BlockReadBytes += entry.Value
		case strings.EqualFold(entry.Op, "write"):
			sample.BlockWriteBytes += entry.Value
		}
	}
	return sample
}

// calculateCPUPercent returns (cpuDelta/systemDelta) * cpus * 100, clamped
// to [0, 100*cpus]. Counters that went backwards yield 0.
func calculateCPUPercent(prevCPU, prevSystem, curCPU, curSystem uint64, cpus uint32) float64 {
	if curCPU <= prevCPU || curSystem <= prevSystem {
		return 0
	}
	cpuDelta := float64(curCPU - prevCPU)
	systemDelta := float64(curSystem - prevSystem)

	percent := (cpuDelta / systemDelta) * float64(cpus) * 100.0
	if ceiling := 100.0 * float64(cpus); percent > ceiling {
		return ceiling
	}
	return percent
}

func calculateMemoryPercent(usage, limit uint64) float64 {
	if limit == 0 {
		return 0
	}
	return float64(usage) / float64(limit) * 100.0
}

func memoryCache(stats map[string]uint64) uint64 {
	if v, ok := stats["cache"]; ok {
		return v
	}
	return stats["inactive_file"]
}

// UpdateThreshold validates and applies new bounds for one metric type.
func (c *Collector) UpdateThreshold(metric models.MetricType, warning, critical float64, enabled bool) error {
	if err := c.engine.UpdateThreshold(metric, warning, critical, enabled); err != nil {
		return err
	}
	c.logger.Info("Threshold updated",
		zap.String("metric", string(metric)),
		zap.Float64("warning", warning),
		zap.Float64("critical", critical),
		zap.Bool("enabled", enabled))
	return nil
}

func (c *Collector) Thresholds() map[models.MetricType]models.ThresholdConfig {
	return c.engine.Thresholds()
}

// RecentMetrics reads persisted samples newer than now-window, newest
// first.
func (c *Collector) RecentMetrics(ctx context.Context, containerID string, window time.Duration, limit int) ([]models.MetricSample, error) {
	samples, err := c.store.RecentSamples(ctx, containerID, c.now().Add(-window), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read recent metrics: %w", err)
	}
	return samples, nil
}

// RecentAlerts reads persisted alerts newer than now-window, newest first.
func (c *Collector) RecentAlerts(ctx context.Context, containerID string, window time.Duration, limit int) ([]models.Alert, error) {
	alerts, err := c.store.RecentAlerts(ctx, containerID, c.now().Add(-window), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read recent alerts: %w", err)
	}
	return alerts, nil
}

func (c *Collector) SampleFeed() *feed.Feed[models.MetricSample] {
	return c.samples
}

func (c *Collector) AlertFeed() *feed.Feed[models.Alert] {
	return c.alerts
}

func (c *Collector) monitoredCount() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.containers)
}

// Containers returns the monitored containers.
func (c *Collector) Containers() []models.ContainerInfo {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	out := make([]models.ContainerInfo, 0, len(c.containers))
	for _, info := range c.containers {
		out = append(out, info)
	}
	return out
}

func (c *Collector) Status() models.CollectorStatus {
	status := models.CollectorStatus{
		Running:             c.running.Load(),
		MonitoredContainers: c.monitoredCount(),
		Interval:            c.config.Interval,
		RetentionDays:       c.config.RetentionDays,
		Ticks:               c.stats.ticks.Load(),
		Samples:             c.stats.samples.Load(),
		Alerts:              c.stats.alerts.Load(),
		Errors:              c.stats.errors.Load(),
	}
	if ns := c.stats.lastTick.Load(); ns > 0 {
		status.LastTick = time.Unix(0, ns)
	}
	return status
}
