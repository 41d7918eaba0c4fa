// Package logs follows container output, indexes every line and buffers it
// into per-container JSONL files with size-based rotation.
package logs

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/dockpulse/internal/docker"
	"github.com/dockpulse/internal/json"
	"github.com/dockpulse/internal/models"
	"github.com/dockpulse/internal/telemetry"
)

// Source lists containers and follows their output.
type Source interface {
	ListRunningContainers(ctx context.Context) ([]models.ContainerInfo, error)
	StreamLogs(ctx context.Context, containerID string, since time.Time, fn docker.LineFunc) error
}

type Indexer interface {
	IndexEntry(ctx context.Context, entry models.LogEntry) string
}

type Config struct {
	Dir              string
	BufferSize       int
	FlushInterval    time.Duration
	MaxFileSize      int64
	RotationCount    int
	RotationInterval time.Duration
	DiscoverInterval time.Duration
	// Backlog is how far back a newly followed container is read.
	Backlog time.Duration
}

func (c *Config) setDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 10 * time.Second
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 100 * 1024 * 1024
	}
	if c.RotationCount <= 0 {
		c.RotationCount = 5
	}
	if c.RotationInterval <= 0 {
		c.RotationInterval = time.Hour
	}
	if c.DiscoverInterval <= 0 {
		c.DiscoverInterval = 30 * time.Second
	}
	if c.Backlog <= 0 {
		c.Backlog = time.Hour
	}
}

type Stats struct {
	Running    bool   `json:"running"`
	Containers int    `json:"containers"`
	Buffered   int    `json:"buffered"`
	Lines      uint64 `json:"lines"`
}

type worker struct {
	cancel context.CancelFunc
}

type Collector struct {
	source  Source
	indexer Indexer
	config  Config
	logger  *zap.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	mu       sync.Mutex
	workers  map[string]*worker
	lastSeen map[string]time.Time
	wg       sync.WaitGroup

	bufMu   sync.Mutex
	buffers map[string][]models.LogEntry
	lines   uint64

	// fileMu serializes appends and rotation.
	fileMu sync.Mutex

	lifecycle sync.Mutex
	running   atomic.Bool
	scheduler gocron.Scheduler
	cancel    context.CancelFunc
}

func NewCollector(source Source, indexer Indexer, config Config, logger *zap.Logger, metrics *telemetry.Metrics) *Collector {
	config.setDefaults()
	if metrics == nil {
		metrics = telemetry.NewMetrics(nil)
	}
	return &Collector{
		source:   source,
		indexer:  indexer,
		config:   config,
		logger:   logger.Named("logs"),
		metrics:  metrics,
		now:      time.Now,
		workers:  make(map[string]*worker),
		lastSeen: make(map[string]time.Time),
		buffers:  make(map[string][]models.LogEntry),
	}
}

func (c *Collector) containersDir() string {
	return filepath.Join(c.config.Dir, "containers")
}

// ActivePath is the file a container's lines are flushed to.
func (c *Collector) ActivePath(containerID string) string {
	return filepath.Join(c.containersDir(), containerID+".jsonl")
}

func (c *Collector) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.scheduler != nil {
		return nil
	}

	if err := os.MkdirAll(c.containersDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := c.Sync(ctx); err != nil {
		c.logger.Warn("Initial container discovery failed", zap.Error(err))
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	jobs := []struct {
		name     string
		interval time.Duration
		task     func()
	}{
		{"log-flush", c.config.FlushInterval, c.FlushAll},
		{"log-rotation", c.config.RotationInterval, c.Rotate},
		{"log-discovery", c.config.DiscoverInterval, func() {
			if err := c.Sync(ctx); err != nil {
				c.logger.Warn("Container discovery failed", zap.Error(err))
			}
		}},
	}
	for _, job := range jobs {
		_, err := sched.NewJob(
			gocron.DurationJob(job.interval),
			gocron.NewTask(job.task),
			gocron.WithName(job.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			cancel()
			_ = sched.Shutdown()
			return fmt.Errorf("failed to schedule %s: %w", job.name, err)
		}
	}
	sched.Start()

	c.scheduler = sched
	c.cancel = cancel
	c.running.Store(true)
	c.logger.Info("Log collector started", zap.String("dir", c.config.Dir))
	return nil
}

// Stop ends every follow worker and flushes what is buffered.
func (c *Collector) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.scheduler == nil {
		return
	}

	if err := c.scheduler.Shutdown(); err != nil {
		c.logger.Warn("Scheduler shutdown failed", zap.Error(err))
	}
	c.cancel()

	c.mu.Lock()
	for _, w := range c.workers {
		w.cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()

	c.FlushAll()
	c.running.Store(false)
	c.scheduler = nil
	c.cancel = nil
	c.logger.Info("Log collector stopped")
}

// Sync follows containers that started since the last call and stops
// following those that are gone.
func (c *Collector) Sync(ctx context.Context) error {
	containers, err := c.source.ListRunningContainers(ctx)
	if err != nil {
		return err
	}

	running := make(map[string]models.ContainerInfo, len(containers))
	for _, info := range containers {
		running[info.ID] = info
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for id, w := range c.workers {
		if _, ok := running[id]; !ok {
			w.cancel()
			delete(c.workers, id)
			delete(c.lastSeen, id)
		}
	}
	for id, info := range running {
		if _, ok := c.workers[id]; ok {
			continue
		}
		since, ok := c.lastSeen[id]
		if ok {
			since = since.Add(time.Nanosecond)
		} else {
			since = c.now().Add(-c.config.Backlog)
		}
		c.follow(ctx, info, since)
	}
	return nil
}

// follow requires c.mu held.
func (c *Collector) follow(ctx context.Context, info models.ContainerInfo, since time.Time) {
	wctx, cancel := context.WithCancel(ctx)
	w := &worker{cancel: cancel}
	c.workers[info.ID] = w

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()

		err := c.source.StreamLogs(wctx, info.ID, since, func(stream, line string) {
			c.handleLine(wctx, info, stream, line)
		})
		if err != nil && wctx.Err() == nil {
			c.logger.Warn("Log stream ended", zap.String("container", info.Name), zap.Error(err))
		}

		c.mu.Lock()
		if c.workers[info.ID] == w {
			delete(c.workers, info.ID)
		}
		c.mu.Unlock()
	}()
	c.logger.Debug("Following container logs", zap.String("container", info.Name), zap.Time("since", since))
}

func (c *Collector) handleLine(ctx context.Context, info models.ContainerInfo, stream, line string) {
	entry := ParseLine(info, stream, line, c.now())
	entry.FilePath = c.ActivePath(info.ID)
	if c.indexer != nil {
		c.indexer.IndexEntry(ctx, entry)
	}
	c.metrics.LogLines.Inc()

	c.mu.Lock()
	if entry.Timestamp.After(c.lastSeen[info.ID]) {
		c.lastSeen[info.ID] = entry.Timestamp
	}
	c.mu.Unlock()

	c.bufMu.Lock()
	c.lines++
	c.buffers[info.ID] = append(c.buffers[info.ID], entry)
	full := len(c.buffers[info.ID]) >= c.config.BufferSize
	c.bufMu.Unlock()

	if full {
		c.flush(info.ID)
	}
}

func (c *Collector) FlushAll() {
	c.bufMu.Lock()
	ids := make([]string, 0, len(c.buffers))
	for id := range c.buffers {
		ids = append(ids, id)
	}
	c.bufMu.Unlock()

	for _, id := range ids {
		c.flush(id)
	}
}

// flush appends the buffered entries of one container. On failure the
// entries are dropped.
func (c *Collector) flush(containerID string) {
	c.bufMu.Lock()
	entries := c.buffers[containerID]
	delete(c.buffers, containerID)
	c.bufMu.Unlock()
	if len(entries) == 0 {
		return
	}

	c.fileMu.Lock()
	defer c.fileMu.Unlock()

	if err := appendEntries(c.ActivePath(containerID), entries); err != nil {
		c.metrics.LogFlushErrors.Inc()
		c.logger.Error("Failed to flush log buffer",
			zap.String("container_id", containerID),
			zap.Int("entries", len(entries)),
			zap.Error(err))
		return
	}
	c.logger.Debug("Flushed log buffer", zap.String("container_id", containerID), zap.Int("entries", len(entries)))
}

func appendEntries(path string, entries []models.LogEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Rotate shifts every active file at or above the size limit to <id>.1.jsonl,
// keeping at most RotationCount rotated files per container.
func (c *Collector) Rotate() {
	c.fileMu.Lock()
	defer c.fileMu.Unlock()

	matches, err := filepath.Glob(filepath.Join(c.containersDir(), "*.jsonl"))
	if err != nil {
		return
	}
	for _, path := range matches {
		if isRotated(path) {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.Size() < c.config.MaxFileSize {
			continue
		}
		if err := rotateFile(path, c.config.RotationCount); err != nil {
			c.logger.Error("Failed to rotate log file", zap.String("file", path), zap.Error(err))
			continue
		}
		c.logger.Info("Rotated log file", zap.String("file", path), zap.Int64("size", info.Size()))
	}
}

func isRotated(path string) bool {
	stem := strings.TrimSuffix(filepath.Base(path), ".jsonl")
	i := strings.LastIndexByte(stem, '.')
	if i < 0 {
		return false
	}
	_, err := strconv.Atoi(stem[i+1:])
	return err == nil
}

func rotateFile(path string, count int) error {
	dir := filepath.Dir(path)
	stem := strings.TrimSuffix(filepath.Base(path), ".jsonl")
	rotated := func(n int) string {
		return filepath.Join(dir, fmt.Sprintf("%s.%d.jsonl", stem, n))
	}

	_ = os.Remove(rotated(count))
	for i := count - 1; i >= 1; i-- {
		if _, err := os.Stat(rotated(i)); err != nil {
			continue
		}
		if err := os.Rename(rotated(i), rotated(i+1)); err != nil {
			return err
		}
	}
	return os.Rename(path, rotated(1))
}

func (c *Collector) Stats() Stats {
	c.mu.Lock()
	workers := len(c.workers)
	c.mu.Unlock()

	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	buffered := 0
	for _, b := range c.buffers {
		buffered += len(b)
	}
	return Stats{Running: c.running.Load(), Containers: workers, Buffered: buffered, Lines: c.lines}
}
