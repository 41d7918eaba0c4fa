// Package optimize fronts the log index with a result cache and runs the
// background compression, cache sweep and retention workers.
package optimize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/dockpulse/internal/index"
	"github.com/dockpulse/internal/json"
	"github.com/dockpulse/internal/models"
	"github.com/dockpulse/internal/telemetry"
)

type Config struct {
	LogDir               string
	CompressedDir        string
	CompressionThreshold int64
	Codec                string
	CompressionInterval  time.Duration
	CacheTTL             time.Duration
	CacheSize            int
	Retention            time.Duration
	RetentionInterval    time.Duration
}

func (c *Config) setDefaults() {
	if c.Codec == "" {
		c.Codec = DefaultCodec
	}
	if c.CompressionInterval <= 0 {
		c.CompressionInterval = 5 * time.Minute
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 1024
	}
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	if c.RetentionInterval <= 0 {
		c.RetentionInterval = time.Hour
	}
}

type Result struct {
	IDs    []string      `json:"ids"`
	Cached bool          `json:"cached"`
	Took   time.Duration `json:"took"`
}

type CompressionStats struct {
	File       string        `json:"file"`
	Archive    string        `json:"archive"`
	Original   int64         `json:"original_size"`
	Compressed int64         `json:"compressed_size"`
	SpaceSaved float64       `json:"space_saved_percent"`
	Duration   time.Duration `json:"duration"`
	Codec      string        `json:"codec"`
}

type PurgeStats struct {
	IndexEntries int `json:"index_entries"`
	Archives     int `json:"archives"`
}

type Stats struct {
	Index           index.Stats `json:"index"`
	CacheSize       int         `json:"cache_size"`
	CacheHits       uint64      `json:"cache_hits"`
	CacheMisses     uint64      `json:"cache_misses"`
	FilesCompressed int64       `json:"files_compressed"`
	BytesIn         int64       `json:"bytes_in"`
	BytesOut        int64       `json:"bytes_out"`
	Codec           string      `json:"codec"`
}

type Service struct {
	index   *index.Index
	cache   *resultCache
	codec   Codec
	config  Config
	logger  *zap.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	filesCompressed atomic.Int64
	bytesIn         atomic.Int64
	bytesOut        atomic.Int64

	mu        sync.Mutex
	scheduler gocron.Scheduler
}

func NewService(idx *index.Index, config Config, logger *zap.Logger, metrics *telemetry.Metrics) (*Service, error) {
	config.setDefaults()
	codec, err := CodecByName(config.Codec)
	if err != nil {
		return nil, err
	}
	cache, err := newResultCache(config.CacheSize, config.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create search cache: %w", err)
	}
	if config.CompressedDir != "" {
		if err := os.MkdirAll(config.CompressedDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create compressed directory: %w", err)
		}
	}
	if metrics == nil {
		metrics = telemetry.NewMetrics(nil)
	}
	return &Service{
		index:   idx,
		cache:   cache,
		codec:   codec,
		config:  config,
		logger:  logger.Named("optimizer"),
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// IndexEntry adds a log line to the index and returns its id.
func (s *Service) IndexEntry(ctx context.Context, entry models.LogEntry) string {
	return s.index.Add(ctx, entry)
}

// Search answers from the cache when the same query was seen within the
// cache TTL. Failures inside the index are logged and yield no results.
func (s *Service) Search(ctx context.Context, q index.Query) Result {
	start := time.Now()
	key := cacheKey(q)

	if ids, ok := s.cache.Get(key); ok {
		s.metrics.CacheHits.Inc()
		return Result{IDs: ids, Cached: true, Took: time.Since(start)}
	}
	s.metrics.CacheMisses.Inc()

	gen := s.cache.Generation()
	ids, err := s.searchIndex(q)
	if err != nil {
		s.logger.Error("Log search failed", zap.Error(err))
		return Result{IDs: []string{}, Took: time.Since(start)}
	}
	if ids == nil {
		ids = []string{}
	}
	s.cache.PutIfCurrent(key, ids, gen)
	return Result{IDs: ids, Took: time.Since(start)}
}

func (s *Service) searchIndex(q index.Query) (ids []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("index panic: %v", r)
		}
	}()
	return s.index.Search(q), nil
}

func (s *Service) Lookup(ids []string) []models.LogIndexEntry {
	return s.index.Lookup(ids)
}

func cacheKey(q index.Query) string {
	key := struct {
		Text      string `json:"q"`
		Container string `json:"c"`
		Level     string `json:"l"`
		Start     int64  `json:"s"`
		End       int64  `json:"e"`
		Limit     int    `json:"n"`
	}{Text: q.Text, Container: q.ContainerID, Level: string(q.Level), Limit: q.Limit}
	if !q.Start.IsZero() {
		key.Start = q.Start.UnixNano()
	}
	if !q.End.IsZero() {
		key.End = q.End.UnixNano()
	}
	b, _ := json.Marshal(key)
	return string(b)
}

// CompressFile writes path into the compressed directory with the service
// codec and removes the original once the archive is complete.
func (s *Service) CompressFile(path string) (CompressionStats, error) {
	stats, err := Compress(path, s.config.CompressedDir, s.codec)
	if err != nil {
		s.metrics.CompressionErrors.Inc()
		return stats, err
	}
	s.filesCompressed.Add(1)
	s.bytesIn.Add(stats.Original)
	s.bytesOut.Add(stats.Compressed)
	s.metrics.CompressedBytesIn.Add(float64(stats.Original))
	s.metrics.CompressedBytesOut.Add(float64(stats.Compressed))
	return stats, nil
}

// Compress streams path through codec into dir, or next to path when dir is
// empty. The archive is written to a temporary file and linked into place
// under a name no other archive holds; only then is the original removed.
// A source recreated under the same name, such as a rotated generation,
// gets <base>-1<ext>, <base>-2<ext> and so on.
func Compress(path, dir string, codec Codec) (stats CompressionStats, err error) {
	start := time.Now()

	src, err := os.Open(path)
	if err != nil {
		return stats, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return stats, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if dir == "" {
		dir = filepath.Dir(path)
	}
	base := filepath.Base(path)

	dst, err := os.CreateTemp(dir, base+".*.tmp")
	if err != nil {
		return stats, fmt.Errorf("failed to create temporary archive in %s: %w", dir, err)
	}
	tmp := dst.Name()
	defer func() {
		if err != nil {
			_ = dst.Close()
		}
		_ = os.Remove(tmp)
	}()

	w, err := codec.NewWriter(dst)
	if err != nil {
		return stats, fmt.Errorf("failed to init %s writer: %w", codec.Name(), err)
	}
	if _, err = io.Copy(w, src); err != nil {
		return stats, fmt.Errorf("failed to compress %s: %w", path, err)
	}
	if err = w.Close(); err != nil {
		return stats, fmt.Errorf("failed to finish %s: %w", tmp, err)
	}
	if err = dst.Close(); err != nil {
		return stats, fmt.Errorf("failed to close %s: %w", tmp, err)
	}

	out, err := os.Stat(tmp)
	if err != nil {
		return stats, fmt.Errorf("failed to stat %s: %w", tmp, err)
	}
	archive, err := linkUnique(tmp, dir, base, codec.Extension())
	if err != nil {
		return stats, err
	}
	src.Close()
	if rmErr := os.Remove(path); rmErr != nil {
		return stats, fmt.Errorf("archive written but failed to remove %s: %w", path, rmErr)
	}

	stats = CompressionStats{
		File:       path,
		Archive:    archive,
		Original:   info.Size(),
		Compressed: out.Size(),
		Duration:   time.Since(start),
		Codec:      codec.Name(),
	}
	if stats.Original > 0 {
		stats.SpaceSaved = (1 - float64(stats.Compressed)/float64(stats.Original)) * 100
	}
	return stats, nil
}

const maxArchiveSuffix = 10000

// linkUnique hard-links tmp to the first free archive name in dir. Link
// fails on an existing name, so no archive is ever replaced.
func linkUnique(tmp, dir, base, ext string) (string, error) {
	for n := 0; n < maxArchiveSuffix; n++ {
		name := base + ext
		if n > 0 {
			name = fmt.Sprintf("%s-%d%s", base, n, ext)
		}
		archive := filepath.Join(dir, name)
		err := os.Link(tmp, archive)
		if err == nil {
			return archive, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("failed to move archive into place: %w", err)
		}
	}
	return "", fmt.Errorf("no free archive name for %s in %s", base, dir)
}

// OpenArchive returns a reader over the decompressed contents of path.
func OpenArchive(path string) (io.ReadCloser, error) {
	codec, err := CodecForPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := codec.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open %s archive: %w", codec.Name(), err)
	}
	return &archiveReader{ReadCloser: r, file: f}, nil
}

type archiveReader struct {
	io.ReadCloser
	file *os.File
}

func (a *archiveReader) Close() error {
	return errors.Join(a.ReadCloser.Close(), a.file.Close())
}

func (s *Service) agedCandidates() []string {
	patterns := []string{
		filepath.Join(s.config.LogDir, "*.log"),
		filepath.Join(s.config.LogDir, "containers", "*.[0-9]*.jsonl"),
	}
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		files = append(files, matches...)
	}
	return files
}

// CompressAged compresses every rotated or plain log file above the size
// threshold. A failure on one file does not stop the others.
func (s *Service) CompressAged(ctx context.Context) []CompressionStats {
	var results []CompressionStats
	for _, path := range s.agedCandidates() {
		if ctx.Err() != nil {
			break
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || info.Size() <= s.config.CompressionThreshold {
			continue
		}

		stats, err := s.CompressFile(path)
		if err != nil {
			s.logger.Warn("Failed to compress log file", zap.String("file", path), zap.Error(err))
			continue
		}
		s.logger.Info("Compressed log file",
			zap.String("file", path),
			zap.Int64("original", stats.Original),
			zap.Int64("compressed", stats.Compressed),
			zap.Float64("space_saved_percent", stats.SpaceSaved))
		results = append(results, stats)
	}
	return results
}

// PurgeExpired drops index entries and archives older than the retention
// window. The result cache is cleared so it cannot return purged ids.
func (s *Service) PurgeExpired(ctx context.Context) (PurgeStats, error) {
	cutoff := s.now().Add(-s.config.Retention)

	var stats PurgeStats
	n, err := s.index.Purge(ctx, cutoff)
	if err != nil {
		return stats, err
	}
	stats.IndexEntries = n
	s.cache.Clear()

	if s.config.CompressedDir == "" {
		return stats, nil
	}
	entries, err := os.ReadDir(s.config.CompressedDir)
	if err != nil {
		return stats, fmt.Errorf("failed to read compressed directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.config.CompressedDir, e.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn("Failed to remove expired archive", zap.String("file", path), zap.Error(err))
			continue
		}
		stats.Archives++
	}
	return stats, nil
}

// Start loads the index from its durable store and schedules the workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduler != nil {
		return nil
	}

	s.index.Load(ctx)

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	jobs := []struct {
		name     string
		interval time.Duration
		task     func()
	}{
		{"compression", s.config.CompressionInterval, func() { s.CompressAged(ctx) }},
		{"cache-sweep", s.config.CacheTTL, func() {
			if n := s.cache.Sweep(); n > 0 {
				s.logger.Debug("Swept search cache", zap.Int("expired", n))
			}
		}},
		{"retention", s.config.RetentionInterval, func() {
			stats, err := s.PurgeExpired(ctx)
			if err != nil {
				s.logger.Error("Retention purge failed", zap.Error(err))
				return
			}
			s.logger.Info("Retention purge complete",
				zap.Int("index_entries", stats.IndexEntries),
				zap.Int("archives", stats.Archives))
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
			_ = sched.Shutdown()
			return fmt.Errorf("failed to schedule %s: %w", job.name, err)
		}
	}

	sched.Start()
	s.scheduler = sched
	s.logger.Info("Log optimizer started", zap.String("codec", s.codec.Name()))
	return nil
}

// Stop waits for running jobs to finish.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduler == nil {
		return nil
	}
	err := s.scheduler.Shutdown()
	s.scheduler = nil
	return err
}

func (s *Service) Stats() Stats {
	return Stats{
		Index:           s.index.Stats(),
		CacheSize:       s.cache.Len(),
		CacheHits:       s.cache.hits.Load(),
		CacheMisses:     s.cache.misses.Load(),
		FilesCompressed: s.filesCompressed.Load(),
		BytesIn:         s.bytesIn.Load(),
		BytesOut:        s.bytesOut.Load(),
		Codec:           s.codec.Name(),
	}
}
