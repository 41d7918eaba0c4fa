// Package storage persists metric samples and alerts as append-only
// newline-delimited JSON, one file per day and kind.
package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dockpulse/internal/json"
	"github.com/dockpulse/internal/models"
)

const (
	kindMetrics = "metrics"
	kindAlerts  = "alerts"
	dayLayout   = "2006-01-02"
)

// Store writes day files under a single directory.
type Store struct {
	dir    string
	logger *zap.Logger
	// mu is held for writing by appends and cleanup. Readers hold it only to
	// take a size snapshot, then read the file unlocked.
	mu  sync.RWMutex
	now func() time.Time
}

func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logger.Named("storage"),
		now:    time.Now,
	}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(kind string, day time.Time) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.jsonl", kind, day.UTC().Format(dayLayout)))
}

func (s *Store) AppendSample(sample models.MetricSample) error {
	return s.append(kindMetrics, sample.Timestamp, sample)
}

func (s *Store) AppendAlert(alert models.Alert) error {
	return s.append(kindAlerts, alert.Timestamp, alert)
}

func (s *Store) append(kind string, ts time.Time, record interface{}) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", kind, err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path(kind, ts), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s file: %w", kind, err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("failed to append %s record: %w", kind, err)
	}
	return f.Close()
}

// RecentSamples returns samples at or after since, newest first. An empty
// containerID matches every container. limit <= 0 means no cap.
func (s *Store) RecentSamples(ctx context.Context, containerID string, since time.Time, limit int) ([]models.MetricSample, error) {
	var out []models.MetricSample
	err := scanDays(ctx, s, kindMetrics, since, func(sample models.MetricSample) {
		if sample.Timestamp.Before(since) {
			return
		}
		if containerID != "" && sample.ContainerID != containerID {
			return
		}
		out = append(out, sample)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecentAlerts is the alert counterpart of RecentSamples.
func (s *Store) RecentAlerts(ctx context.Context, containerID string, since time.Time, limit int) ([]models.Alert, error) {
	var out []models.Alert
	err := scanDays(ctx, s, kindAlerts, since, func(alert models.Alert) {
		if alert.Timestamp.Before(since) {
			return
		}
		if containerID != "" && alert.ContainerID != containerID {
			return
		}
		out = append(out, alert)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// scanDays decodes every record in the day files from since through today.
// Undecodable lines are logged and skipped.
func scanDays[T any](ctx context.Context, s *Store, kind string, since time.Time, fn func(T)) error {
	today := truncateDay(s.now())
	for day := truncateDay(since); !day.After(today); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := scanFile(s, s.path(kind, day), fn); err != nil {
			return err
		}
	}
	return nil
}

// openSnapshot opens path and returns its size while no append is in
// flight, so reading up to that size never sees a half written line.
func (s *Store) openSnapshot(path string) (*os.File, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

func scanFile[T any](s *Store, path string, fn func(T)) error {
	f, size, err := s.openSnapshot(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(io.LimitReader(f, size))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record T
		if err := json.Unmarshal(line, &record); err != nil {
			s.logger.Warn("Skipping corrupt record",
				zap.String("file", filepath.Base(path)),
				zap.Int("line", lineNo),
				zap.Error(err))
			continue
		}
		fn(record)
	}
	return scanner.Err()
}

// Cleanup removes day files older than retentionDays and returns how many
// were deleted. The age is taken from the date in the file name.
func (s *Store) Cleanup(retentionDays int) (int, error) {
	cutoff := truncateDay(s.now()).AddDate(0, 0, -retentionDays)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list storage directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, entry := range entries {
		day, ok := parseDayFile(entry.Name())
		if !ok || !day.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			s.logger.Warn("Failed to remove expired file", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

func parseDayFile(name string) (time.Time, bool) {
	base, ok := strings.CutSuffix(name, ".jsonl")
	if !ok {
		return time.Time{}, false
	}
	var date string
	switch {
	case strings.HasPrefix(base, kindMetrics+"_"):
		date = strings.TrimPrefix(base, kindMetrics+"_")
	case strings.HasPrefix(base, kindAlerts+"_"):
		date = strings.TrimPrefix(base, kindAlerts+"_")
	default:
		return time.Time{}, false
	}
	day, err := time.Parse(dayLayout, date)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
