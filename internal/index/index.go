// Package index holds the in-memory inverted index over collected log lines
// and keeps it mirrored in a durable store.
package index

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dockpulse/internal/models"
	"github.com/dockpulse/internal/telemetry"
)

const (
	DefaultSearchLimit  = 100
	DefaultRebuildLimit = 100000
)

// Mirror is the durable side of the index.
type Mirror interface {
	Save(ctx context.Context, entry models.LogIndexEntry) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Load(ctx context.Context, limit int) ([]models.LogIndexEntry, error)
}

type Config struct {
	MaxTerms     int
	RebuildLimit int
}

// Query selects entries. Zero fields apply no filter.
type Query struct {
	Text        string
	ContainerID string
	Level       models.LogLevel
	Start       time.Time
	End         time.Time
	Limit       int
}

type Stats struct {
	Entries    int `json:"entries"`
	Terms      int `json:"terms"`
	Containers int `json:"containers"`
	Levels     int `json:"levels"`
	Buckets    int `json:"buckets"`
}

type idSet map[string]struct{}

// Index is safe for concurrent use. Writers are serialized across the
// durable write and the in-memory update, so readers see each mutation
// whole or not at all.
type Index struct {
	mirror  Mirror
	config  Config
	logger  *zap.Logger
	metrics *telemetry.Metrics

	writeMu sync.Mutex

	mu         sync.RWMutex
	entries    map[string]models.LogIndexEntry
	terms      map[string]idSet
	containers map[string]idSet
	levels     map[models.LogLevel]idSet
	buckets    map[int64]idSet
}

// New builds an empty index. mirror may be nil for a memory-only index.
func New(mirror Mirror, config Config, logger *zap.Logger, metrics *telemetry.Metrics) *Index {
	if config.MaxTerms <= 0 {
		config.MaxTerms = DefaultMaxTerms
	}
	if config.RebuildLimit <= 0 {
		config.RebuildLimit = DefaultRebuildLimit
	}
	if metrics == nil {
		metrics = telemetry.NewMetrics(nil)
	}
	idx := &Index{
		mirror:  mirror,
		config:  config,
		logger:  logger.Named("index"),
		metrics: metrics,
	}
	idx.reset()
	return idx
}

func (idx *Index) reset() {
	idx.entries = make(map[string]models.LogIndexEntry)
	idx.terms = make(map[string]idSet)
	idx.containers = make(map[string]idSet)
	idx.levels = make(map[models.LogLevel]idSet)
	idx.buckets = make(map[int64]idSet)
}

// Add indexes a log line and returns its id. Adding the same line twice is
// a no-op. A failed durable write is logged; the entry remains searchable
// until the next restart.
func (idx *Index) Add(ctx context.Context, entry models.LogEntry) string {
	id := EntryID(entry.Timestamp, entry.ContainerID, entry.Message)

	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	idx.mu.RLock()
	_, exists := idx.entries[id]
	idx.mu.RUnlock()
	if exists {
		return id
	}

	e := models.LogIndexEntry{
		ID:          id,
		Timestamp:   entry.Timestamp.UTC(),
		ContainerID: entry.ContainerID,
		Level:       entry.Level,
		MessageHash: MessageHash(entry.Message),
		Terms:       ExtractTerms(entry.Message, idx.config.MaxTerms),
		FilePath:    entry.FilePath,
	}

	if idx.mirror != nil {
		if err := idx.mirror.Save(ctx, e); err != nil {
			idx.metrics.IndexMirrorErrors.Inc()
			idx.logger.Warn("Failed to persist index entry", zap.String("id", id), zap.Error(err))
		}
	}

	idx.mu.Lock()
	idx.insert(e)
	n := len(idx.entries)
	idx.mu.Unlock()

	idx.metrics.IndexEntries.Set(float64(n))
	return id
}

// insert requires idx.mu held for writing.
func (idx *Index) insert(e models.LogIndexEntry) {
	idx.entries[e.ID] = e
	for _, term := range e.Terms {
		addTo(idx.terms, term, e.ID)
	}
	addTo(idx.containers, e.ContainerID, e.ID)
	addTo(idx.levels, e.Level, e.ID)
	addTo(idx.buckets, hourBucket(e.Timestamp), e.ID)
}

// remove requires idx.mu held for writing.
func (idx *Index) remove(e models.LogIndexEntry) {
	for _, term := range e.Terms {
		removeFrom(idx.terms, term, e.ID)
	}
	removeFrom(idx.containers, e.ContainerID, e.ID)
	removeFrom(idx.levels, e.Level, e.ID)
	removeFrom(idx.buckets, hourBucket(e.Timestamp), e.ID)
	delete(idx.entries, e.ID)
}

func addTo[K comparable](m map[K]idSet, key K, id string) {
	set, ok := m[key]
	if !ok {
		set = make(idSet)
		m[key] = set
	}
	set[id] = struct{}{}
}

func removeFrom[K comparable](m map[K]idSet, key K, id string) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(m, key)
	}
}

// Search returns matching ids, newest first. Every term of q.Text must be
// present. Time bounds are matched by hour bucket widened one hour on each
// side, so results may reach up to an hour outside [Start, End].
func (idx *Index) Search(q Query) []string {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	terms := ExtractTerms(q.Text, idx.config.MaxTerms)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var candidates []idSet
	for _, term := range terms {
		set, ok := idx.terms[term]
		if !ok {
			return []string{}
		}
		candidates = append(candidates, set)
	}
	if q.ContainerID != "" {
		set, ok := idx.containers[q.ContainerID]
		if !ok {
			return []string{}
		}
		candidates = append(candidates, set)
	}
	if q.Level != "" {
		set, ok := idx.levels[q.Level]
		if !ok {
			return []string{}
		}
		candidates = append(candidates, set)
	}
	if !q.Start.IsZero() || !q.End.IsZero() {
		candidates = append(candidates, idx.bucketRange(q.Start, q.End))
	}

	var matched []string
	if len(candidates) == 0 {
		matched = make([]string, 0, len(idx.entries))
		for id := range idx.entries {
			matched = append(matched, id)
		}
	} else {
		matched = intersect(candidates)
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := idx.entries[matched[i]], idx.entries[matched[j]]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.ID < b.ID
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// bucketRange requires idx.mu held. An unset bound is open.
func (idx *Index) bucketRange(start, end time.Time) idSet {
	out := make(idSet)
	for bucket, set := range idx.buckets {
		if !start.IsZero() && bucket < hourBucket(start)-1 {
			continue
		}
		if !end.IsZero() && bucket > hourBucket(end)+1 {
			continue
		}
		for id := range set {
			out[id] = struct{}{}
		}
	}
	return out
}

func intersect(sets []idSet) []string {
	sort.Slice(sets, func(i, j int) bool { return len(sets[i]) < len(sets[j]) })
	out := make([]string, 0, len(sets[0]))
next:
	for id := range sets[0] {
		for _, set := range sets[1:] {
			if _, ok := set[id]; !ok {
				continue next
			}
		}
		out = append(out, id)
	}
	return out
}

// Lookup resolves ids to entries, skipping unknown ones.
func (idx *Index) Lookup(ids []string) []models.LogIndexEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]models.LogIndexEntry, 0, len(ids))
	for _, id := range ids {
		if e, ok := idx.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Purge drops every entry older than cutoff, first from the durable store
// and then from memory. If the durable delete fails nothing is removed.
func (idx *Index) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	if idx.mirror != nil {
		deleted, err := idx.mirror.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return 0, fmt.Errorf("failed to purge index: %w", err)
		}
		idx.logger.Debug("Purged durable index rows", zap.Int64("rows", deleted))
	}

	idx.mu.Lock()
	var expired []models.LogIndexEntry
	for _, e := range idx.entries {
		if e.Timestamp.Before(cutoff) {
			expired = append(expired, e)
		}
	}
	for _, e := range expired {
		idx.remove(e)
	}
	n := len(idx.entries)
	idx.mu.Unlock()

	idx.metrics.IndexEntries.Set(float64(n))
	return len(expired), nil
}

// Load replaces the in-memory index with the newest RebuildLimit durable
// rows. Older rows stay on disk but are not searchable until newer ones
// expire and the index is loaded again. A read failure leaves the index
// empty.
func (idx *Index) Load(ctx context.Context) int {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	var entries []models.LogIndexEntry
	if idx.mirror != nil {
		var err error
		entries, err = idx.mirror.Load(ctx, idx.config.RebuildLimit)
		if err != nil {
			idx.metrics.IndexMirrorErrors.Inc()
			idx.logger.Error("Failed to load index, starting empty", zap.Error(err))
			entries = nil
		}
	}

	idx.mu.Lock()
	idx.reset()
	for _, e := range entries {
		idx.insert(e)
	}
	n := len(idx.entries)
	idx.mu.Unlock()

	idx.metrics.IndexEntries.Set(float64(n))
	idx.logger.Info("Loaded log index", zap.Int("entries", n), zap.Int("limit", idx.config.RebuildLimit))
	return n
}

func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return Stats{
		Entries:    len(idx.entries),
		Terms:      len(idx.terms),
		Containers: len(idx.containers),
		Levels:     len(idx.levels),
		Buckets:    len(idx.buckets),
	}
}
