package optimize

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dockpulse/internal/index"
	"github.com/dockpulse/internal/json"
	"github.com/dockpulse/internal/models"
	"github.com/dockpulse/internal/telemetry"
)

func newService(t *testing.T, config Config) (*Service, *telemetry.Metrics) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	idx := index.New(nil, index.Config{}, logger, metrics)
	svc, err := NewService(idx, config, logger, metrics)
	require.NoError(t, err)
	return svc, metrics
}

func TestSearch_CachedWithinTTL(t *testing.T) {
	svc, metrics := newService(t, Config{CacheTTL: time.Minute})
	ctx := context.Background()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	svc.cache.now = func() time.Time { return now }

	id := svc.IndexEntry(ctx, models.LogEntry{Timestamp: now, ContainerID: "c1", Level: models.LogLevelError, Message: "database connection failed"})
	q := index.Query{Text: "database"}

	first := svc.Search(ctx, q)
	assert.False(t, first.Cached)
	assert.Equal(t, []string{id}, first.IDs)

	svc.IndexEntry(ctx, models.LogEntry{Timestamp: now.Add(time.Second), ContainerID: "c1", Message: "database restarted"})

	second := svc.Search(ctx, q)
	assert.True(t, second.Cached)
	assert.Equal(t, first.IDs, second.IDs)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheMisses))

	now = now.Add(time.Minute)
	third := svc.Search(ctx, q)
	assert.False(t, third.Cached)
	assert.Len(t, third.IDs, 2)

	missQ := index.Query{Text: "absent"}
	emptyFirst := svc.Search(ctx, missQ)
	emptySecond := svc.Search(ctx, missQ)
	assert.False(t, emptyFirst.Cached)
	assert.True(t, emptySecond.Cached)
	firstJSON, err := json.Marshal(emptyFirst.IDs)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(emptySecond.IDs)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(firstJSON))
	assert.Equal(t, string(firstJSON), string(secondJSON))
}

func TestResultCache_PutAfterClearIsDropped(t *testing.T) {
	c, err := newResultCache(8, time.Minute)
	require.NoError(t, err)

	gen := c.Generation()
	c.Clear()
	assert.False(t, c.PutIfCurrent("stale", []string{"purged"}, gen))
	_, ok := c.Get("stale")
	assert.False(t, ok)

	assert.True(t, c.PutIfCurrent("fresh", []string{"kept"}, c.Generation()))
	ids, ok := c.Get("fresh")
	assert.True(t, ok)
	assert.Equal(t, []string{"kept"}, ids)
}

func TestSearch_CachedIDsAreCopies(t *testing.T) {
	svc, _ := newService(t, Config{})
	ctx := context.Background()
	svc.IndexEntry(ctx, models.LogEntry{Timestamp: time.Now(), ContainerID: "c1", Message: "worker started"})

	first := svc.Search(ctx, index.Query{Text: "worker"})
	first.IDs[0] = "mutated"
	second := svc.Search(ctx, index.Query{Text: "worker"})
	assert.NotEqual(t, "mutated", second.IDs[0])
}

func TestResultCache_Sweep(t *testing.T) {
	c, err := newResultCache(8, time.Minute)
	require.NoError(t, err)
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Put("a", []string{"1"})
	now = now.Add(30 * time.Second)
	c.Put("b", []string{"2"})
	now = now.Add(40 * time.Second)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("b")
	assert.True(t, ok)
}

func TestCompress_AllCodecs(t *testing.T) {
	content := strings.Repeat("2024-03-10T12:00:00Z level=info msg=\"request served\"\n", 200)
	for _, name := range CodecNames() {
		t.Run(name, func(t *testing.T) {
			codec, err := CodecByName(name)
			require.NoError(t, err)

			src := filepath.Join(t.TempDir(), "app.log")
			require.NoError(t, os.WriteFile(src, []byte(content), 0o644))
			dir := t.TempDir()

			stats, err := Compress(src, dir, codec)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, "app.log"+codec.Extension()), stats.Archive)
			assert.Equal(t, int64(len(content)), stats.Original)
			assert.Less(t, stats.Compressed, stats.Original)
			assert.Equal(t, name, stats.Codec)
			saved := (1 - float64(stats.Compressed)/float64(stats.Original)) * 100
			assert.InDelta(t, saved, stats.SpaceSaved, 1e-9)
			assert.Greater(t, stats.SpaceSaved, 0.0)

			_, err = os.Stat(src)
			assert.True(t, os.IsNotExist(err))
			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, filepath.Base(stats.Archive), entries[0].Name())

			r, err := OpenArchive(stats.Archive)
			require.NoError(t, err)
			defer r.Close()
			var out bytes.Buffer
			_, err = io.Copy(&out, r)
			require.NoError(t, err)
			assert.Equal(t, content, out.String())
		})
	}
}

func TestCodecByName_Unknown(t *testing.T) {
	_, err := CodecByName("brotli")
	assert.ErrorIs(t, err, ErrUnknownCodec)
	_, err = NewService(index.New(nil, index.Config{}, zaptest.NewLogger(t), nil), Config{Codec: "brotli"}, zaptest.NewLogger(t), nil)
	assert.ErrorIs(t, err, ErrUnknownCodec)
}

func TestCompress_MissingSourceLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	_, err := Compress(filepath.Join(dir, "missing.log"), dir, lz4Codec{})
	require.Error(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCompressAged(t *testing.T) {
	logDir := t.TempDir()
	archives := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(logDir, "containers"), 0o755))

	big := strings.Repeat("x", 256)
	write := func(rel, body string) string {
		p := filepath.Join(logDir, rel)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}
	plain := write("daemon.log", big)
	rotated := write(filepath.Join("containers", "abc.1.jsonl"), big)
	active := write(filepath.Join("containers", "abc.jsonl"), big)
	small := write("small.log", "tiny")

	svc, metrics := newService(t, Config{LogDir: logDir, CompressedDir: archives, CompressionThreshold: 64, Codec: "zstd"})
	results := svc.CompressAged(context.Background())
	require.Len(t, results, 2)

	for _, p := range []string{plain, rotated} {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), p)
	}
	for _, p := range []string{active, small} {
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
	}
	assert.FileExists(t, filepath.Join(archives, "daemon.log.zst"))
	assert.FileExists(t, filepath.Join(archives, "abc.1.jsonl.zst"))
	assert.Equal(t, int64(2), svc.Stats().FilesCompressed)
	assert.Equal(t, 512.0, testutil.ToFloat64(metrics.CompressedBytesIn))
}

func TestCompressAged_KeepsEveryGeneration(t *testing.T) {
	logDir := t.TempDir()
	archives := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(logDir, "containers"), 0o755))
	rotated := filepath.Join(logDir, "containers", "c1.1.jsonl")

	svc, _ := newService(t, Config{LogDir: logDir, CompressedDir: archives, CompressionThreshold: 1})
	var got []string
	for _, body := range []string{"generation-one\n", "generation-two\n", "generation-three\n"} {
		require.NoError(t, os.WriteFile(rotated, []byte(body), 0o644))
		results := svc.CompressAged(context.Background())
		require.Len(t, results, 1)
		got = append(got, results[0].Archive)
	}

	assert.Equal(t, []string{
		filepath.Join(archives, "c1.1.jsonl.lz4"),
		filepath.Join(archives, "c1.1.jsonl-1.lz4"),
		filepath.Join(archives, "c1.1.jsonl-2.lz4"),
	}, got)

	for i, want := range []string{"generation-one\n", "generation-two\n", "generation-three\n"} {
		r, err := OpenArchive(got[i])
		require.NoError(t, err)
		body, err := io.ReadAll(r)
		require.NoError(t, r.Close())
		require.NoError(t, err)
		assert.Equal(t, want, string(body))
	}
}

func TestPurgeExpired(t *testing.T) {
	archives := t.TempDir()
	svc, _ := newService(t, Config{CompressedDir: archives, Retention: 24 * time.Hour})
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	ctx := context.Background()

	svc.IndexEntry(ctx, models.LogEntry{Timestamp: now.Add(-48 * time.Hour), ContainerID: "c1", Message: "ancient event"})
	keep := svc.IndexEntry(ctx, models.LogEntry{Timestamp: now.Add(-time.Hour), ContainerID: "c1", Message: "recent event"})
	assert.Len(t, svc.Search(ctx, index.Query{Text: "event"}).IDs, 2)

	old := filepath.Join(archives, "old.log.lz4")
	fresh := filepath.Join(archives, "fresh.log.lz4")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(old, now.Add(-72*time.Hour), now.Add(-72*time.Hour)))
	require.NoError(t, os.Chtimes(fresh, now, now))

	stats, err := svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, PurgeStats{IndexEntries: 1, Archives: 1}, stats)
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.Equal(t, []string{keep}, svc.Search(ctx, index.Query{Text: "event"}).IDs)
}

func TestStartStop(t *testing.T) {
	svc, _ := newService(t, Config{LogDir: t.TempDir(), CompressedDir: t.TempDir()})
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	require.NoError(t, svc.Start(ctx))
	require.NoError(t, svc.Stop())
	require.NoError(t, svc.Stop())
}
