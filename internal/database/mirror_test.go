package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockpulse/internal/models"
)

func newMirror(t *testing.T) *IndexMirror {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "dockpulse.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })
	return NewIndexMirror(db)
}

func entryAt(id string, ts time.Time) models.LogIndexEntry {
	return models.LogIndexEntry{
		ID:          id,
		Timestamp:   ts,
		ContainerID: "c1",
		Level:       models.LogLevelError,
		MessageHash: "abcd",
		Terms:       []string{"database", "timeout"},
		FilePath:    "/var/log/c1.jsonl",
	}
}

func TestIndexMirror_SaveIsIdempotent(t *testing.T) {
	m := newMirror(t)
	ctx := context.Background()
	ts := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, m.Save(ctx, entryAt("e1", ts)))
	require.NoError(t, m.Save(ctx, entryAt("e1", ts)))

	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := m.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, []string{"database", "timeout"}, got.Terms)
	assert.Equal(t, models.LogLevelError, got.Level)
	assert.True(t, ts.Equal(got.Timestamp))
}

func TestIndexMirror_GetMissing(t *testing.T) {
	m := newMirror(t)
	_, err := m.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIndexMirror_LoadNewestFirstWithLimit(t *testing.T) {
	m := newMirror(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"e0", "e1", "e2", "e3"} {
		require.NoError(t, m.Save(ctx, entryAt(id, base.Add(time.Duration(i)*time.Hour))))
	}

	entries, err := m.Load(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "e3", entries[0].ID)
	assert.Equal(t, "e2", entries[1].ID)
}

func TestIndexMirror_DeleteOlderThan(t *testing.T) {
	m := newMirror(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"e0", "e1", "e2"} {
		require.NoError(t, m.Save(ctx, entryAt(id, base.Add(time.Duration(i)*time.Hour))))
	}

	deleted, err := m.DeleteOlderThan(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	_, err = m.Get(ctx, "e0")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get(ctx, "e2")
	assert.NoError(t, err)
}
