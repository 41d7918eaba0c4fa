package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dockpulse/internal/models"
)

var ErrNotFound = errors.New("index entry not found")

// LogIndexRecord is the durable row behind a models.LogIndexEntry.
type LogIndexRecord struct {
	ID             string    `gorm:"primaryKey;size:32"`
	Timestamp      time.Time `gorm:"index;not null"`
	ContainerID    string    `gorm:"index;not null"`
	Level          string    `gorm:"index;size:16"`
	MessageHash    string    `gorm:"index;size:16"`
	Terms          []string  `gorm:"serializer:json"`
	FilePath       string
	CompressedSize int64
	CreatedAt      time.Time
}

func (LogIndexRecord) TableName() string {
	return "log_index"
}

func recordFromEntry(e models.LogIndexEntry) LogIndexRecord {
	return LogIndexRecord{
		ID:             e.ID,
		Timestamp:      e.Timestamp.UTC(),
		ContainerID:    e.ContainerID,
		Level:          string(e.Level),
		MessageHash:    e.MessageHash,
		Terms:          e.Terms,
		FilePath:       e.FilePath,
		CompressedSize: e.CompressedSize,
	}
}

func (r LogIndexRecord) entry() models.LogIndexEntry {
	return models.LogIndexEntry{
		ID:             r.ID,
		Timestamp:      r.Timestamp.UTC(),
		ContainerID:    r.ContainerID,
		Level:          models.LogLevel(r.Level),
		MessageHash:    r.MessageHash,
		Terms:          r.Terms,
		FilePath:       r.FilePath,
		CompressedSize: r.CompressedSize,
	}
}

// IndexMirror keeps the log index durable across restarts.
type IndexMirror struct {
	db *gorm.DB
}

func NewIndexMirror(db *gorm.DB) *IndexMirror {
	return &IndexMirror{db: db}
}

// Save inserts the entry. An existing row with the same id is left as is.
func (m *IndexMirror) Save(ctx context.Context, entry models.LogIndexEntry) error {
	rec := recordFromEntry(entry)
	err := m.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to save index entry %s: %w", entry.ID, err)
	}
	return nil
}

// DeleteOlderThan removes every row with a timestamp before cutoff in a
// single transaction and reports how many rows went.
func (m *IndexMirror) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("timestamp < ?", cutoff.UTC()).Delete(&LogIndexRecord{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete index entries before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return deleted, nil
}

// Load returns up to limit rows, newest first.
func (m *IndexMirror) Load(ctx context.Context, limit int) ([]models.LogIndexEntry, error) {
	var records []LogIndexRecord
	if err := m.db.WithContext(ctx).Order("timestamp desc").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load index entries: %w", err)
	}

	entries := make([]models.LogIndexEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, r.entry())
	}
	return entries, nil
}

func (m *IndexMirror) Get(ctx context.Context, id string) (models.LogIndexEntry, error) {
	var rec LogIndexRecord
	err := m.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.LogIndexEntry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return models.LogIndexEntry{}, fmt.Errorf("failed to get index entry %s: %w", id, err)
	}
	return rec.entry(), nil
}

func (m *IndexMirror) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := m.db.WithContext(ctx).Model(&LogIndexRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count index entries: %w", err)
	}
	return n, nil
}
