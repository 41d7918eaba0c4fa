package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExtractTerms(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxTerms int
		want     []string
	}{
		{
			name: "punctuation and short words",
			text: "Error connecting to database: connection timeout",
			want: []string{"error", "connecting", "database", "connection", "timeout"},
		},
		{
			name: "stopwords and duplicates",
			text: "the request from the client failed, request retried",
			want: []string{"request", "client", "failed", "retried"},
		},
		{
			name: "keeps dots and dashes",
			text: "GET /api/v1/users-list 10.0.0.1",
			want: []string{"api", "users-list", "10.0.0.1"},
		},
		{
			name:     "capped",
			text:     "alpha bravo charlie delta echo",
			maxTerms: 3,
			want:     []string{"alpha", "bravo", "charlie"},
		},
		{
			name: "nothing usable",
			text: "a b: ok",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractTerms(tt.text, tt.maxTerms))
		})
	}
}

func TestEntryID(t *testing.T) {
	ts := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	id := EntryID(ts, "c1", "hello")
	assert.Len(t, id, 32)
	assert.Equal(t, id, EntryID(ts.In(time.FixedZone("X", 3600)), "c1", "hello"))
	assert.NotEqual(t, id, EntryID(ts, "c2", "hello"))
	assert.NotEqual(t, id, EntryID(ts.Add(time.Nanosecond), "c1", "hello"))
	assert.Len(t, MessageHash("hello"), 16)
}
