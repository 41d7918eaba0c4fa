package logs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dockpulse/internal/models"
)

func TestDetectLevel(t *testing.T) {
	tests := []struct {
		message string
		want    models.LogLevel
	}{
		{"FATAL: out of memory", models.LogLevelFatal},
		{"error while handling request, panic recovered", models.LogLevelFatal},
		{"Error connecting to database", models.LogLevelError},
		{"job failed after 3 attempts", models.LogLevelError},
		{"java.lang.NullPointerException at Main", models.LogLevelError},
		{"WARNING: config key is deprecated", models.LogLevelWarn},
		{"[INFO] listening on :8080", models.LogLevelInfo},
		{"dbg: cache size 12", models.LogLevelDebug},
		{"TRACE enter handler", models.LogLevelTrace},
		{"GET /healthz 200", models.LogLevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLevel(tt.message))
		})
	}
}

func TestParseLine_DockerTimestamp(t *testing.T) {
	info := models.ContainerInfo{ID: "c1", Name: "api", Service: "web"}
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	entry := ParseLine(info, "stderr", "2024-03-10T11:59:58.123456789Z level=warn user=42 msg=slow", now)
	assert.Equal(t, time.Date(2024, 3, 10, 11, 59, 58, 123456789, time.UTC), entry.Timestamp)
	assert.Equal(t, "level=warn user=42 msg=slow", entry.Message)
	assert.Equal(t, models.LogLevelWarn, entry.Level)
	assert.Equal(t, map[string]string{"level": "warn", "user": "42", "msg": "slow"}, entry.Metadata)
	assert.Equal(t, "stderr", entry.Stream)
	assert.Equal(t, "api", entry.ContainerName)
	assert.Equal(t, "web", entry.ServiceName)
}

func TestParseLine_NoTimestampUsesNow(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	entry := ParseLine(models.ContainerInfo{ID: "c1"}, "stdout", "server ready", now)
	assert.Equal(t, now, entry.Timestamp)
	assert.Equal(t, "server ready", entry.Message)
	assert.Nil(t, entry.Metadata)
}

func TestParseLine_JSONMetadata(t *testing.T) {
	now := time.Now()
	entry := ParseLine(models.ContainerInfo{ID: "c1"}, "stdout", `{"level":"error","status":500,"ok":false}`, now)
	assert.Equal(t, models.LogLevelError, entry.Level)
	assert.Equal(t, map[string]string{"level": "error", "status": "500", "ok": "false"}, entry.Metadata)
}
