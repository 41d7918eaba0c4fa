package logs

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dockpulse/internal/json"
	"github.com/dockpulse/internal/models"
)

var levelKeywords = []struct {
	level    models.LogLevel
	keywords []string
}{
	{models.LogLevelFatal, []string{"fatal", "panic", "critical"}},
	{models.LogLevelError, []string{"error", "err", "exception", "failed"}},
	{models.LogLevelWarn, []string{"warn", "warning", "deprecated"}},
	{models.LogLevelInfo, []string{"info"}},
	{models.LogLevelDebug, []string{"debug", "dbg"}},
	{models.LogLevelTrace, []string{"trace"}},
}

var keyValue = regexp.MustCompile(`(\w+)=(\S+)`)

// ParseLine turns one line of container output into an entry. Docker
// prefixes lines with an RFC3339Nano timestamp when asked to; lines without
// one are stamped with now.
func ParseLine(info models.ContainerInfo, stream, line string, now time.Time) models.LogEntry {
	line = strings.TrimSpace(line)
	ts := now.UTC()
	message := line
	if head, rest, ok := strings.Cut(line, " "); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, head); err == nil {
			ts = parsed.UTC()
			message = strings.TrimSpace(rest)
		}
	}

	return models.LogEntry{
		Timestamp:     ts,
		ContainerID:   info.ID,
		ContainerName: info.Name,
		ServiceName:   info.Service,
		Stream:        stream,
		Level:         DetectLevel(message),
		Message:       message,
		Metadata:      extractMetadata(message),
	}
}

// DetectLevel matches keywords anywhere in the message, most severe first.
func DetectLevel(message string) models.LogLevel {
	lower := strings.ToLower(message)
	for _, group := range levelKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				return group.level
			}
		}
	}
	return models.LogLevelInfo
}

func extractMetadata(message string) map[string]string {
	if strings.HasPrefix(message, "{") && strings.HasSuffix(message, "}") {
		var fields map[string]any
		if err := json.Unmarshal([]byte(message), &fields); err == nil {
			out := make(map[string]string, len(fields))
			for k, v := range fields {
				if s, ok := v.(string); ok {
					out[k] = s
					continue
				}
				b, err := json.Marshal(v)
				if err != nil {
					out[k] = fmt.Sprint(v)
					continue
				}
				out[k] = string(b)
			}
			return out
		}
	}

	matches := keyValue.FindAllStringSubmatch(message, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make(map[string]string, len(matches))
	for _, m := range matches {
		out[m[1]] = m[2]
	}
	return out
}
