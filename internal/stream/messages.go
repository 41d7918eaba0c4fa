package stream

import (
	"time"

	"github.com/dockpulse/internal/models"
)

type StreamType string

const (
	StreamMetrics      StreamType = "metrics"
	StreamAlerts       StreamType = "alerts"
	StreamSystemStatus StreamType = "system_status"
)

var StreamTypes = []StreamType{StreamMetrics, StreamAlerts, StreamSystemStatus}

func (s StreamType) Valid() bool {
	for _, t := range StreamTypes {
		if s == t {
			return true
		}
	}
	return false
}

type MessageType string

const (
	MessageMetricsUpdate   MessageType = "metrics_update"
	MessageAlert           MessageType = "alert"
	MessageStatusUpdate    MessageType = "status_update"
	MessageSubscriptionAck MessageType = "subscription_ack"
	MessageError           MessageType = "error"
	MessagePing            MessageType = "ping"
	MessagePong            MessageType = "pong"
)

// messageTypeFor is the message type used for items of a stream.
func messageTypeFor(s StreamType) MessageType {
	switch s {
	case StreamMetrics:
		return MessageMetricsUpdate
	case StreamAlerts:
		return MessageAlert
	default:
		return MessageStatusUpdate
	}
}

// Message is the outbound envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Data      any         `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"
	ActionPong        = "pong"
)

// Request is an inbound client message.
type Request struct {
	Action     string     `json:"action"`
	StreamType StreamType `json:"stream_type"`
	Filters    Filters    `json:"filters"`
}

type Filters struct {
	ContainerIDs []string            `json:"container_ids,omitempty"`
	ServiceNames []string            `json:"service_names,omitempty"`
	AlertLevels  []models.AlertLevel `json:"alert_levels,omitempty"`
}

// Merge returns the union of f and other.
func (f Filters) Merge(other Filters) Filters {
	return Filters{
		ContainerIDs: union(f.ContainerIDs, other.ContainerIDs),
		ServiceNames: union(f.ServiceNames, other.ServiceNames),
		AlertLevels:  union(f.AlertLevels, other.AlertLevels),
	}
}

func union[T comparable](a, b []T) []T {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[T]struct{}, len(a)+len(b))
	out := make([]T, 0, len(a)+len(b))
	for _, list := range [][]T{a, b} {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// target holds the attributes of a broadcast item that filters look at.
type target struct {
	containerID string
	service     string
	level       models.AlertLevel
}

func targetOf(data any) target {
	switch v := data.(type) {
	case models.MetricSample:
		return target{containerID: v.ContainerID, service: v.ServiceName}
	case *models.MetricSample:
		return target{containerID: v.ContainerID, service: v.ServiceName}
	case models.Alert:
		return target{containerID: v.ContainerID, service: v.ServiceName, level: v.Level}
	case *models.Alert:
		return target{containerID: v.ContainerID, service: v.ServiceName, level: v.Level}
	default:
		return target{}
	}
}

// matches reports whether an item of stream s passes the filters. Empty
// lists match everything. Alert levels only constrain the alerts stream.
func (f Filters) matches(s StreamType, t target) bool {
	if len(f.ContainerIDs) > 0 && !contains(f.ContainerIDs, t.containerID) {
		return false
	}
	if len(f.ServiceNames) > 0 && (t.service == "" || !contains(f.ServiceNames, t.service)) {
		return false
	}
	if s == StreamAlerts && len(f.AlertLevels) > 0 && !contains(f.AlertLevels, t.level) {
		return false
	}
	return true
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
