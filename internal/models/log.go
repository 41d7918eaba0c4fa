package models

import (
	"time"
)

type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

// LogEntry is one parsed line of container output.
type LogEntry struct {
	Timestamp     time.Time         `json:"timestamp"`
	ContainerID   string            `json:"container_id"`
	ContainerName string            `json:"container_name"`
	ServiceName   string            `json:"service_name,omitempty"`
	Stream        string            `json:"stream"`
	Level         LogLevel          `json:"level"`
	Message       string            `json:"message"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	FilePath      string            `json:"-"`
}

// LogIndexEntry is the searchable projection of a LogEntry.
type LogIndexEntry struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	ContainerID    string    `json:"container_id"`
	Level          LogLevel  `json:"level"`
	MessageHash    string    `json:"message_hash"`
	Terms          []string  `json:"search_terms"`
	FilePath       string    `json:"file_path"`
	CompressedSize int64     `json:"compressed_size"`
}
