package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/dockpulse/internal/models"
)

type Config struct {
	DataDir string `mapstructure:"data_dir"`

	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`

	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Collector  CollectorConfig                              `mapstructure:"collector"`
	Thresholds map[models.MetricType]models.ThresholdConfig `mapstructure:"thresholds"`
	Logs       LogsConfig                                   `mapstructure:"logs"`
	Index      IndexConfig                                  `mapstructure:"index"`
	Optimizer  OptimizerConfig                              `mapstructure:"optimizer"`
	WebSocket  WebSocketConfig                              `mapstructure:"websocket"`

	Alert struct {
		Slack struct {
			Token    string `mapstructure:"token"`
			Channel  string `mapstructure:"channel"`
			MinLevel string `mapstructure:"min_level"`
		} `mapstructure:"slack"`
		Email struct {
			SMTPHost    string   `mapstructure:"smtp_host"`
			SMTPPort    int      `mapstructure:"smtp_port"`
			From        string   `mapstructure:"from"`
			Password    string   `mapstructure:"password"`
			ToReceivers []string `mapstructure:"to_receivers"`
			MinLevel    string   `mapstructure:"min_level"`
		} `mapstructure:"email"`
	} `mapstructure:"alert"`
}

type CollectorConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	RetentionDays   int           `mapstructure:"retention_days"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	MaxConcurrency  int           `mapstructure:"max_concurrency"`
}

type LogsConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Dir              string        `mapstructure:"dir"`
	BufferSize       int           `mapstructure:"buffer_size"`
	FlushInterval    time.Duration `mapstructure:"flush_interval"`
	MaxFileSize      int64         `mapstructure:"max_file_size"`
	RotationCount    int           `mapstructure:"rotation_count"`
	RotationInterval time.Duration `mapstructure:"rotation_interval"`
	DiscoverInterval time.Duration `mapstructure:"discover_interval"`
	Backlog          time.Duration `mapstructure:"backlog"`
}

type IndexConfig struct {
	MaxTerms     int `mapstructure:"max_terms"`
	RebuildLimit int `mapstructure:"rebuild_limit"`
}

type OptimizerConfig struct {
	CompressedDir        string        `mapstructure:"compressed_dir"`
	CompressionThreshold int64         `mapstructure:"compression_threshold"`
	Codec                string        `mapstructure:"codec"`
	CompressionInterval  time.Duration `mapstructure:"compression_interval"`
	CacheTTL             time.Duration `mapstructure:"cache_ttl"`
	CacheSize            int           `mapstructure:"cache_size"`
	RetentionDays        int           `mapstructure:"retention_days"`
	RetentionInterval    time.Duration `mapstructure:"retention_interval"`
}

type WebSocketConfig struct {
	MaxClients        int           `mapstructure:"max_clients"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	TimeoutMultiplier int           `mapstructure:"timeout_multiplier"`
	BroadcastInterval time.Duration `mapstructure:"broadcast_interval"`
	StatusInterval    time.Duration `mapstructure:"status_interval"`
	SendBuffer        int           `mapstructure:"send_buffer"`
}

var codecs = map[string]bool{"lz4": true, "gzip": true, "zstd": true, "snappy": true}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "data")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("database.path", "data/dockpulse.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("collector.interval", 5*time.Second)
	v.SetDefault("collector.retention_days", 7)
	v.SetDefault("collector.cleanup_interval", 24*time.Hour)
	v.SetDefault("collector.max_concurrency", 10)

	v.SetDefault("thresholds.cpu_percent", map[string]interface{}{"warning": 70.0, "critical": 90.0, "enabled": true})
	v.SetDefault("thresholds.memory_percent", map[string]interface{}{"warning": 80.0, "critical": 95.0, "enabled": true})
	v.SetDefault("thresholds.network_rx", map[string]interface{}{"warning": 100.0 * 1024 * 1024, "critical": 500.0 * 1024 * 1024, "enabled": true})
	v.SetDefault("thresholds.network_tx", map[string]interface{}{"warning": 100.0 * 1024 * 1024, "critical": 500.0 * 1024 * 1024, "enabled": true})

	v.SetDefault("logs.enabled", true)
	v.SetDefault("logs.dir", "data/logs")
	v.SetDefault("logs.buffer_size", 1000)
	v.SetDefault("logs.flush_interval", 10*time.Second)
	v.SetDefault("logs.max_file_size", 100*1024*1024)
	v.SetDefault("logs.rotation_count", 5)
	v.SetDefault("logs.rotation_interval", time.Hour)
	v.SetDefault("logs.discover_interval", 30*time.Second)
	v.SetDefault("logs.backlog", time.Hour)

	v.SetDefault("index.max_terms", 50)
	v.SetDefault("index.rebuild_limit", 100000)

	v.SetDefault("optimizer.compressed_dir", "data/logs/compressed")
	v.SetDefault("optimizer.compression_threshold", 10*1024*1024)
	v.SetDefault("optimizer.codec", "lz4")
	v.SetDefault("optimizer.compression_interval", 5*time.Minute)
	v.SetDefault("optimizer.cache_ttl", 5*time.Minute)
	v.SetDefault("optimizer.cache_size", 1024)
	v.SetDefault("optimizer.retention_days", 30)
	v.SetDefault("optimizer.retention_interval", time.Hour)

	v.SetDefault("websocket.max_clients", 100)
	v.SetDefault("websocket.ping_interval", 30*time.Second)
	v.SetDefault("websocket.timeout_multiplier", 2)
	v.SetDefault("websocket.broadcast_interval", time.Second)
	v.SetDefault("websocket.status_interval", 10*time.Second)
	v.SetDefault("websocket.send_buffer", 64)

	v.SetDefault("alert.slack.min_level", "warning")
	v.SetDefault("alert.email.smtp_port", 587)
	v.SetDefault("alert.email.min_level", "critical")
}

// LoadConfig reads config.yaml from the working directory, ./config or
// /etc/dockpulse. A missing file leaves the defaults in place. Environment
// variables prefixed with DOCKPULSE_ override file values.
func LoadConfig(paths ...string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config", "/etc/dockpulse"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("DOCKPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	for metric, t := range c.Thresholds {
		if !metric.Valid() {
			return fmt.Errorf("thresholds: unknown metric type %q", metric)
		}
		if t.Warning >= t.Critical {
			return fmt.Errorf("thresholds.%s: warning (%v) must be below critical (%v)", metric, t.Warning, t.Critical)
		}
	}
	if !codecs[c.Optimizer.Codec] {
		return fmt.Errorf("optimizer.codec: unsupported codec %q", c.Optimizer.Codec)
	}

	durations := map[string]time.Duration{
		"collector.interval":             c.Collector.Interval,
		"collector.cleanup_interval":     c.Collector.CleanupInterval,
		"logs.flush_interval":            c.Logs.FlushInterval,
		"logs.rotation_interval":         c.Logs.RotationInterval,
		"logs.discover_interval":         c.Logs.DiscoverInterval,
		"logs.backlog":                   c.Logs.Backlog,
		"optimizer.compression_interval": c.Optimizer.CompressionInterval,
		"optimizer.cache_ttl":            c.Optimizer.CacheTTL,
		"optimizer.retention_interval":   c.Optimizer.RetentionInterval,
		"websocket.ping_interval":        c.WebSocket.PingInterval,
		"websocket.broadcast_interval":   c.WebSocket.BroadcastInterval,
		"websocket.status_interval":      c.WebSocket.StatusInterval,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s: must be positive, got %s", key, d)
		}
	}

	counts := map[string]int{
		"collector.retention_days":     c.Collector.RetentionDays,
		"collector.max_concurrency":    c.Collector.MaxConcurrency,
		"logs.buffer_size":             c.Logs.BufferSize,
		"logs.rotation_count":          c.Logs.RotationCount,
		"index.max_terms":              c.Index.MaxTerms,
		"index.rebuild_limit":          c.Index.RebuildLimit,
		"optimizer.cache_size":         c.Optimizer.CacheSize,
		"optimizer.retention_days":     c.Optimizer.RetentionDays,
		"websocket.max_clients":        c.WebSocket.MaxClients,
		"websocket.timeout_multiplier": c.WebSocket.TimeoutMultiplier,
		"websocket.send_buffer":        c.WebSocket.SendBuffer,
	}
	for key, n := range counts {
		if n <= 0 {
			return fmt.Errorf("%s: must be positive, got %d", key, n)
		}
	}
	return nil
}
