// Package telemetry holds the prometheus collectors shared by the services.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dockpulse"

// Metrics groups every collector exported by the daemon.
type Metrics struct {
	CollectorTicks   prometheus.Counter
	CollectorSamples prometheus.Counter
	CollectorErrors  *prometheus.CounterVec
	MonitoredGauge   prometheus.Gauge
	AlertsTotal      *prometheus.CounterVec
	AlertsDropped    *prometheus.CounterVec

	IndexEntries       prometheus.Gauge
	IndexMirrorErrors  prometheus.Counter
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	CompressedBytesIn  prometheus.Counter
	CompressedBytesOut prometheus.Counter
	CompressionErrors  prometheus.Counter

	LogLines       prometheus.Counter
	LogFlushErrors prometheus.Counter

	WSClients      prometheus.Gauge
	WSMessagesSent prometheus.Counter
	WSSendErrors   prometheus.Counter
	WSRejected     prometheus.Counter
	WSTimeouts     prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg. A nil
// registerer leaves them unregistered, which suits tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CollectorTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "collector", Name: "ticks_total",
			Help: "Completed collection ticks.",
		}),
		CollectorSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "collector", Name: "samples_total",
			Help: "Metric samples computed.",
		}),
		CollectorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "collector", Name: "errors_total",
			Help: "Collector errors by stage.",
		}, []string{"stage"}),
		MonitoredGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "collector", Name: "monitored_containers",
			Help: "Containers currently monitored.",
		}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "alerts", Name: "total",
			Help: "Alerts raised by level.",
		}, []string{"level"}),
		AlertsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "alerts", Name: "dropped_total",
			Help: "Alerts dropped because a subscriber queue was full.",
		}, []string{"subscriber"}),
		IndexEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "index", Name: "entries",
			Help: "Log entries held in the in-memory index.",
		}),
		IndexMirrorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "index", Name: "mirror_errors_total",
			Help: "Failed writes to the durable index mirror.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "search", Name: "cache_hits_total",
			Help: "Search queries answered from cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "search", Name: "cache_misses_total",
			Help: "Search queries answered from the index.",
		}),
		CompressedBytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "compression", Name: "input_bytes_total",
			Help: "Bytes read by the compression worker.",
		}),
		CompressedBytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "compression", Name: "output_bytes_total",
			Help: "Bytes written by the compression worker.",
		}),
		CompressionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "compression", Name: "errors_total",
			Help: "Files that failed to compress.",
		}),
		LogLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "logs", Name: "lines_total",
			Help: "Container log lines collected.",
		}),
		LogFlushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "logs", Name: "flush_errors_total",
			Help: "Failed log buffer flushes.",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "websocket", Name: "clients",
			Help: "Connected websocket clients.",
		}),
		WSMessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "websocket", Name: "messages_sent_total",
			Help: "Messages written to websocket clients.",
		}),
		WSSendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "websocket", Name: "send_errors_total",
			Help: "Failed or dropped websocket sends.",
		}),
		WSRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "websocket", Name: "rejected_total",
			Help: "Connections rejected at capacity.",
		}),
		WSTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "websocket", Name: "timeouts_total",
			Help: "Clients evicted after missing pings.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.CollectorTicks, m.CollectorSamples, m.CollectorErrors, m.MonitoredGauge,
			m.AlertsTotal, m.AlertsDropped,
			m.IndexEntries, m.IndexMirrorErrors, m.CacheHits, m.CacheMisses,
			m.CompressedBytesIn, m.CompressedBytesOut, m.CompressionErrors,
			m.LogLines, m.LogFlushErrors,
			m.WSClients, m.WSMessagesSent, m.WSSendErrors, m.WSRejected, m.WSTimeouts,
		)
	}
	return m
}
