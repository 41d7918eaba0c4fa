// Package report summarizes a window of samples and alerts: alert counts,
// the busiest containers and hourly resource trends.
package report

import (
	"sort"
	"time"

	"github.com/dockpulse/internal/models"
)

const (
	maxTopMetrics    = 10
	maxTopContainers = 10
	maxTopTargets    = 5
)

type Report struct {
	StartTime     time.Time          `json:"start_time"`
	EndTime       time.Time          `json:"end_time"`
	Samples       int                `json:"samples"`
	AlertSummary  AlertSummary       `json:"alert_summary"`
	TopContainers []ContainerSummary `json:"top_containers"`
	Trends        TrendData          `json:"trends"`
}

type AlertSummary struct {
	TotalAlerts    int             `json:"total_alerts"`
	CriticalAlerts int             `json:"critical_alerts"`
	WarningAlerts  int             `json:"warning_alerts"`
	InfoAlerts     int             `json:"info_alerts"`
	TopMetrics     []MetricSummary `json:"top_metrics"`
}

// MetricSummary counts the alerts raised for one metric type.
type MetricSummary struct {
	Metric     models.MetricType `json:"metric_type"`
	AlertCount int               `json:"alert_count"`
	MaxLevel   models.AlertLevel `json:"max_level"`
	TopTargets []string          `json:"top_targets"`
}

type ContainerSummary struct {
	ContainerID   string  `json:"container_id"`
	ContainerName string  `json:"container_name"`
	Samples       int     `json:"samples"`
	AlertCount    int     `json:"alert_count"`
	CPUAvg        float64 `json:"cpu_avg"`
	CPUMax        float64 `json:"cpu_max"`
	MemAvg        float64 `json:"memory_percent_avg"`
	MemMax        float64 `json:"memory_percent_max"`
}

type TrendData struct {
	CPUTrend    []TimeSeriesPoint `json:"cpu_trend"`
	MemoryTrend []TimeSeriesPoint `json:"memory_trend"`
}

type TimeSeriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Build summarizes the samples and alerts whose timestamps fall in
// [start, end]. Records outside the window are ignored.
func Build(start, end time.Time, samples []models.MetricSample, alerts []models.Alert) *Report {
	inWindow := func(ts time.Time) bool {
		return !ts.Before(start) && !ts.After(end)
	}

	kept := make([]models.MetricSample, 0, len(samples))
	for _, s := range samples {
		if inWindow(s.Timestamp) {
			kept = append(kept, s)
		}
	}
	raised := make([]models.Alert, 0, len(alerts))
	for _, a := range alerts {
		if inWindow(a.Timestamp) {
			raised = append(raised, a)
		}
	}

	return &Report{
		StartTime:     start,
		EndTime:       end,
		Samples:       len(kept),
		AlertSummary:  processAlerts(raised),
		TopContainers: processContainerStats(kept, raised),
		Trends:        calculateTrends(kept),
	}
}

func processAlerts(alerts []models.Alert) AlertSummary {
	summary := AlertSummary{TopMetrics: []MetricSummary{}}
	byMetric := make(map[models.MetricType]*MetricSummary)

	for _, alert := range alerts {
		summary.TotalAlerts++
		switch alert.Level {
		case models.AlertLevelCritical:
			summary.CriticalAlerts++
		case models.AlertLevelWarning:
			summary.WarningAlerts++
		default:
			summary.InfoAlerts++
		}

		ms, ok := byMetric[alert.Metric]
		if !ok {
			ms = &MetricSummary{Metric: alert.Metric, MaxLevel: alert.Level}
			byMetric[alert.Metric] = ms
		}
		ms.AlertCount++
		if alert.Level.Rank() > ms.MaxLevel.Rank() {
			ms.MaxLevel = alert.Level
		}
		if !contains(ms.TopTargets, alert.ContainerName) && len(ms.TopTargets) < maxTopTargets {
			ms.TopTargets = append(ms.TopTargets, alert.ContainerName)
		}
	}

	for _, ms := range byMetric {
		summary.TopMetrics = append(summary.TopMetrics, *ms)
	}
	sort.Slice(summary.TopMetrics, func(i, j int) bool {
		a, b := summary.TopMetrics[i], summary.TopMetrics[j]
		if a.AlertCount != b.AlertCount {
			return a.AlertCount > b.AlertCount
		}
		return a.Metric < b.Metric
	})
	if len(summary.TopMetrics) > maxTopMetrics {
		summary.TopMetrics = summary.TopMetrics[:maxTopMetrics]
	}
	return summary
}

func processContainerStats(samples []models.MetricSample, alerts []models.Alert) []ContainerSummary {
	containers := make(map[string]*ContainerSummary)
	get := func(id, name string) *ContainerSummary {
		cs, ok := containers[id]
		if !ok {
			cs = &ContainerSummary{ContainerID: id, ContainerName: name}
			containers[id] = cs
		}
		return cs
	}

	for _, s := range samples {
		cs := get(s.ContainerID, s.ContainerName)
		cs.Samples++
		cs.CPUAvg += s.CPUPercent
		cs.MemAvg += s.MemoryPercent
		if s.CPUPercent > cs.CPUMax {
			cs.CPUMax = s.CPUPercent
		}
		if s.MemoryPercent > cs.MemMax {
			cs.MemMax = s.MemoryPercent
		}
	}
	for _, a := range alerts {
		get(a.ContainerID, a.ContainerName).AlertCount++
	}

	result := make([]ContainerSummary, 0, len(containers))
	for _, cs := range containers {
		if cs.Samples > 0 {
			cs.CPUAvg /= float64(cs.Samples)
			cs.MemAvg /= float64(cs.Samples)
		}
		result = append(result, *cs)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CPUAvg != result[j].CPUAvg {
			return result[i].CPUAvg > result[j].CPUAvg
		}
		return result[i].ContainerID < result[j].ContainerID
	})
	if len(result) > maxTopContainers {
		result = result[:maxTopContainers]
	}
	return result
}

// calculateTrends averages CPU and memory percentages across all containers
// per hour.
func calculateTrends(samples []models.MetricSample) TrendData {
	trends := TrendData{
		CPUTrend:    make([]TimeSeriesPoint, 0),
		MemoryTrend: make([]TimeSeriesPoint, 0),
	}

	type bucket struct {
		cpu, mem float64
		count    int
	}
	points := make(map[time.Time]*bucket)
	for _, s := range samples {
		hour := s.Timestamp.UTC().Truncate(time.Hour)
		b, ok := points[hour]
		if !ok {
			b = &bucket{}
			points[hour] = b
		}
		b.cpu += s.CPUPercent
		b.mem += s.MemoryPercent
		b.count++
	}

	hours := make([]time.Time, 0, len(points))
	for t := range points {
		hours = append(hours, t)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })

	for _, t := range hours {
		b := points[t]
		n := float64(b.count)
		trends.CPUTrend = append(trends.CPUTrend, TimeSeriesPoint{Timestamp: t, Value: b.cpu / n})
		trends.MemoryTrend = append(trends.MemoryTrend, TimeSeriesPoint{Timestamp: t, Value: b.mem / n})
	}
	return trends
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
