package alert

import (
	"fmt"
	"os"
	"sort"

	"github.com/dockpulse/internal/json"
	"github.com/dockpulse/internal/models"
)

const megabyte = 1024 * 1024

// DefaultThresholds returns the built-in threshold table.
func DefaultThresholds() map[models.MetricType]models.ThresholdConfig {
	return map[models.MetricType]models.ThresholdConfig{
		models.MetricCPUPercent:    {Warning: 70, Critical: 90, Enabled: true},
		models.MetricMemoryPercent: {Warning: 80, Critical: 95, Enabled: true},
		models.MetricNetworkRx:     {Warning: 100 * megabyte, Critical: 500 * megabyte, Enabled: true},
		models.MetricNetworkTx:     {Warning: 100 * megabyte, Critical: 500 * megabyte, Enabled: true},
	}
}

// ThresholdRecord is the file form of one table row.
type ThresholdRecord struct {
	Metric models.MetricType `json:"metric_type"`
	models.ThresholdConfig
}

// ReadThresholdsFile parses and validates a threshold file. Either every
// record is valid or an error is returned.
func ReadThresholdsFile(filename string) ([]ThresholdRecord, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var records []ThresholdRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse thresholds: %w", err)
	}
	for _, r := range records {
		if !r.Metric.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, r.Metric)
		}
		if r.Warning >= r.Critical {
			return nil, fmt.Errorf("%w: %s warning=%v critical=%v", ErrInvalidThreshold, r.Metric, r.Warning, r.Critical)
		}
	}
	return records, nil
}

// WriteThresholdsFile stores a table sorted by metric type.
func WriteThresholdsFile(filename string, thresholds map[models.MetricType]models.ThresholdConfig) error {
	records := make([]ThresholdRecord, 0, len(thresholds))
	for metric, cfg := range thresholds {
		records = append(records, ThresholdRecord{Metric: metric, ThresholdConfig: cfg})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Metric < records[j].Metric })

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal thresholds: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// ImportThresholdsFromFile applies every record of a threshold file. Nothing
// is applied when any record is invalid.
func (e *Engine) ImportThresholdsFromFile(filename string) error {
	records, err := ReadThresholdsFile(filename)
	if err != nil {
		return err
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	for _, r := range records {
		e.thresholds[r.Metric] = r.ThresholdConfig
	}
	return nil
}

func (e *Engine) ExportThresholdsToFile(filename string) error {
	return WriteThresholdsFile(filename, e.Thresholds())
}
