package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/dockpulse/internal/json"
	"github.com/dockpulse/internal/logs"
	"github.com/dockpulse/internal/models"
	"github.com/dockpulse/internal/optimize"
	"github.com/dockpulse/internal/report"
	"github.com/dockpulse/internal/stream"
)

const defaultBaseURL = "http://localhost:8080"

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient targets DOCKPULSE_API_URL, or the local default.
func NewClient() *Client {
	baseURL := os.Getenv("DOCKPULSE_API_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return New(baseURL)
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Window selects the recent history of one container, or of all when
// ContainerID is empty. Zero values use the server defaults.
type Window struct {
	ContainerID string
	Hours       float64
	Limit       int
}

func (w Window) query() url.Values {
	q := url.Values{}
	if w.ContainerID != "" {
		q.Set("container_id", w.ContainerID)
	}
	if w.Hours > 0 {
		q.Set("hours", strconv.FormatFloat(w.Hours, 'f', -1, 64))
	}
	if w.Limit > 0 {
		q.Set("limit", strconv.Itoa(w.Limit))
	}
	return q
}

func (c *Client) RecentMetrics(ctx context.Context, w Window) ([]models.MetricSample, error) {
	var samples []models.MetricSample
	if err := c.get(ctx, "/api/v1/metrics", w.query(), &samples); err != nil {
		return nil, err
	}
	return samples, nil
}

func (c *Client) RecentAlerts(ctx context.Context, w Window) ([]models.Alert, error) {
	var alerts []models.Alert
	if err := c.get(ctx, "/api/v1/alerts", w.query(), &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

func (c *Client) Thresholds(ctx context.Context) (map[models.MetricType]models.ThresholdConfig, error) {
	var thresholds map[models.MetricType]models.ThresholdConfig
	if err := c.get(ctx, "/api/v1/thresholds", nil, &thresholds); err != nil {
		return nil, err
	}
	return thresholds, nil
}

func (c *Client) SetThreshold(ctx context.Context, metric models.MetricType, cfg models.ThresholdConfig) (models.ThresholdConfig, error) {
	var updated models.ThresholdConfig
	err := c.do(ctx, http.MethodPut, "/api/v1/thresholds/"+url.PathEscape(string(metric)), nil, cfg, &updated)
	return updated, err
}

type SearchQuery struct {
	Text        string
	ContainerID string
	Level       models.LogLevel
	Start       time.Time
	End         time.Time
	Limit       int
}

type SearchResult struct {
	IDs     []string               `json:"ids"`
	Entries []models.LogIndexEntry `json:"entries"`
	Total   int                    `json:"total"`
	Cached  bool                   `json:"cached"`
	TookMS  float64                `json:"took_ms"`
}

func (c *Client) SearchLogs(ctx context.Context, sq SearchQuery) (*SearchResult, error) {
	q := url.Values{}
	if sq.Text != "" {
		q.Set("q", sq.Text)
	}
	if sq.ContainerID != "" {
		q.Set("container_id", sq.ContainerID)
	}
	if sq.Level != "" {
		q.Set("level", string(sq.Level))
	}
	if !sq.Start.IsZero() {
		q.Set("start", sq.Start.Format(time.RFC3339))
	}
	if !sq.End.IsZero() {
		q.Set("end", sq.End.Format(time.RFC3339))
	}
	if sq.Limit > 0 {
		q.Set("limit", strconv.Itoa(sq.Limit))
	}

	var result SearchResult
	if err := c.get(ctx, "/api/v1/logs/search", q, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Report(ctx context.Context, w Window) (*report.Report, error) {
	q := w.query()
	q.Del("limit")
	var r report.Report
	if err := c.get(ctx, "/api/v1/report", q, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

type Status struct {
	Collector  models.CollectorStatus `json:"collector"`
	Containers []models.ContainerInfo `json:"containers"`
	WebSocket  stream.Stats           `json:"websocket"`
	Search     optimize.Stats         `json:"search"`
	Logs       *logs.Stats            `json:"logs,omitempty"`
}

func (c *Client) Status(ctx context.Context) (*Status, error) {
	var status Status
	if err := c.get(ctx, "/api/v1/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, v interface{}) error {
	return c.do(ctx, http.MethodGet, endpoint, query, nil, v)
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, data, v interface{}) error {
	var body io.Reader
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = path.Join(u.Path, endpoint)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("API error: %s", errResp.Error)
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	if v != nil {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}
