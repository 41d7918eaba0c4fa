package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dockpulse/internal/alert"
	"github.com/dockpulse/internal/feed"
	"github.com/dockpulse/internal/index"
	"github.com/dockpulse/internal/json"
	"github.com/dockpulse/internal/models"
	"github.com/dockpulse/internal/optimize"
	"github.com/dockpulse/internal/report"
	"github.com/dockpulse/internal/stream"
	"github.com/dockpulse/internal/telemetry"
)

type fakeMonitor struct {
	mu         sync.Mutex
	engine     *alert.Engine
	samples    []models.MetricSample
	lastWindow time.Duration
	lastLimit  int
	lastID     string
	samplesF   *feed.Feed[models.MetricSample]
	alertsF    *feed.Feed[models.Alert]
}

func newFakeMonitor() *fakeMonitor {
	return &fakeMonitor{
		engine:   alert.NewEngine(nil),
		samplesF: feed.New[models.MetricSample](4),
		alertsF:  feed.New[models.Alert](4),
	}
}

func (f *fakeMonitor) RecentMetrics(_ context.Context, id string, window time.Duration, limit int) ([]models.MetricSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastID, f.lastWindow, f.lastLimit = id, window, limit
	return f.samples, nil
}

func (f *fakeMonitor) RecentAlerts(context.Context, string, time.Duration, int) ([]models.Alert, error) {
	return nil, nil
}

func (f *fakeMonitor) Thresholds() map[models.MetricType]models.ThresholdConfig {
	return f.engine.Thresholds()
}

func (f *fakeMonitor) UpdateThreshold(metric models.MetricType, warning, critical float64, enabled bool) error {
	return f.engine.UpdateThreshold(metric, warning, critical, enabled)
}

func (f *fakeMonitor) Containers() []models.ContainerInfo {
	return []models.ContainerInfo{{ID: "c1", Name: "web-1"}}
}

func (f *fakeMonitor) Status() models.CollectorStatus {
	return models.CollectorStatus{Running: true, MonitoredContainers: 1}
}

func (f *fakeMonitor) SampleFeed() *feed.Feed[models.MetricSample] { return f.samplesF }
func (f *fakeMonitor) AlertFeed() *feed.Feed[models.Alert]         { return f.alertsF }

type testEnv struct {
	server  *Server
	monitor *fakeMonitor
	search  *optimize.Service
	stream  *stream.Service
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	mon := newFakeMonitor()
	search, err := optimize.NewService(index.New(nil, index.Config{}, logger, metrics), optimize.Config{}, logger, metrics)
	require.NoError(t, err)
	ws := stream.NewService(mon, nil, stream.Config{MaxClients: 1}, logger, metrics)

	server := NewServer(Deps{Monitor: mon, Search: search, Stream: ws, Gatherer: reg}, logger)
	return &testEnv{server: server, monitor: mon, search: search, stream: ws}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dockpulse_")
}

func TestRecentMetrics_Params(t *testing.T) {
	env := newEnv(t)
	env.monitor.samples = []models.MetricSample{{ContainerID: "c1", CPUPercent: 12.5}}

	rec := env.do(t, http.MethodGet, "/api/v1/metrics?container_id=c1&hours=0.5&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []models.MetricSample
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, 12.5, got[0].CPUPercent)
	assert.Equal(t, "c1", env.monitor.lastID)
	assert.Equal(t, 30*time.Minute, env.monitor.lastWindow)
	assert.Equal(t, 10, env.monitor.lastLimit)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v1/metrics?limit=-1", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v1/metrics?hours=x", "").Code)
}

func TestRecentAlerts_EmptyIsArray(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/alerts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestUpdateThreshold(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodPut, "/api/v1/thresholds/cpu_percent", `{"warning":50,"critical":75}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg models.ThresholdConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, models.ThresholdConfig{Warning: 50, Critical: 75, Enabled: true}, cfg)

	rec = env.do(t, http.MethodPut, "/api/v1/thresholds/cpu_percent", `{"warning":90,"critical":80}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
	assert.Equal(t, 50.0, env.monitor.Thresholds()[models.MetricCPUPercent].Warning)

	rec = env.do(t, http.MethodPut, "/api/v1/thresholds/disk_inodes", `{"warning":1,"critical":2}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/v1/thresholds/cpu_percent", `{"warning":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchLogs(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	ts := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	id := env.search.IndexEntry(ctx, models.LogEntry{Timestamp: ts, ContainerID: "c1", Level: models.LogLevelError, Message: "Database connection failed"})
	env.search.IndexEntry(ctx, models.LogEntry{Timestamp: ts, ContainerID: "c2", Level: models.LogLevelInfo, Message: "Database ready"})

	rec := env.do(t, http.MethodGet, "/api/v1/logs/search?q=database&container_id=c1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{id}, resp.IDs)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, models.LogLevelError, resp.Entries[0].Level)
	assert.False(t, resp.Cached)

	rec = env.do(t, http.MethodGet, "/api/v1/logs/search?q=database&container_id=c1", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Cached)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v1/logs/search?start=yesterday", "").Code)
}

func TestStatus(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	for _, key := range []string{"collector", "containers", "websocket", "search"} {
		assert.Contains(t, resp, key)
	}
	assert.NotContains(t, resp, "logs")
}

func TestWebSocket_WelcomeAndCapacity(t *testing.T) {
	env := newEnv(t)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()
	defer env.stream.Stop()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?client_id=dash"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type string `json:"type"`
		Data struct {
			ClientID string `json:"client_id"`
		} `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "status_update", msg.Type)
	assert.Equal(t, "dash", msg.Data.ClientID)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "ping"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "pong", msg.Type)

	second, _, err := websocket.DefaultDialer.Dial(strings.Replace(wsURL, "dash", "other", 1), nil)
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = second.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, "too many connections", closeErr.Text)
}

func TestReport(t *testing.T) {
	env := newEnv(t)
	now := time.Now().UTC()
	env.monitor.samples = []models.MetricSample{
		{ContainerID: "c1", ContainerName: "web-1", Timestamp: now.Add(-time.Minute), CPUPercent: 40},
		{ContainerID: "c1", ContainerName: "web-1", Timestamp: now.Add(-2 * time.Minute), CPUPercent: 60},
	}

	rec := env.do(t, http.MethodGet, "/api/v1/report?hours=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var r report.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	assert.Equal(t, 2, r.Samples)
	require.Len(t, r.TopContainers, 1)
	assert.InDelta(t, 50, r.TopContainers[0].CPUAvg, 1e-9)
	assert.Equal(t, 10000, env.monitor.lastLimit)

	rec = env.do(t, http.MethodGet, "/api/v1/report?format=html", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "web-1")
}
