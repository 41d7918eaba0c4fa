package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dockpulse/internal/alert"
	"github.com/dockpulse/internal/index"
	"github.com/dockpulse/internal/logs"
	"github.com/dockpulse/internal/models"
	"github.com/dockpulse/internal/optimize"
	"github.com/dockpulse/internal/report"
	"github.com/dockpulse/internal/stream"
)

const (
	defaultMetricsHours = 1
	defaultAlertsHours  = 24
	defaultReportHours  = 24
	defaultLimit        = 100
	maxLimit            = 10000
)

type Monitor interface {
	RecentMetrics(ctx context.Context, containerID string, window time.Duration, limit int) ([]models.MetricSample, error)
	RecentAlerts(ctx context.Context, containerID string, window time.Duration, limit int) ([]models.Alert, error)
	Thresholds() map[models.MetricType]models.ThresholdConfig
	UpdateThreshold(metric models.MetricType, warning, critical float64, enabled bool) error
	Containers() []models.ContainerInfo
	Status() models.CollectorStatus
}

type LogSearch interface {
	Search(ctx context.Context, q index.Query) optimize.Result
	Lookup(ids []string) []models.LogIndexEntry
	Stats() optimize.Stats
}

type Broadcaster interface {
	HandleConnection(ctx context.Context, conn stream.Conn, clientID string) error
	Stats() stream.Stats
}

type LogCollector interface {
	Stats() logs.Stats
}

// Deps are the services the HTTP surface reads from. Logs may be nil when
// log collection is disabled.
type Deps struct {
	Monitor  Monitor
	Search   LogSearch
	Stream   Broadcaster
	Logs     LogCollector
	Gatherer prometheus.Gatherer
}

type Server struct {
	deps     Deps
	router   *gin.Engine
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewServer(deps Deps, logger *zap.Logger) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		deps:   deps,
		router: gin.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.Named("api"),
	}
	server.router.Use(gin.Recovery(), server.requestLogger())
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/ws", s.serveWebSocket)
	s.router.GET("/healthz", s.health)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	api := s.router.Group("/api/v1")
	api.GET("/metrics", s.recentMetrics)
	api.GET("/alerts", s.recentAlerts)
	api.GET("/logs/search", s.searchLogs)
	api.GET("/status", s.status)
	api.GET("/report", s.report)

	thresholds := api.Group("/thresholds")
	{
		thresholds.GET("", s.listThresholds)
		thresholds.PUT("/:metric", s.updateThreshold)
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

func (s *Server) serveWebSocket(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	conn := stream.NewWebSocketConn(ws)
	if err := s.deps.Stream.HandleConnection(c.Request.Context(), conn, c.Query("client_id")); err != nil {
		s.logger.Info("WebSocket connection refused", zap.Error(err))
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) recentMetrics(c *gin.Context) {
	window, limit, ok := windowAndLimit(c, defaultMetricsHours)
	if !ok {
		return
	}
	samples, err := s.deps.Monitor.RecentMetrics(c.Request.Context(), c.Query("container_id"), window, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if samples == nil {
		samples = []models.MetricSample{}
	}
	c.JSON(http.StatusOK, samples)
}

func (s *Server) recentAlerts(c *gin.Context) {
	window, limit, ok := windowAndLimit(c, defaultAlertsHours)
	if !ok {
		return
	}
	alerts, err := s.deps.Monitor.RecentAlerts(c.Request.Context(), c.Query("container_id"), window, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	c.JSON(http.StatusOK, alerts)
}

func windowAndLimit(c *gin.Context, defaultHours float64) (time.Duration, int, bool) {
	hours := defaultHours
	if v := c.Query("hours"); v != "" {
		h, err := strconv.ParseFloat(v, 64)
		if err != nil || h <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be a positive number"})
			return 0, 0, false
		}
		hours = h
	}
	limit, ok := parseLimit(c)
	if !ok {
		return 0, 0, false
	}
	return time.Duration(hours * float64(time.Hour)), limit, true
}

func parseLimit(c *gin.Context) (int, bool) {
	v := c.Query("limit")
	if v == "" {
		return defaultLimit, true
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit <= 0 || limit > maxLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 10000"})
		return 0, false
	}
	return limit, true
}

func parseTime(c *gin.Context, key string) (time.Time, bool) {
	v := c.Query(key)
	if v == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": key + " must be an RFC3339 timestamp"})
		return time.Time{}, false
	}
	return t, true
}

type searchResponse struct {
	IDs     []string               `json:"ids"`
	Entries []models.LogIndexEntry `json:"entries"`
	Total   int                    `json:"total"`
	Cached  bool                   `json:"cached"`
	TookMS  float64                `json:"took_ms"`
}

func (s *Server) searchLogs(c *gin.Context) {
	start, ok := parseTime(c, "start")
	if !ok {
		return
	}
	end, ok := parseTime(c, "end")
	if !ok {
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	q := index.Query{
		Text:        c.Query("q"),
		ContainerID: c.Query("container_id"),
		Level:       models.LogLevel(c.Query("level")),
		Start:       start,
		End:         end,
		Limit:       limit,
	}
	result := s.deps.Search.Search(c.Request.Context(), q)
	c.JSON(http.StatusOK, searchResponse{
		IDs:     result.IDs,
		Entries: s.deps.Search.Lookup(result.IDs),
		Total:   len(result.IDs),
		Cached:  result.Cached,
		TookMS:  float64(result.Took) / float64(time.Millisecond),
	})
}

func (s *Server) listThresholds(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Monitor.Thresholds())
}

type thresholdRequest struct {
	Warning  *float64 `json:"warning" binding:"required"`
	Critical *float64 `json:"critical" binding:"required"`
	Enabled  *bool    `json:"enabled"`
}

func (s *Server) updateThreshold(c *gin.Context) {
	var req thresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	metric := models.MetricType(c.Param("metric"))
	err := s.deps.Monitor.UpdateThreshold(metric, *req.Warning, *req.Critical, enabled)
	switch {
	case errors.Is(err, alert.ErrUnknownMetric):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, alert.ErrInvalidThreshold):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, s.deps.Monitor.Thresholds()[metric])
}

func (s *Server) status(c *gin.Context) {
	resp := gin.H{
		"collector":  s.deps.Monitor.Status(),
		"containers": s.deps.Monitor.Containers(),
		"websocket":  s.deps.Stream.Stats(),
		"search":     s.deps.Search.Stats(),
	}
	if s.deps.Logs != nil {
		resp["logs"] = s.deps.Logs.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

// report summarizes the window ending now. Samples and alerts are read up to
// maxLimit each.
func (s *Server) report(c *gin.Context) {
	window, _, ok := windowAndLimit(c, defaultReportHours)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	containerID := c.Query("container_id")

	samples, err := s.deps.Monitor.RecentMetrics(ctx, containerID, window, maxLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	alerts, err := s.deps.Monitor.RecentAlerts(ctx, containerID, window, maxLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	end := time.Now().UTC()
	r := report.Build(end.Add(-window), end, samples, alerts)
	if c.Query("format") == "html" {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.Status(http.StatusOK)
		if err := report.WriteHTML(c.Writer, r); err != nil {
			s.logger.Warn("Failed to render report", zap.Error(err))
		}
		return
	}
	c.JSON(http.StatusOK, r)
}
