// Package stream pushes live metrics, alerts and status to WebSocket
// clients according to their subscriptions.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dockpulse/internal/feed"
	"github.com/dockpulse/internal/json"
	"github.com/dockpulse/internal/models"
	"github.com/dockpulse/internal/telemetry"
)

var (
	ErrTooManyClients  = errors.New("too many connections")
	ErrDuplicateClient = errors.New("client id already connected")
)

const (
	metricsBacklogWindow = 5 * time.Minute
	metricsBacklogLimit  = 50
	alertsBacklogWindow  = time.Hour
	alertsBacklogLimit   = 20
)

// Source is what the service broadcasts from.
type Source interface {
	SampleFeed() *feed.Feed[models.MetricSample]
	AlertFeed() *feed.Feed[models.Alert]
	RecentMetrics(ctx context.Context, containerID string, window time.Duration, limit int) ([]models.MetricSample, error)
	RecentAlerts(ctx context.Context, containerID string, window time.Duration, limit int) ([]models.Alert, error)
	Status() models.CollectorStatus
}

type HostReader interface {
	Snapshot(ctx context.Context) (models.HostStatus, error)
}

type Config struct {
	MaxClients        int
	PingInterval      time.Duration
	TimeoutMultiplier int
	BroadcastInterval time.Duration
	StatusInterval    time.Duration
	SendBuffer        int
}

func (c *Config) setDefaults() {
	if c.MaxClients <= 0 {
		c.MaxClients = 100
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.TimeoutMultiplier <= 0 {
		c.TimeoutMultiplier = 2
	}
	if c.BroadcastInterval <= 0 {
		c.BroadcastInterval = time.Second
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
}

// ClientTimeout is how long a client may stay silent before it is dropped.
func (c Config) ClientTimeout() time.Duration {
	return c.PingInterval * time.Duration(c.TimeoutMultiplier)
}

type Stats struct {
	Running           bool          `json:"is_running"`
	TotalConnections  uint64        `json:"total_connections"`
	ActiveConnections int           `json:"active_connections"`
	MessagesSent      uint64        `json:"messages_sent"`
	Errors            uint64        `json:"errors"`
	Rejected          uint64        `json:"rejected"`
	Timeouts          uint64        `json:"timeouts"`
	MaxClients        int           `json:"max_clients"`
	PingInterval      time.Duration `json:"ping_interval"`
	ClientTimeout     time.Duration `json:"client_timeout"`
}

type serviceStats struct {
	total    atomic.Uint64
	sent     atomic.Uint64
	errors   atomic.Uint64
	rejected atomic.Uint64
	timeouts atomic.Uint64
}

type Service struct {
	source  Source
	host    HostReader
	config  Config
	logger  *zap.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	mu      sync.RWMutex
	clients map[string]*client

	// feedMu guards the feed cursors and orders broadcasts against the
	// backlog sent on subscribe.
	feedMu    sync.Mutex
	sampleSeq uint64
	alertSeq  uint64

	lifecycle sync.Mutex
	running   atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stats     serviceStats
}

// NewService builds the broadcaster. host may be nil.
func NewService(source Source, host HostReader, config Config, logger *zap.Logger, metrics *telemetry.Metrics) *Service {
	config.setDefaults()
	if metrics == nil {
		metrics = telemetry.NewMetrics(nil)
	}
	return &Service{
		source:  source,
		host:    host,
		config:  config,
		logger:  logger.Named("stream"),
		metrics: metrics,
		now:     time.Now,
		clients: make(map[string]*client),
	}
}

func (s *Service) Start(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.running.Load() {
		return
	}

	s.feedMu.Lock()
	s.sampleSeq = s.source.SampleFeed().Head()
	s.alertSeq = s.source.AlertFeed().Head()
	s.feedMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running.Store(true)

	s.wg.Add(3)
	go s.loop(ctx, "broadcast", s.config.BroadcastInterval, s.broadcastOnce)
	go s.loop(ctx, "status", s.config.StatusInterval, s.broadcastStatus)
	go s.loop(ctx, "liveness", s.config.PingInterval, func(context.Context) { s.sweep() })

	s.logger.Info("WebSocket service started",
		zap.Int("max_clients", s.config.MaxClients),
		zap.Duration("client_timeout", s.config.ClientTimeout()))
}

// Stop cancels the loops and disconnects every client.
func (s *Service) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if !s.running.Load() {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.running.Store(false)

	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()
	for _, c := range clients {
		s.disconnect(c, websocket.CloseGoingAway, "server shutting down")
	}
	s.logger.Info("WebSocket service stopped")
}

func (s *Service) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						s.stats.errors.Add(1)
						s.logger.Error("Recovered from panic", zap.String("loop", name), zap.Any("panic", r))
					}
				}()
				fn(ctx)
			}()
		}
	}
}

// HandleConnection serves one client until its connection fails or the
// service stops. An empty clientID gets a generated one.
func (s *Service) HandleConnection(ctx context.Context, conn Conn, clientID string) error {
	if clientID == "" {
		clientID = uuid.NewString()
	}

	c, err := s.register(conn, clientID)
	if err != nil {
		return err
	}
	defer s.disconnect(c, websocket.CloseNormalClosure, "")

	if p, ok := conn.(PongNotifier); ok {
		p.OnPong(func() { c.touch(s.now()) })
	}
	go c.writeLoop(func(err error) {
		s.logger.Debug("Write failed", zap.String("client_id", c.id), zap.Error(err))
		s.sendFailed(c)
	})

	s.send(c, MessageStatusUpdate, map[string]any{
		"status":            "connected",
		"client_id":         c.id,
		"available_streams": StreamTypes,
	})

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug("Client disconnected", zap.String("client_id", c.id), zap.Error(err))
			return nil
		}
		c.touch(s.now())
		s.handleMessage(ctx, c, data)
	}
}

func (s *Service) register(conn Conn, clientID string) (*client, error) {
	s.mu.Lock()
	if len(s.clients) >= s.config.MaxClients {
		s.mu.Unlock()
		s.stats.rejected.Add(1)
		s.metrics.WSRejected.Inc()
		_ = conn.Close(websocket.ClosePolicyViolation, ErrTooManyClients.Error())
		s.logger.Warn("Rejected connection at capacity", zap.String("client_id", clientID))
		return nil, ErrTooManyClients
	}
	if _, exists := s.clients[clientID]; exists {
		s.mu.Unlock()
		s.stats.rejected.Add(1)
		s.metrics.WSRejected.Inc()
		_ = conn.Close(websocket.ClosePolicyViolation, ErrDuplicateClient.Error())
		return nil, fmt.Errorf("%w: %s", ErrDuplicateClient, clientID)
	}

	c := newClient(clientID, conn, s.config.SendBuffer, s.now())
	s.clients[clientID] = c
	n := len(s.clients)
	s.mu.Unlock()

	s.stats.total.Add(1)
	s.metrics.WSClients.Set(float64(n))
	s.logger.Info("Client connected", zap.String("client_id", clientID), zap.Int("active", n))
	return c, nil
}

// disconnect is safe to call more than once for the same client.
func (s *Service) disconnect(c *client, code int, reason string) {
	s.mu.Lock()
	removed := false
	if s.clients[c.id] == c {
		delete(s.clients, c.id)
		removed = true
	}
	n := len(s.clients)
	s.mu.Unlock()

	c.close(code, reason)
	if removed {
		s.metrics.WSClients.Set(float64(n))
		s.logger.Info("Client disconnected", zap.String("client_id", c.id), zap.String("reason", reason))
	}
}

func (s *Service) sendFailed(c *client) {
	s.stats.errors.Add(1)
	s.metrics.WSSendErrors.Inc()
	s.disconnect(c, websocket.CloseInternalServerErr, "send failed")
}

// send queues a message for c. A full queue disconnects the client.
func (s *Service) send(c *client, msgType MessageType, data any) bool {
	b, err := json.Marshal(Message{Type: msgType, Data: data, Timestamp: s.now().UTC()})
	if err != nil {
		s.stats.errors.Add(1)
		s.logger.Error("Failed to encode message", zap.String("type", string(msgType)), zap.Error(err))
		return false
	}
	if !c.enqueue(b) {
		if !c.closed() {
			s.sendFailed(c)
		}
		return false
	}
	s.stats.sent.Add(1)
	s.metrics.WSMessagesSent.Inc()
	return true
}

func (s *Service) sendError(c *client, msg string) {
	s.send(c, MessageError, map[string]string{"error": msg})
}

func (s *Service) handleMessage(ctx context.Context, c *client, data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError(c, "invalid JSON message")
		return
	}

	switch req.Action {
	case ActionSubscribe:
		if !req.StreamType.Valid() {
			s.sendError(c, fmt.Sprintf("invalid stream type: %s", req.StreamType))
			return
		}
		s.subscribe(ctx, c, req)
	case ActionUnsubscribe:
		if !req.StreamType.Valid() {
			s.sendError(c, fmt.Sprintf("invalid stream type: %s", req.StreamType))
			return
		}
		c.unsubscribe(req.StreamType)
		s.send(c, MessageSubscriptionAck, map[string]any{
			"action":      ActionUnsubscribe,
			"stream_type": req.StreamType,
		})
	case ActionPing:
		s.send(c, MessagePong, map[string]any{"timestamp": s.now().UTC()})
	case ActionPong:
	default:
		s.sendError(c, fmt.Sprintf("unknown action: %s", req.Action))
	}
}

// subscribe runs under feedMu so no broadcast cycle interleaves with the
// backlog.
func (s *Service) subscribe(ctx context.Context, c *client, req Request) {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()

	merged := c.subscribe(req.StreamType, req.Filters)
	s.send(c, MessageSubscriptionAck, map[string]any{
		"action":      ActionSubscribe,
		"stream_type": req.StreamType,
		"filters":     merged,
	})
	s.sendBacklog(ctx, c, req.StreamType)
}

type sampleKey struct {
	containerID string
	ts          int64
}

func keyOf(sample models.MetricSample) sampleKey {
	return sampleKey{containerID: sample.ContainerID, ts: sample.Timestamp.UnixNano()}
}

// sendBacklog replays persisted history. Items still in a feed past the
// cursor are skipped; the next broadcast cycle delivers them. Callers hold
// feedMu.
func (s *Service) sendBacklog(ctx context.Context, c *client, st StreamType) {
	switch st {
	case StreamMetrics:
		samples, err := s.source.RecentMetrics(ctx, "", metricsBacklogWindow, metricsBacklogLimit)
		if err != nil {
			s.logger.Warn("Failed to load metrics backlog", zap.Error(err))
			return
		}
		pendingSamples, _ := s.source.SampleFeed().Since(s.sampleSeq)
		pending := make(map[sampleKey]struct{}, len(pendingSamples))
		for _, p := range pendingSamples {
			pending[keyOf(p)] = struct{}{}
		}
		for _, sample := range samples {
			if _, queued := pending[keyOf(sample)]; queued {
				continue
			}
			if c.wants(st, targetOf(sample)) && !s.send(c, MessageMetricsUpdate, sample) {
				return
			}
		}
	case StreamAlerts:
		alerts, err := s.source.RecentAlerts(ctx, "", alertsBacklogWindow, alertsBacklogLimit)
		if err != nil {
			s.logger.Warn("Failed to load alerts backlog", zap.Error(err))
			return
		}
		pendingAlerts, _ := s.source.AlertFeed().Since(s.alertSeq)
		pending := make(map[string]struct{}, len(pendingAlerts))
		for _, p := range pendingAlerts {
			pending[p.ID] = struct{}{}
		}
		for _, a := range alerts {
			if _, queued := pending[a.ID]; queued {
				continue
			}
			if c.wants(st, targetOf(a)) && !s.send(c, MessageAlert, a) {
				return
			}
		}
	case StreamSystemStatus:
		s.send(c, MessageStatusUpdate, s.statusSnapshot(ctx))
	}
}

func (s *Service) snapshotClients() []*client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out
}

// deliver sends data to every client subscribed to st whose filters match.
func (s *Service) deliver(clients []*client, st StreamType, msgType MessageType, data any) int {
	t := targetOf(data)
	delivered := 0
	for _, c := range clients {
		if c.wants(st, t) && s.send(c, msgType, data) {
			delivered++
		}
	}
	return delivered
}

// broadcastOnce pushes every sample and alert appended since the last call.
func (s *Service) broadcastOnce(context.Context) {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()

	samples, sampleSeq := s.source.SampleFeed().Since(s.sampleSeq)
	alerts, alertSeq := s.source.AlertFeed().Since(s.alertSeq)
	s.sampleSeq, s.alertSeq = sampleSeq, alertSeq
	if len(samples) == 0 && len(alerts) == 0 {
		return
	}

	clients := s.snapshotClients()
	if len(clients) == 0 {
		return
	}
	for _, sample := range samples {
		s.deliver(clients, StreamMetrics, MessageMetricsUpdate, sample)
	}
	for _, a := range alerts {
		s.deliver(clients, StreamAlerts, MessageAlert, a)
	}
}

func (s *Service) broadcastStatus(ctx context.Context) {
	var subscribers []*client
	for _, c := range s.snapshotClients() {
		if c.subscribed(StreamSystemStatus) {
			subscribers = append(subscribers, c)
		}
	}
	if len(subscribers) == 0 {
		return
	}
	status := s.statusSnapshot(ctx)
	for _, c := range subscribers {
		s.send(c, MessageStatusUpdate, status)
	}
}

func (s *Service) statusSnapshot(ctx context.Context) map[string]any {
	collector := s.source.Status()
	status := map[string]any{
		"monitoring_active":    collector.Running,
		"monitored_containers": collector.MonitoredContainers,
		"collector_stats":      collector,
		"websocket_stats":      s.Stats(),
	}
	if s.host != nil {
		host, err := s.host.Snapshot(ctx)
		if err != nil {
			s.logger.Debug("Host snapshot failed", zap.Error(err))
		} else {
			status["host"] = host
		}
	}
	return status
}

// sweep drops clients silent for longer than the timeout and pings the
// rest.
func (s *Service) sweep() {
	now := s.now()
	timeout := s.config.ClientTimeout()
	for _, c := range s.snapshotClients() {
		if c.idleSince(now) > timeout {
			s.stats.timeouts.Add(1)
			s.metrics.WSTimeouts.Inc()
			s.logger.Info("Client timed out", zap.String("client_id", c.id))
			s.disconnect(c, websocket.CloseGoingAway, "ping timeout")
			continue
		}
		s.send(c, MessagePing, map[string]any{"timestamp": now.UTC()})
	}
}

// Broadcast pushes a custom payload to subscribers of st. Metric samples
// and alerts are filtered like feed items. It returns the number of clients
// reached.
func (s *Service) Broadcast(st StreamType, msgType MessageType, data any) (int, error) {
	if !st.Valid() {
		return 0, fmt.Errorf("invalid stream type: %s", st)
	}
	if msgType == "" {
		msgType = messageTypeFor(st)
	}
	return s.deliver(s.snapshotClients(), st, msgType, data), nil
}

func (s *Service) Stats() Stats {
	s.mu.RLock()
	active := len(s.clients)
	s.mu.RUnlock()
	return Stats{
		Running:           s.running.Load(),
		TotalConnections:  s.stats.total.Load(),
		ActiveConnections: active,
		MessagesSent:      s.stats.sent.Load(),
		Errors:            s.stats.errors.Load(),
		Rejected:          s.stats.rejected.Load(),
		Timeouts:          s.stats.timeouts.Load(),
		MaxClients:        s.config.MaxClients,
		PingInterval:      s.config.PingInterval,
		ClientTimeout:     s.config.ClientTimeout(),
	}
}
