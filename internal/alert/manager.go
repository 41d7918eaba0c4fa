package alert

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/dockpulse/internal/models"
	"github.com/dockpulse/internal/telemetry"
)

// Callback receives every dispatched alert.
type Callback func(ctx context.Context, alert models.Alert) error

const defaultQueueSize = 256

type subscriber struct {
	id    uint64
	name  string
	cb    Callback
	queue chan models.Alert
	done  chan struct{}
}

// Manager fans alerts out to its subscribers. Each subscriber has its own
// queue and goroutine so a slow or failing one does not hold up the rest.
type Manager struct {
	logger    *zap.Logger
	metrics   *telemetry.Metrics
	queueSize int

	mutex       sync.RWMutex
	subscribers map[uint64]*subscriber
	nextID      uint64
	closed      bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(logger *zap.Logger, metrics *telemetry.Metrics) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		logger:      logger.Named("alerts"),
		metrics:     metrics,
		queueSize:   defaultQueueSize,
		subscribers: make(map[uint64]*subscriber),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Subscribe registers cb and returns a function that removes it.
func (m *Manager) Subscribe(name string, cb Callback) (unsubscribe func()) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return func() {}
	}

	m.nextID++
	sub := &subscriber{
		id:    m.nextID,
		name:  name,
		cb:    cb,
		queue: make(chan models.Alert, m.queueSize),
		done:  make(chan struct{}),
	}
	m.subscribers[sub.id] = sub

	m.wg.Add(1)
	go m.run(sub)

	var once sync.Once
	return func() {
		once.Do(func() { m.remove(sub.id) })
	}
}

func (m *Manager) remove(id uint64) {
	m.mutex.Lock()
	sub, ok := m.subscribers[id]
	if ok {
		delete(m.subscribers, id)
		close(sub.queue)
	}
	m.mutex.Unlock()

	if ok {
		<-sub.done
	}
}

// Dispatch queues alert for every subscriber without blocking. A full
// queue drops the alert for that subscriber only.
func (m *Manager) Dispatch(alert models.Alert) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, sub := range m.subscribers {
		select {
		case sub.queue <- alert:
		default:
			m.logger.Warn("Subscriber queue full, dropping alert",
				zap.String("subscriber", sub.name),
				zap.String("alert_id", alert.ID))
			if m.metrics != nil {
				m.metrics.AlertsDropped.WithLabelValues(sub.name).Inc()
			}
		}
	}
}

func (m *Manager) run(sub *subscriber) {
	defer m.wg.Done()
	defer close(sub.done)

	for alert := range sub.queue {
		if err := m.deliver(sub, alert); err != nil {
			m.logger.Error("Alert callback failed",
				zap.String("subscriber", sub.name),
				zap.String("alert_id", alert.ID),
				zap.Error(err))
		}
	}
}

func (m *Manager) deliver(sub *subscriber, alert models.Alert) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panicked: %v", r)
		}
	}()
	return sub.cb(m.ctx, alert)
}

// Close delivers what is already queued, then stops every subscriber.
func (m *Manager) Close() {
	m.mutex.Lock()
	if m.closed {
		m.mutex.Unlock()
		return
	}
	m.closed = true
	for id, sub := range m.subscribers {
		delete(m.subscribers, id)
		close(sub.queue)
	}
	m.mutex.Unlock()

	m.wg.Wait()
	m.cancel()
}
