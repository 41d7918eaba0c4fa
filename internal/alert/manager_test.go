package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dockpulse/internal/models"
	"github.com/dockpulse/internal/telemetry"
)

type recorder struct {
	mu     sync.Mutex
	alerts []models.Alert
}

func (r *recorder) callback(_ context.Context, a models.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func TestManager_FailingSubscriberDoesNotBlockOthers(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t), telemetry.NewMetrics(prometheus.NewRegistry()))
	defer m.Close()

	good := &recorder{}
	m.Subscribe("failing", func(context.Context, models.Alert) error { return errors.New("smtp down") })
	m.Subscribe("panicking", func(context.Context, models.Alert) error { panic("boom") })
	m.Subscribe("good", good.callback)

	m.Dispatch(models.Alert{ID: "a1"})
	m.Dispatch(models.Alert{ID: "a2"})

	require.Eventually(t, func() bool { return good.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestManager_SlowSubscriberDoesNotBlockDispatch(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t), telemetry.NewMetrics(prometheus.NewRegistry()))
	m.queueSize = 1

	release := make(chan struct{})
	m.Subscribe("slow", func(context.Context, models.Alert) error {
		<-release
		return nil
	})
	fast := &recorder{}
	m.Subscribe("fast", fast.callback)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			m.Dispatch(models.Alert{ID: "a"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked on slow subscriber")
	}
	close(release)
	m.Close()
	assert.GreaterOrEqual(t, fast.count(), 1)
}

func TestManager_Unsubscribe(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t), nil)
	defer m.Close()

	r := &recorder{}
	unsubscribe := m.Subscribe("r", r.callback)
	m.Dispatch(models.Alert{ID: "a1"})
	require.Eventually(t, func() bool { return r.count() == 1 }, time.Second, 5*time.Millisecond)

	unsubscribe()
	unsubscribe()
	m.Dispatch(models.Alert{ID: "a2"})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, r.count())
}

func TestManager_CloseDeliversQueued(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t), nil)
	r := &recorder{}
	m.Subscribe("r", r.callback)

	for i := 0; i < 5; i++ {
		m.Dispatch(models.Alert{ID: "a"})
	}
	m.Close()
	assert.Equal(t, 5, r.count())

	m.Dispatch(models.Alert{ID: "late"})
	assert.Equal(t, 5, r.count())
}
