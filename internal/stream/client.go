package stream

import (
	"sync"
	"sync/atomic"
	"time"
)

// Conn is a message-framed bidirectional connection.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close(code int, reason string) error
}

// PongNotifier is implemented by transports that surface protocol-level
// pongs.
type PongNotifier interface {
	OnPong(fn func())
}

type client struct {
	id        string
	conn      Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	lastSeen  atomic.Int64

	mu            sync.Mutex
	subscriptions map[StreamType]Filters
}

func newClient(id string, conn Conn, buffer int, now time.Time) *client {
	c := &client{
		id:            id,
		conn:          conn,
		send:          make(chan []byte, buffer),
		done:          make(chan struct{}),
		subscriptions: make(map[StreamType]Filters),
	}
	c.touch(now)
	return c
}

func (c *client) touch(now time.Time) {
	c.lastSeen.Store(now.UnixNano())
}

func (c *client) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastSeen.Load()))
}

// subscribe merges filters into any existing subscription to s and returns
// the result.
func (c *client) subscribe(s StreamType, f Filters) Filters {
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := c.subscriptions[s].Merge(f)
	c.subscriptions[s] = merged
	return merged
}

func (c *client) unsubscribe(s StreamType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, s)
}

func (c *client) subscribed(s StreamType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscriptions[s]
	return ok
}

func (c *client) wants(s StreamType, t target) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.subscriptions[s]
	return ok && f.matches(s, t)
}

// enqueue never blocks. It reports false when the queue is full or the
// client is closed.
func (c *client) enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// writeLoop drains the queue until the client closes or a write fails.
func (c *client) writeLoop(onError func(error)) {
	for {
		select {
		case <-c.done:
			return
		case b := <-c.send:
			if err := c.conn.WriteMessage(b); err != nil {
				onError(err)
				return
			}
		}
	}
}

func (c *client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *client) close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close(code, reason)
	})
}
