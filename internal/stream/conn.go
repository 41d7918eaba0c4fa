package stream

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// WebSocketConn adapts a gorilla connection to Conn. Writes are serialized.
type WebSocketConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func NewWebSocketConn(ws *websocket.Conn) *WebSocketConn {
	ws.SetReadLimit(maxMessageSize)
	return &WebSocketConn{ws: ws}
}

func (c *WebSocketConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *WebSocketConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *WebSocketConn) Close(code int, reason string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	return c.ws.Close()
}

func (c *WebSocketConn) OnPong(fn func()) {
	c.ws.SetPongHandler(func(string) error {
		fn()
		return nil
	})
}
