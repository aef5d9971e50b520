package main

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// clientConn is the server side of one client WebSocket. Writes come from the
// read loop and from the session's event consumer, so they are serialized.
type clientConn struct {
	ID   string
	Conn *websocket.Conn
	mu   sync.Mutex
}

func newClientConn(id string, conn *websocket.Conn) *clientConn {
	return &clientConn{ID: id, Conn: conn}
}

// SendJSON writes one JSON text frame.
func (c *clientConn) SendJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteJSON(v)
}

// CloseWith sends a close frame with the given code and reason.
func (c *clientConn) CloseWith(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	return c.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
