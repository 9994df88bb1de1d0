package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Conn is one live client connection the registry can fan out to.
type Conn interface {
	WriteEvent(Event) error
	Close() error
}

// socketConn wraps a gorilla connection. Fan-out happens from router and
// presence goroutines concurrently, so writes are serialized.
type socketConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func newSocketConn(ws *websocket.Conn) *socketConn {
	return &socketConn{ws: ws}
}

func (c *socketConn) WriteEvent(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(ev)
}

func (c *socketConn) Close() error {
	return c.ws.Close()
}
