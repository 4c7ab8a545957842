package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Conn abstracts a websocket connection for testability.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Close() error
	RemoteAddr() string
}

var _ Conn = (*gorillaConn)(nil)

// gorillaConn adapts a gorilla websocket connection. Gorilla permits
// one concurrent writer, so writes are serialized here.
type gorillaConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

func newGorillaConn(conn *websocket.Conn) *gorillaConn {
	return &gorillaConn{conn: conn}
}

func (c *gorillaConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *gorillaConn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

func (c *gorillaConn) Close() error {
	return c.conn.Close()
}

func (c *gorillaConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
