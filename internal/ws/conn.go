package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn adapts a gorilla connection to registry.Conn. Gorilla permits
// only one concurrent writer, and the registry broadcasts from
// arbitrary goroutines, so writes serialize on a mutex and carry a
// deadline so one stalled peer cannot wedge a broadcast.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newConn(conn *websocket.Conn, writeTimeout time.Duration) *wsConn {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &wsConn{conn: conn, writeTimeout: writeTimeout}
}

// WriteJSON sends one JSON frame under the write lock
func (c *wsConn) WriteJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(v)
}

// Close closes the underlying connection. Safe to call more than once;
// the registry closes replaced producers and pruned consumers while
// the serving goroutine may close on its own exit path.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}
