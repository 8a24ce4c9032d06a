package web

import (
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// gorilla connections allow one concurrent writer
type concurrentConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newConn(c *websocket.Conn) *concurrentConn {
	return &concurrentConn{conn: c}
}

func (c *concurrentConn) writeMessage(msg *message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, msg.bytes())
}

// readloop drains the connection until the monitor goes away. Monitors have
// nothing to say, but reading keeps ping and close frames flowing.
func (c *concurrentConn) readloop() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithField("in", "WebAddon").Debug(err)
			}
			return
		}
	}
}
