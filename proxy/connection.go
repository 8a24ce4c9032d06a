package proxy

import (
	"encoding/json"
	"net"

	uuid "github.com/satori/go.uuid"
	"go.uber.org/atomic"
)

// client connection
type ClientConn struct {
	Id   uuid.UUID
	Conn net.Conn
}

func newClientConn(c net.Conn) *ClientConn {
	return &ClientConn{
		Id:   uuid.NewV4(),
		Conn: c,
	}
}

func (c *ClientConn) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{})
	m["id"] = c.Id
	m["address"] = c.Conn.RemoteAddr().String()
	return json.Marshal(m)
}

// connection context ctx key
var connContextKey = new(struct{})

// connection context
type ConnContext struct {
	ClientConn *ClientConn `json:"clientConn"`

	// Number of HTTP requests made on the same connection
	FlowCount atomic.Uint32 `json:"-"`
}

func newConnContext(c net.Conn) *ConnContext {
	return &ConnContext{
		ClientConn: newClientConn(c),
	}
}

func (connCtx *ConnContext) Id() uuid.UUID {
	return connCtx.ClientConn.Id
}
