package proxy

import (
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type Addon interface {
	// A client has connected. Note that a connection can correspond to multiple HTTP requests.
	ClientConnected(*ClientConn)

	// A client connection has been closed (either by us or the client).
	ClientDisconnected(*ClientConn)

	// HTTP request headers were successfully read. At this point, the body is empty.
	// Setting f.Response answers the request without contacting upstream.
	Requestheaders(*Flow)

	// The full HTTP request has been read.
	Request(*Flow)

	// HTTP response headers were successfully read. At this point, the body is empty.
	Responseheaders(*Flow)

	// The full HTTP response has been read. Not called for streamed flows.
	Response(*Flow)

	// Stream request body modifier
	StreamRequestModifier(*Flow, io.Reader) io.Reader

	// Stream response body modifier, called for every flow. Buffered flows
	// pass nil here unless a previous modifier produced a reader.
	StreamResponseModifier(*Flow, io.Reader) io.Reader
}

// BaseAddon do nothing
type BaseAddon struct{}

func (addon *BaseAddon) ClientConnected(*ClientConn)    {}
func (addon *BaseAddon) ClientDisconnected(*ClientConn) {}

func (addon *BaseAddon) Requestheaders(*Flow)  {}
func (addon *BaseAddon) Request(*Flow)         {}
func (addon *BaseAddon) Responseheaders(*Flow) {}
func (addon *BaseAddon) Response(*Flow)        {}
func (addon *BaseAddon) StreamRequestModifier(f *Flow, in io.Reader) io.Reader {
	return in
}
func (addon *BaseAddon) StreamResponseModifier(f *Flow, in io.Reader) io.Reader {
	return in
}

// LogAddon log connection and flow
type LogAddon struct {
	BaseAddon
	streamed sync.Map // flow id -> *CountReader
}

func (addon *LogAddon) ClientConnected(client *ClientConn) {
	log.Debugf("%v client connect\n", client.Conn.RemoteAddr())
}

func (addon *LogAddon) ClientDisconnected(client *ClientConn) {
	log.Debugf("%v client disconnect\n", client.Conn.RemoteAddr())
}

func (addon *LogAddon) Requestheaders(f *Flow) {
	start := time.Now()
	go func() {
		<-f.Done()
		var statusCode int
		if f.Response != nil {
			statusCode = f.Response.StatusCode
		}
		var contentLen int64
		if v, ok := addon.streamed.LoadAndDelete(f.Id); ok {
			contentLen = v.(*CountReader).Count()
		} else if f.Response != nil && f.Response.Body != nil {
			contentLen = int64(len(f.Response.Body))
		}
		log.WithFields(log.Fields{
			"client": f.ConnContext.ClientConn.Conn.RemoteAddr().String(),
			"masked": f.Masked,
			"stream": f.Stream,
		}).Infof("%v %v %v %v - %v ms\n", f.Request.Method, f.Request.URL.String(), statusCode, contentLen, time.Since(start).Milliseconds())
	}()
}

// StreamResponseModifier counts streamed bodies as they pass this addon,
// ahead of any addon added after it.
func (addon *LogAddon) StreamResponseModifier(f *Flow, in io.Reader) io.Reader {
	if !f.Stream || in == nil {
		return in
	}
	r := NewCountReader(in)
	addon.streamed.Store(f.Id, r)
	return r
}
