package web

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/comicshelf/pagemask/proxy"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// WebAddon publishes a summary of every completed flow to the websocket
// monitors connected on /flows.
type WebAddon struct {
	proxy.BaseAddon
	upgrader *websocket.Upgrader
	server   *http.Server

	conns   []*concurrentConn
	connsMu sync.RWMutex
	clients atomic.Int32

	// bytes sent for streamed flows, keyed by flow id
	streamed sync.Map
}

func newWebAddon() *WebAddon {
	web := &WebAddon{
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		conns: make([]*concurrentConn, 0),
	}
	return web
}

// NewWebAddon starts the monitor server on addr.
func NewWebAddon(addr string) *WebAddon {
	web := newWebAddon()
	web.server = &http.Server{Addr: addr, Handler: web.Handler()}

	go func() {
		log := log.WithField("in", "WebAddon")
		log.Infof("web monitor listen at %v\n", addr)
		if err := web.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err)
		}
	}()

	return web
}

func (web *WebAddon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/flows", web.flows)
	return mux
}

// Clients is the number of connected monitors.
func (web *WebAddon) Clients() int {
	return int(web.clients.Load())
}

func (web *WebAddon) Close() error {
	web.connsMu.Lock()
	for _, c := range web.conns {
		c.conn.Close()
	}
	web.connsMu.Unlock()

	if web.server == nil {
		return nil
	}
	return web.server.Shutdown(context.Background())
}

func (web *WebAddon) flows(w http.ResponseWriter, r *http.Request) {
	c, err := web.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithField("in", "WebAddon").Warnf("upgrade: %v", err)
		return
	}

	conn := newConn(c)
	web.addConn(conn)
	defer func() {
		web.removeConn(conn)
		c.Close()
	}()

	conn.readloop()
}

func (web *WebAddon) addConn(c *concurrentConn) {
	web.connsMu.Lock()
	web.conns = append(web.conns, c)
	web.connsMu.Unlock()
	web.clients.Inc()
}

func (web *WebAddon) removeConn(c *concurrentConn) {
	web.connsMu.Lock()
	defer web.connsMu.Unlock()

	if !lo.Contains(web.conns, c) {
		return
	}
	web.conns = lo.Without(web.conns, c)
	web.clients.Dec()
}

func (web *WebAddon) send(msg *message) {
	web.connsMu.RLock()
	conns := web.conns
	web.connsMu.RUnlock()

	for _, c := range conns {
		if err := c.writeMessage(msg); err != nil {
			log.WithField("in", "WebAddon").Debug(err)
		}
	}
}

func (web *WebAddon) Requestheaders(f *proxy.Flow) {
	start := time.Now()
	go func() {
		<-f.Done()
		if web.Clients() == 0 {
			web.streamed.Delete(f.Id)
			return
		}
		web.send(newMessage(f, web.size(f), time.Since(start)))
	}()
}

func (web *WebAddon) size(f *proxy.Flow) int64 {
	if v, ok := web.streamed.LoadAndDelete(f.Id); ok {
		return v.(*proxy.CountReader).Count()
	}
	if f.Response == nil {
		return 0
	}
	return int64(len(f.Response.Body))
}

func (web *WebAddon) StreamResponseModifier(f *proxy.Flow, in io.Reader) io.Reader {
	if !f.Stream || in == nil {
		return in
	}
	r := proxy.NewCountReader(in)
	web.streamed.Store(f.Id, r)
	return r
}
