package proxy

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// wrap tcpListener for remote client
type wrapListener struct {
	net.Listener
	proxy *Proxy
}

func (l *wrapListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	proxy := l.proxy
	wc := newWrapClientConn(c, proxy)
	connCtx := newConnContext(wc)
	wc.connCtx = connCtx

	for _, addon := range proxy.Addons {
		addon.ClientConnected(connCtx.ClientConn)
	}

	return wc, nil
}

// wrap tcpConn for remote client
type wrapClientConn struct {
	net.Conn
	proxy   *Proxy
	connCtx *ConnContext

	closeMu  sync.Mutex
	closed   bool
	closeErr error
}

func newWrapClientConn(c net.Conn, proxy *Proxy) *wrapClientConn {
	return &wrapClientConn{
		Conn:  c,
		proxy: proxy,
	}
}

func (c *wrapClientConn) Close() error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return c.closeErr
	}
	log.Debugln("in wrapClientConn close", c.connCtx.ClientConn.Conn.RemoteAddr())

	c.closed = true
	c.closeErr = c.Conn.Close()
	c.closeMu.Unlock()

	for _, addon := range c.proxy.Addons {
		addon.ClientDisconnected(c.connCtx.ClientConn)
	}

	return c.closeErr
}

type entry struct {
	proxy  *Proxy
	server *http.Server
}

func newEntry(proxy *Proxy) *entry {
	e := &entry{proxy: proxy}

	var handler http.Handler = e
	if proxy.Opts.H2C {
		handler = h2c.NewHandler(e, &http2.Server{})
	}

	e.server = &http.Server{
		Addr:    proxy.Opts.Addr,
		Handler: handler,
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			return context.WithValue(ctx, connContextKey, c.(*wrapClientConn).connCtx)
		},
	}
	return e
}

func (e *entry) start() error {
	addr := e.server.Addr
	if addr == "" {
		addr = ":http"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return e.serve(ln)
}

func (e *entry) serve(ln net.Listener) error {
	log.Infof("Proxy start listen at %v\n", ln.Addr())
	if e.proxy.upstream != nil {
		log.Infof("origin-form requests go to %v\n", e.proxy.upstream)
	}
	pln := &wrapListener{
		Listener: ln,
		proxy:    e.proxy,
	}
	return e.server.Serve(pln)
}

func (e *entry) close() error {
	return e.server.Close()
}

func (e *entry) shutdown(ctx context.Context) error {
	return e.server.Shutdown(ctx)
}

func (e *entry) ServeHTTP(res http.ResponseWriter, req *http.Request) {
	proxy := e.proxy

	if proxy.authProxy != nil && (req.Method == "CONNECT" || req.URL.IsAbs()) {
		if ok, err := proxy.authProxy(res, req); !ok {
			log.WithField("in", "Proxy.entry.ServeHTTP").Debugf("%v %v: %v", req.Method, req.Host, err)
			res.Header().Set("Proxy-Authenticate", `Basic realm="pagemask"`)
			res.WriteHeader(http.StatusProxyAuthRequired)
			return
		}
		req.Header.Del("Proxy-Authorization")
	}

	// proxy via connect tunnel
	if req.Method == "CONNECT" {
		e.handleConnect(res, req)
		return
	}

	if !req.URL.IsAbs() || req.URL.Host == "" {
		if proxy.upstream == nil {
			res.WriteHeader(400)
			io.WriteString(res, "this is a proxy server, configure an upstream to accept origin-form requests\n")
			return
		}
		e.toUpstream(req)
	}

	proxy.pipeline.handle(res, req)
}

// toUpstream re-targets an origin-form request to the configured upstream.
func (e *entry) toUpstream(req *http.Request) {
	up := e.proxy.upstream
	req.URL.Scheme = up.Scheme
	req.URL.Host = up.Host
	req.URL.Path, req.URL.RawPath = joinURLPath(up, req.URL)
	if up.RawQuery != "" {
		if req.URL.RawQuery == "" {
			req.URL.RawQuery = up.RawQuery
		} else {
			req.URL.RawQuery = up.RawQuery + "&" + req.URL.RawQuery
		}
	}
}

// ref: net/http/httputil joinURLPath
func joinURLPath(a, b *url.URL) (path, rawpath string) {
	if a.RawPath == "" && b.RawPath == "" {
		return singleJoiningSlash(a.Path, b.Path), ""
	}
	apath := a.EscapedPath()
	bpath := b.EscapedPath()

	aslash := strings.HasSuffix(apath, "/")
	bslash := strings.HasPrefix(bpath, "/")

	switch {
	case aslash && bslash:
		return a.Path + b.Path[1:], apath + bpath[1:]
	case !aslash && !bslash:
		return a.Path + "/" + b.Path, apath + "/" + bpath
	}
	return a.Path + b.Path, apath + bpath
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

// handleConnect relays the tunnel without looking inside it.
func (e *entry) handleConnect(res http.ResponseWriter, req *http.Request) {
	log := log.WithFields(log.Fields{
		"in":   "Proxy.entry.handleConnect",
		"host": req.Host,
	})

	conn, err := (&net.Dialer{Timeout: 30 * time.Second}).DialContext(req.Context(), "tcp", req.Host)
	if err != nil {
		logErr(log, err)
		res.WriteHeader(502)
		return
	}

	hijacker, ok := res.(http.Hijacker)
	if !ok {
		conn.Close()
		log.Error("connection does not support hijacking")
		res.WriteHeader(502)
		return
	}
	cconn, _, err := hijacker.Hijack()
	if err != nil {
		conn.Close()
		log.Error(err)
		res.WriteHeader(502)
		return
	}

	_, err = io.WriteString(cconn, "HTTP/1.1 200 Connection Established\r\n\r\n")
	if err != nil {
		cconn.Close()
		conn.Close()
		logErr(log, err)
		return
	}

	log.Debug("begin transpond")
	transfer(log, conn, cconn)
}
