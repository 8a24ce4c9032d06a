package proxy

import (
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

var normalErrSubstrings = []string{
	"read: connection reset by peer",
	"write: broken pipe",
	"i/o timeout",
	"net/http: TLS handshake timeout",
	"io: read/write on closed pipe",
	"use of closed network connection",
	"context canceled",
}

// logErr only prints unexpected errors at error level; disconnects and
// cancellations are routine for a proxy and go to debug.
func logErr(log *log.Entry, err error) (loged bool) {
	msg := err.Error()

	for _, str := range normalErrSubstrings {
		if strings.Contains(msg, str) {
			log.Debug(err)
			return
		}
	}

	log.Error(err)
	loged = true
	return
}

// transfer copies both directions until either side is done, then closes both.
func transfer(log *log.Entry, server, client net.Conn) {
	var once sync.Once
	closeAll := func() {
		server.Close()
		client.Close()
	}

	done := make(chan struct{})
	go func() {
		_, err := io.Copy(server, client)
		if err != nil {
			logErr(log, err)
		}
		once.Do(closeAll)
		close(done)
	}()

	_, err := io.Copy(client, server)
	if err != nil {
		logErr(log, err)
	}
	once.Do(closeAll)
	<-done
}

// responseCheck records whether the header has been written.
type responseCheck struct {
	http.ResponseWriter
	wrote bool
}

func newResponseCheck(w http.ResponseWriter) *responseCheck {
	return &responseCheck{ResponseWriter: w}
}

func (r *responseCheck) WriteHeader(statusCode int) {
	r.wrote = true
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *responseCheck) Write(b []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(b)
}

// CountReader counts the bytes read through it, for streamed bodies that
// never land in Response.Body.
type CountReader struct {
	r io.Reader
	n atomic.Int64
}

func NewCountReader(r io.Reader) *CountReader {
	return &CountReader{r: r}
}

func (r *CountReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.n.Add(int64(n))
	return n, err
}

func (r *CountReader) Count() int64 {
	return r.n.Load()
}
