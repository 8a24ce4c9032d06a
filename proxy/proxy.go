package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

const Version = "1.0.0"

type Options struct {
	// listen address
	Addr string

	// Base URL that origin-form requests are sent to (reverse mode).
	// Absolute-form requests are always proxied to their own host.
	Upstream string

	// Bodies of at least this many bytes are streamed instead of buffered.
	// Zero buffers every body completely.
	StreamLargeBodies int64

	// do not verify upstream TLS certificates
	SslInsecure bool

	// accept cleartext HTTP/2 on the listener
	H2C bool
}

type Proxy struct {
	Opts    *Options
	Version string
	Addons  []Addon

	entry     *entry
	pipeline  *pipeline
	upstream  *url.URL
	authProxy func(res http.ResponseWriter, req *http.Request) (bool, error)
}

func NewProxy(opts *Options) (*Proxy, error) {
	if opts.StreamLargeBodies < 0 {
		return nil, fmt.Errorf("invalid StreamLargeBodies %v", opts.StreamLargeBodies)
	}

	proxy := &Proxy{
		Opts:    opts,
		Version: Version,
		Addons:  make([]Addon, 0),
	}

	if opts.Upstream != "" {
		u, err := url.Parse(opts.Upstream)
		if err != nil {
			return nil, fmt.Errorf("parse upstream %v: %w", opts.Upstream, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("upstream %v should be an absolute http(s) url", opts.Upstream)
		}
		proxy.upstream = u
	}

	proxy.pipeline = newPipeline(proxy, newUpstreamClient(opts))
	proxy.entry = newEntry(proxy)

	return proxy, nil
}

func newUpstreamClient(opts *Options) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,

			ForceAttemptHTTP2:  true,
			DisableCompression: true, // To get the original response from the server, set Transport.DisableCompression to true.
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: opts.SslInsecure,
			},
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// redirects are handed back to the client untouched
			return http.ErrUseLastResponse
		},
	}
}

func (proxy *Proxy) AddAddon(addon Addon) {
	proxy.Addons = append(proxy.Addons, addon)
}

// SetAuthProxy guards forward-mode requests (absolute-form and CONNECT).
// Requests for which fn returns false are answered with 407.
func (proxy *Proxy) SetAuthProxy(fn func(res http.ResponseWriter, req *http.Request) (bool, error)) {
	proxy.authProxy = fn
}

// Start listens on Opts.Addr and serves until the proxy is closed.
func (proxy *Proxy) Start() error {
	return proxy.entry.start()
}

// Serve accepts client connections on ln.
func (proxy *Proxy) Serve(ln net.Listener) error {
	return proxy.entry.serve(ln)
}

func (proxy *Proxy) Close() error {
	return proxy.entry.close()
}

func (proxy *Proxy) Shutdown(ctx context.Context) error {
	return proxy.entry.shutdown(ctx)
}
