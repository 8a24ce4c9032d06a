package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	uuid "github.com/satori/go.uuid"
)

// flow http request
type Request struct {
	Method string
	URL    *url.URL
	Proto  string
	Header http.Header
	Body   []byte

	raw *http.Request
}

func newRequest(req *http.Request) *Request {
	return &Request{
		Method: req.Method,
		URL:    req.URL,
		Proto:  req.Proto,
		Header: req.Header,
		raw:    req,
	}
}

func (r *Request) Raw() *http.Request {
	return r.raw
}

func (r *Request) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{})
	m["method"] = r.Method
	m["url"] = r.URL.String()
	m["proto"] = r.Proto
	m["header"] = r.Header
	return json.Marshal(m)
}

// flow http response
type Response struct {
	StatusCode int         `json:"statusCode"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"-"`
	BodyReader io.Reader   `json:"-"`

	close bool // connection close
}

// flow
type Flow struct {
	Id          uuid.UUID
	ConnContext *ConnContext
	Request     *Request
	Response    *Response

	// Set when the response body reached Options.StreamLargeBodies. The body
	// is then not buffered, Addon.Response is skipped and only
	// StreamResponseModifier sees the bytes.
	Stream bool

	// Set by addons that rewrote the response body. Read by logging and dump
	// addons once the flow is done.
	Masked bool

	done chan struct{}
}

func newFlow() *Flow {
	return &Flow{
		Id:   uuid.NewV4(),
		done: make(chan struct{}),
	}
}

func (f *Flow) Done() <-chan struct{} {
	return f.done
}

func (f *Flow) finish() {
	close(f.done)
}

func (f *Flow) MarshalJSON() ([]byte, error) {
	j := make(map[string]interface{})
	j["id"] = f.Id
	j["request"] = f.Request
	j["response"] = f.Response
	j["masked"] = f.Masked
	return json.Marshal(j)
}
