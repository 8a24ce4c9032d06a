package addon

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/comicshelf/pagemask/mask"
	"github.com/comicshelf/pagemask/proxy"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// Mask restores masked page bodies on their way to the client.
//
// Matching flows get their whole body transformed with XOR once it has been
// read; the status code is kept. Other flows are left alone. Streamed flows
// (see proxy.Options.StreamLargeBodies) are transformed chunk by chunk with
// the same result.
type Mask struct {
	proxy.BaseAddon
	Rules []*Rule
	XOR   mask.XOR

	// Only send status and length, dropping upstream headers.
	StripHeaders bool
}

func NewMask(rules []*Rule, x mask.XOR, stripHeaders bool) (*Mask, error) {
	if err := validateRules(rules); err != nil {
		return nil, err
	}
	if x == 0 {
		x = mask.Default
	}
	return &Mask{
		Rules:        rules,
		XOR:          x,
		StripHeaders: stripHeaders,
	}, nil
}

// Match reports whether the response of req should be transformed.
func (m *Mask) Match(req *proxy.Request) bool {
	return lo.ContainsBy(m.Rules, func(rule *Rule) bool {
		return rule.match(req)
	})
}

func (m *Mask) Response(f *proxy.Flow) {
	if !m.Match(f.Request) {
		return
	}
	r := f.Response

	// the transform works on the payload as the page would see it
	if r.Encoded() {
		if err := r.ReplaceToDecodedBody(); err != nil {
			log.WithField("in", "Mask").Warnf("%v %v: %v, masking encoded bytes", f.Request.URL, r.Header.Get("Content-Encoding"), err)
		}
	}

	m.XOR.Apply(r.Body)
	if m.StripHeaders {
		r.Header = http.Header{
			"Content-Length": []string{strconv.Itoa(len(r.Body))},
		}
	}
	f.Masked = true
}

func (m *Mask) StreamResponseModifier(f *proxy.Flow, in io.Reader) io.Reader {
	if !f.Stream || in == nil || !m.Match(f.Request) {
		return in
	}
	r := f.Response
	contentLength := r.Header.Get("Content-Length")

	if r.Encoded() {
		enc := r.Header.Get("Content-Encoding")
		// decoders read their header up front, a body that turns out not
		// to be encoded is masked from its first byte
		rec := &recordReader{r: in, recording: true}
		dr, err := proxy.NewDecodeReader(enc, rec)
		if err != nil {
			log.WithField("in", "Mask").Warnf("%v %v: %v, masking encoded bytes", f.Request.URL, enc, err)
			in = io.MultiReader(bytes.NewReader(rec.stop()), in)
		} else {
			rec.stop()
			in = dr
			contentLength = ""
			r.DropEncodingHeaders()
			go func() {
				<-f.Done()
				dr.Close()
			}()
		}
	}

	if m.StripHeaders {
		r.Header = make(http.Header)
		if contentLength != "" {
			r.Header.Set("Content-Length", contentLength)
		}
	}
	f.Masked = true
	return m.XOR.NewReader(in)
}

// recordReader keeps what is read through it until stop is called.
// Decoders may keep reading from their own goroutine, so the underlying
// Read is not held under the lock.
type recordReader struct {
	r io.Reader

	mu        sync.Mutex
	buf       []byte
	recording bool
}

func (rr *recordReader) Read(p []byte) (int, error) {
	n, err := rr.r.Read(p)
	if n > 0 {
		rr.mu.Lock()
		if rr.recording {
			rr.buf = append(rr.buf, p[:n]...)
		}
		rr.mu.Unlock()
	}
	return n, err
}

// stop returns the bytes read so far and ends recording.
func (rr *recordReader) stop() []byte {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	buf := rr.buf
	rr.buf = nil
	rr.recording = false
	return buf
}
