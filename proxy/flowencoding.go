package proxy

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var errEncodingNotSupport = errors.New("content-encoding not support")

// Encoded reports whether the body carries a content-encoding that must be
// removed before the raw bytes can be inspected.
func (r *Response) Encoded() bool {
	enc := strings.TrimSpace(r.Header.Get("Content-Encoding"))
	return enc != "" && enc != "identity"
}

func (r *Response) DecodedBody() ([]byte, error) {
	if len(r.Body) == 0 || !r.Encoded() {
		return r.Body, nil
	}

	dr, err := NewDecodeReader(r.Header.Get("Content-Encoding"), bytes.NewReader(r.Body))
	if err != nil {
		return nil, err
	}
	defer dr.Close()

	return io.ReadAll(dr)
}

// ReplaceToDecodedBody swaps the body for its decoded form and fixes the
// headers to match.
func (r *Response) ReplaceToDecodedBody() error {
	body, err := r.DecodedBody()
	if err != nil {
		return err
	}

	r.Body = body
	r.DropEncodingHeaders()
	r.Header.Set("Content-Length", strconv.Itoa(len(body)))
	return nil
}

// DropEncodingHeaders removes headers describing the upstream body encoding.
func (r *Response) DropEncodingHeaders() {
	r.Header.Del("Content-Encoding")
	r.Header.Del("Content-Length")
	r.Header.Del("Transfer-Encoding")
}

// NewDecodeReader wraps body with a decoder for enc.
func NewDecodeReader(enc string, body io.Reader) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(enc)) {
	case "", "identity":
		return io.NopCloser(body), nil
	case "gzip", "x-gzip":
		return gzip.NewReader(body)
	case "br":
		return io.NopCloser(brotli.NewReader(body)), nil
	case "deflate":
		return flate.NewReader(body), nil
	case "zstd":
		d, err := zstd.NewReader(body)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	}
	return nil, errEncodingNotSupport
}
