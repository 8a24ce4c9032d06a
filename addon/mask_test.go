package addon

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/comicshelf/pagemask/mask"
	"github.com/comicshelf/pagemask/proxy"
	"github.com/klauspost/compress/gzip"
)

func handleError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

var (
	testPage     = []byte{0x10, 0x20, 0xAA}
	testPageWant = []byte{0xEF, 0xDF, 0x55}
	testCSS      = []byte("body{color:#333}")
	testBigPage  = bytes.Repeat([]byte{0x00, 0x01, 0x7F, 0x80, 0xFE}, 16*1024)
)

func gzipBytes(t *testing.T, b []byte) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	w := gzip.NewWriter(buf)
	_, err := w.Write(b)
	handleError(t, err)
	handleError(t, w.Close())
	return buf.Bytes()
}

// newLibraryServer serves what a comic library would: masked pages under
// /comic/ and plain assets elsewhere.
func newLibraryServer(t *testing.T) *httptest.Server {
	t.Helper()
	gzPage := gzipBytes(t, testPage)
	gzBigPage := gzipBytes(t, testBigPage)

	mux := http.NewServeMux()
	mux.HandleFunc("/comic/42/page/1.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("X-Page-Index", "1")
		w.Write(testPage)
	})
	mux.HandleFunc("/comic/42/page/missing.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
		w.Write([]byte{0x00, 0x01})
	})
	mux.HandleFunc("/comic/42/page/empty.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.WriteHeader(200)
	})
	mux.HandleFunc("/comic/42/page/gz.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(gzPage)
	})
	mux.HandleFunc("/comic/42/page/big.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(testBigPage)
	})
	mux.HandleFunc("/comic/42/page/biggz.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(gzBigPage)
	})
	mux.HandleFunc("/comic/echo/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.URL.Path))
	})
	mux.HandleFunc("/static/app.css", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Write(testCSS)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// startProxy serves a proxy on a random local port and returns its address.
func startProxy(t *testing.T, opts *proxy.Options, addons ...proxy.Addon) string {
	t.Helper()
	p, err := proxy.NewProxy(opts)
	handleError(t, err)
	for _, addon := range addons {
		p.AddAddon(addon)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	handleError(t, err)
	go p.Serve(ln)
	t.Cleanup(func() { p.Close() })
	return ln.Addr().String()
}

func newTestMask(t *testing.T, stripHeaders bool) *Mask {
	t.Helper()
	m, err := NewMask(NewRules([]string{DefaultMarker}, nil), mask.Default, stripHeaders)
	handleError(t, err)
	return m
}

// rawClient leaves Content-Encoding handling to the test
var rawClient = &http.Client{
	Transport: &http.Transport{DisableCompression: true},
}

func get(t *testing.T, client *http.Client, rawurl string) (*http.Response, []byte) {
	t.Helper()
	resp, err := client.Get(rawurl)
	handleError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	handleError(t, err)
	return resp, body
}

func TestNewMask(t *testing.T) {
	if _, err := NewMask(nil, mask.Default, false); err == nil {
		t.Fatal("expected error without rules")
	}
	m, err := NewMask(NewRules([]string{DefaultMarker}, nil), 0, false)
	handleError(t, err)
	if m.XOR != mask.Default {
		t.Fatalf("expected default mask, got %v", m.XOR)
	}
}

func TestMaskResponse(t *testing.T) {
	m := newTestMask(t, false)

	t.Run("matched flow", func(t *testing.T) {
		f := &proxy.Flow{
			Request: newTestRequest(t, "http://comics.local/comic/42/page/1.jpg"),
			Response: &proxy.Response{
				StatusCode: 200,
				Header:     http.Header{"Content-Type": []string{"image/jpeg"}},
				Body:       append([]byte(nil), testPage...),
			},
		}
		m.Response(f)
		if !bytes.Equal(f.Response.Body, testPageWant) {
			t.Fatalf("unexpected body %x", f.Response.Body)
		}
		if !f.Masked || f.Response.StatusCode != 200 {
			t.Fatal("expected masked 200")
		}
		if f.Response.Header.Get("Content-Type") != "image/jpeg" {
			t.Fatal("headers should be kept")
		}
	})

	t.Run("unmatched flow", func(t *testing.T) {
		f := &proxy.Flow{
			Request: newTestRequest(t, "http://comics.local/static/app.css"),
			Response: &proxy.Response{
				StatusCode: 200,
				Body:       append([]byte(nil), testCSS...),
			},
		}
		m.Response(f)
		if !bytes.Equal(f.Response.Body, testCSS) || f.Masked {
			t.Fatal("unmatched flow should be untouched")
		}
	})

	t.Run("strip headers", func(t *testing.T) {
		m := newTestMask(t, true)
		f := &proxy.Flow{
			Request: newTestRequest(t, "http://comics.local/comic/42/page/1.jpg"),
			Response: &proxy.Response{
				StatusCode: 404,
				Header:     http.Header{"X-Page-Index": []string{"1"}},
				Body:       []byte{0xFF},
			},
		}
		m.Response(f)
		if f.Response.StatusCode != 404 || !bytes.Equal(f.Response.Body, []byte{0x00}) {
			t.Fatalf("unexpected %v %x", f.Response.StatusCode, f.Response.Body)
		}
		if len(f.Response.Header) != 1 || f.Response.Header.Get("Content-Length") != "1" {
			t.Fatalf("unexpected headers %v", f.Response.Header)
		}
	})
}

func TestMaskReverse(t *testing.T) {
	srv := newLibraryServer(t)
	addr := startProxy(t, &proxy.Options{Upstream: srv.URL}, newTestMask(t, false))
	endpoint := "http://" + addr

	t.Run("page is restored", func(t *testing.T) {
		resp, body := get(t, rawClient, endpoint+"/comic/42/page/1.jpg")
		if resp.StatusCode != 200 {
			t.Fatalf("expected 200, got %v", resp.StatusCode)
		}
		if !bytes.Equal(body, testPageWant) {
			t.Fatalf("unexpected body %x", body)
		}
		if resp.Header.Get("X-Page-Index") != "1" || resp.Header.Get("Content-Length") != "3" {
			t.Fatalf("unexpected headers %v", resp.Header)
		}
	})

	t.Run("assets pass through byte for byte", func(t *testing.T) {
		direct, directBody := get(t, rawClient, srv.URL+"/static/app.css")
		resp, body := get(t, rawClient, endpoint+"/static/app.css")
		if resp.StatusCode != direct.StatusCode || !bytes.Equal(body, directBody) {
			t.Fatalf("unexpected %v %q", resp.StatusCode, body)
		}
		if resp.Header.Get("Content-Type") != direct.Header.Get("Content-Type") {
			t.Fatal("content type changed")
		}
	})

	t.Run("non-2xx bodies are transformed too", func(t *testing.T) {
		resp, body := get(t, rawClient, endpoint+"/comic/42/page/missing.jpg")
		if resp.StatusCode != 404 || !bytes.Equal(body, []byte{0xFF, 0xFE}) {
			t.Fatalf("unexpected %v %x", resp.StatusCode, body)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		resp, body := get(t, rawClient, endpoint+"/comic/42/page/empty.jpg")
		if resp.StatusCode != 200 || len(body) != 0 {
			t.Fatalf("unexpected %v %x", resp.StatusCode, body)
		}
	})

	t.Run("content encoding is removed before masking", func(t *testing.T) {
		req, err := http.NewRequest("GET", endpoint+"/comic/42/page/gz.jpg", nil)
		handleError(t, err)
		req.Header.Set("Accept-Encoding", "gzip")
		resp, err := rawClient.Do(req)
		handleError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		handleError(t, err)
		if resp.Header.Get("Content-Encoding") != "" {
			t.Fatal("Content-Encoding should be dropped")
		}
		if !bytes.Equal(body, testPageWant) {
			t.Fatalf("unexpected body %x", body)
		}
	})

	t.Run("concurrent loads stay independent", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make(chan error, 32)
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				path := fmt.Sprintf("/comic/echo/%d/page/%d", i, i*7)
				resp, err := rawClient.Get(endpoint + path)
				if err != nil {
					errs <- err
					return
				}
				defer resp.Body.Close()
				body, err := io.ReadAll(resp.Body)
				if err != nil {
					errs <- err
					return
				}
				if want := mask.Default.Bytes([]byte(path)); !bytes.Equal(body, want) {
					errs <- fmt.Errorf("%v: unexpected body %x", path, body)
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Error(err)
		}
	})
}

func TestMaskStripHeaders(t *testing.T) {
	srv := newLibraryServer(t)
	addr := startProxy(t, &proxy.Options{Upstream: srv.URL}, newTestMask(t, true))

	resp, body := get(t, rawClient, "http://"+addr+"/comic/42/page/1.jpg")
	if resp.StatusCode != 200 || !bytes.Equal(body, testPageWant) {
		t.Fatalf("unexpected %v %x", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Page-Index") != "" {
		t.Fatal("upstream headers should be dropped")
	}
	if resp.Header.Get("Content-Length") != "3" {
		t.Fatalf("unexpected Content-Length %q", resp.Header.Get("Content-Length"))
	}

	// unmatched flows keep their headers
	resp, _ = get(t, rawClient, "http://"+addr+"/static/app.css")
	if resp.Header.Get("Content-Type") != "text/css; charset=utf-8" {
		t.Fatalf("unexpected Content-Type %q", resp.Header.Get("Content-Type"))
	}
}

func TestMaskForward(t *testing.T) {
	srv := newLibraryServer(t)
	addr := startProxy(t, &proxy.Options{}, newTestMask(t, false))

	proxyURL, _ := url.Parse("http://" + addr)
	client := &http.Client{
		Transport: &http.Transport{
			Proxy:              http.ProxyURL(proxyURL),
			DisableCompression: true,
		},
	}

	resp, body := get(t, client, srv.URL+"/comic/42/page/1.jpg")
	if resp.StatusCode != 200 || !bytes.Equal(body, testPageWant) {
		t.Fatalf("unexpected %v %x", resp.StatusCode, body)
	}
	_, body = get(t, client, srv.URL+"/static/app.css")
	if !bytes.Equal(body, testCSS) {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestMaskHosts(t *testing.T) {
	srv := newLibraryServer(t)
	m, err := NewMask(NewRules([]string{DefaultMarker}, []string{"comics.example"}), mask.Default, false)
	handleError(t, err)
	addr := startProxy(t, &proxy.Options{Upstream: srv.URL}, m)

	// the upstream host is 127.0.0.1, not in the list
	_, body := get(t, rawClient, "http://"+addr+"/comic/42/page/1.jpg")
	if !bytes.Equal(body, testPage) {
		t.Fatalf("expected untouched body, got %x", body)
	}
}

func TestMaskStream(t *testing.T) {
	srv := newLibraryServer(t)
	addr := startProxy(t, &proxy.Options{Upstream: srv.URL, StreamLargeBodies: 16}, newTestMask(t, false))
	endpoint := "http://" + addr
	want := mask.Default.Bytes(testBigPage)

	t.Run("streamed page matches the buffered result", func(t *testing.T) {
		resp, body := get(t, rawClient, endpoint+"/comic/42/page/big.jpg")
		if resp.StatusCode != 200 || !bytes.Equal(body, want) {
			t.Fatalf("unexpected %v, %v bytes", resp.StatusCode, len(body))
		}
	})

	t.Run("streamed encoded page", func(t *testing.T) {
		req, err := http.NewRequest("GET", endpoint+"/comic/42/page/biggz.jpg", nil)
		handleError(t, err)
		req.Header.Set("Accept-Encoding", "gzip")
		resp, err := rawClient.Do(req)
		handleError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		handleError(t, err)
		if resp.Header.Get("Content-Encoding") != "" {
			t.Fatal("Content-Encoding should be dropped")
		}
		if !bytes.Equal(body, want) {
			t.Fatalf("unexpected %v bytes", len(body))
		}
	})

	t.Run("mislabeled encoding keeps every byte", func(t *testing.T) {
		body := []byte("not gzip at all")
		f := &proxy.Flow{
			Request: newTestRequest(t, "http://comics.local/comic/42/page/1.jpg"),
			Response: &proxy.Response{
				StatusCode: 200,
				Header:     http.Header{"Content-Encoding": []string{"gzip"}},
			},
			Stream: true,
		}
		out, err := io.ReadAll(newTestMask(t, false).StreamResponseModifier(f, bytes.NewReader(body)))
		handleError(t, err)
		if !bytes.Equal(out, mask.Default.Bytes(body)) {
			t.Fatalf("unexpected body %x", out)
		}
		if f.Response.Header.Get("Content-Encoding") != "gzip" || !f.Masked {
			t.Fatal("encoded bytes should be masked as they are")
		}
	})

	t.Run("small bodies stay buffered", func(t *testing.T) {
		_, body := get(t, rawClient, endpoint+"/comic/42/page/1.jpg")
		if !bytes.Equal(body, testPageWant) {
			t.Fatalf("unexpected body %x", body)
		}
	})
}

func TestMaskUpstreamDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	handleError(t, err)
	deadAddr := ln.Addr().String()
	ln.Close()

	addr := startProxy(t, &proxy.Options{Upstream: "http://" + deadAddr}, newTestMask(t, false))
	resp, body := get(t, rawClient, "http://"+addr+"/comic/42/page/1.jpg")
	if resp.StatusCode != 502 || len(body) != 0 {
		t.Fatalf("expected failed load, got %v %q", resp.StatusCode, body)
	}
	if strings.HasPrefix(resp.Status, "200") {
		t.Fatal("failure must not look like success")
	}
}
