// Command testserver is a stand-in comic library: pages under
// /comic/{id}/page/{n} are served from PAGES_DIR exactly as stored (masked),
// everything else comes from STATIC_DIR.
package main

import (
	"net/http"
	"os"
	"path/filepath"

	_ "github.com/joho/godotenv/autoload"
	log "github.com/sirupsen/logrus"
)

var pagesDir string = getenv("PAGES_DIR", "pages")
var staticDir string = getenv("STATIC_DIR", "static")
var httpAddr string = getenv("TESTSERVER_ADDR", ":8000")
var httpsAddr string = getenv("TESTSERVER_TLS_ADDR", ":8443")
var cert string = os.Getenv("SERVER_CERT_FILE")
var key string = os.Getenv("SERVER_KEY_FILE")

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type Server struct {
	mux *http.ServeMux
}

func NewServer(pagesDir, staticDir string) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /comic/{id}/page/{n}", func(rw http.ResponseWriter, req *http.Request) {
		id, n := req.PathValue("id"), req.PathValue("n")
		if !validSegment(id) || !validSegment(n) {
			http.NotFound(rw, req)
			return
		}
		http.ServeFile(rw, req, filepath.Join(pagesDir, id, n))
	})
	mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	return &Server{mux: mux}
}

func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && filepath.Base(s) == s
}

func (server *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	log.Infof("%v %v", req.Method, req.URL.String())
	server.mux.ServeHTTP(rw, req)
}

func main() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
	handler := NewServer(pagesDir, staticDir)

	if cert != "" && key != "" {
		go func() {
			server := &http.Server{
				Addr:    httpsAddr,
				Handler: handler,
			}
			log.Infof("https server listen at %v\n", httpsAddr)
			log.Fatal(server.ListenAndServeTLS(cert, key))
		}()
	}

	server := &http.Server{
		Addr:    httpAddr,
		Handler: handler,
	}
	log.Infof("http server listen at %v, pages from %v, static from %v\n", httpAddr, pagesDir, staticDir)
	log.Fatal(server.ListenAndServe())
}
