package addon

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/comicshelf/pagemask/internal/logging"
	"github.com/comicshelf/pagemask/proxy"
	log "github.com/sirupsen/logrus"
)

// Dumper writes a textual record of every completed flow.
//
// level 0: request line and headers
// level 1: plus response status and headers
type Dumper struct {
	proxy.BaseAddon
	Out   io.Writer
	level int
}

func NewDumper(out io.Writer, level int) *Dumper {
	if level != 0 && level != 1 {
		level = 0
	}
	return &Dumper{Out: out, level: level}
}

// NewDumperWithFile dumps into a size-rotated file.
func NewDumperWithFile(file string, level int) (*Dumper, error) {
	out, err := logging.NewRotatedWriter(file)
	if err != nil {
		return nil, err
	}
	return NewDumper(out, level), nil
}

func (d *Dumper) Requestheaders(f *proxy.Flow) {
	go func() {
		<-f.Done()
		d.dump(f)
	}()
}

// ref: httputil.DumpRequest
func (d *Dumper) dump(f *proxy.Flow) {
	log := log.WithField("in", "Dumper")

	buf := bytes.NewBuffer(make([]byte, 0))
	fmt.Fprintf(buf, "%s %s %s\r\n", f.Request.Method, f.Request.URL.RequestURI(), f.Request.Proto)
	fmt.Fprintf(buf, "Host: %s\r\n", f.Request.URL.Host)
	if raw := f.Request.Raw(); raw != nil {
		if len(raw.TransferEncoding) > 0 {
			fmt.Fprintf(buf, "Transfer-Encoding: %s\r\n", strings.Join(raw.TransferEncoding, ","))
		}
		if raw.Close {
			fmt.Fprintf(buf, "Connection: close\r\n")
		}
	}

	err := f.Request.Header.WriteSubset(buf, nil)
	if err != nil {
		log.Error(err)
	}
	buf.WriteString("\r\n")

	if d.level == 1 && f.Response != nil {
		fmt.Fprintf(buf, "%v %v %v\r\n", f.Request.Proto, f.Response.StatusCode, http.StatusText(f.Response.StatusCode))
		if f.Masked {
			buf.WriteString("X-Pagemask: masked\r\n")
		}
		err = f.Response.Header.WriteSubset(buf, nil)
		if err != nil {
			log.Error(err)
		}
		buf.WriteString("\r\n")
	}

	buf.WriteString("\r\n")

	_, err = d.Out.Write(buf.Bytes())
	if err != nil {
		log.Error(err)
	}
}
