package web

import (
	"encoding/json"
	"time"

	"github.com/comicshelf/pagemask/proxy"
)

// message is what monitors receive for every completed flow.
type message struct {
	Id         string `json:"id"`
	Method     string `json:"method"`
	URL        string `json:"url"`
	Status     int    `json:"status"`
	Size       int64  `json:"size"`
	Masked     bool   `json:"masked"`
	DurationMs int64  `json:"durationMs"`
}

func newMessage(f *proxy.Flow, size int64, duration time.Duration) *message {
	// no response means the client was answered with a failed load
	status := 502
	if f.Response != nil {
		status = f.Response.StatusCode
	}
	return &message{
		Id:         f.Id.String(),
		Method:     f.Request.Method,
		URL:        f.Request.URL.String(),
		Status:     status,
		Size:       size,
		Masked:     f.Masked,
		DurationMs: duration.Milliseconds(),
	}
}

func (m *message) bytes() []byte {
	b, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return b
}
