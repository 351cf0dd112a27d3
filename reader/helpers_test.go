package reader

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

// fakeFeed serves a websocket that writes frames then blocks until the
// client goes away, unless closeAfter is set.
type fakeFeed struct {
	frames     []string
	binary     bool
	closeAfter bool
}

func (f fakeFeed) serve(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		if f.binary {
			_ = ws.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02})
		}
		for _, frame := range f.frames {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		if f.closeAfter {
			return
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}
