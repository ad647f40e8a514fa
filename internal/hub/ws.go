package hub

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/quinta-fleet/tirewatch/internal/fleetlog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsSender adapts a *websocket.Conn to Sender, serializing writes
// since gorilla/websocket connections are not safe for concurrent
// writers.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSender) SendText(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte(message))
}

// ServeStream upgrades the request to a WebSocket and registers it
// with the hub under the given streams until the client disconnects.
// cid and pn are read from query parameters, mirroring the original's
// FastAPI websocket query parameters.
func (h *Hub) ServeStream(streams ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			fleetlog.Warnf("hub: websocket upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		cid, _ := strconv.Atoi(r.URL.Query().Get("cid"))
		pn := r.URL.Query().Get("pn")

		sub := h.Connect(&wsSender{conn: conn}, streams, cid, pn)
		defer sub.Close()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}
