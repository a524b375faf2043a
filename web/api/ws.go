package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/cc-boss/internal/eventbus"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// snapshotFrame is the first message a new client receives
type snapshotFrame struct {
	Kind     string            `json:"kind"`
	Snapshot eventbus.Snapshot `json:"snapshot"`
}

// wsHandler streams bus events to each connected client as JSON. A new
// client first receives a snapshot frame so it can render without waiting
// for live traffic.
func (s *Server) wsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.bus == nil {
			writeError(w, http.StatusServiceUnavailable, "event stream not available")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws: upgrade failed: %v", err)
			return
		}

		id, events := s.bus.Subscribe()
		go s.writeEvents(conn, events)
		s.readUntilClose(conn, id)
	}
}

// writeEvents pumps bus events to one client until its subscription closes
// or a write fails
func (s *Server) writeEvents(conn *websocket.Conn, events <-chan eventbus.Event) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(snapshotFrame{Kind: "snapshot", Snapshot: s.bus.Snapshot()}); err != nil {
		return
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readUntilClose drains client messages; any read error means the client
// is gone
func (s *Server) readUntilClose(conn *websocket.Conn, id int) {
	defer func() {
		s.bus.Unsubscribe(id)
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
