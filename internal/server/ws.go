package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Local-only endpoint, same trust model as the hook ingress.
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleWS streams sorted session snapshots. One snapshot is sent on
// connect and one after every registry change; a slow client skips
// intermediate states and always receives the latest.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		httpLog.Debug("ws_upgrade_failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	changes := s.subscribe()
	defer s.unsubscribe(changes)

	// Reader goroutine: we ignore client frames but must consume them
	// to notice a closed connection.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.writeSnapshot(conn); err != nil {
		return
	}

	pings := time.NewTicker(wsPingInterval)
	defer pings.Stop()

	for {
		select {
		case <-s.baseCtx.Done():
			deadline := time.Now().Add(wsWriteTimeout)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), deadline)
			return
		case <-done:
			return
		case <-changes:
			if err := s.writeSnapshot(conn); err != nil {
				return
			}
		case <-pings.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeSnapshot(conn *websocket.Conn) error {
	records := s.registry.ListSorted()
	payload, err := json.Marshal(records)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}
