package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// pingInterval keeps intermediate proxies and the client's own idle timers
// from closing the connection during a quiet period with no events.
const pingInterval = 30 * time.Second

var upgrader = websocket.Upgrader{
	// The API is served on a LAN-facing local host; any origin may connect,
	// matching the teacher's permissive corsMiddleware for the REST routes.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serveWS implements GET /ws: a persistent full-duplex channel that pushes
// every models.Event published on the bus to the client as JSON. Unlike the
// teacher's SSE endpoint this is a real websocket, but the subscribe/drain
// shape is otherwise the same pattern. Frames from the client are read and
// discarded — the only thing they can do is close the connection.
func (h *Handlers) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("api: websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	id := uuid.New().String()
	ch := h.bus.Subscribe(id)
	defer h.bus.Unsubscribe(id)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
