package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsPingInterval = 20 * time.Second
	wsReadDeadline = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local tooling surface; origin enforcement belongs to a fronting proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS streams topic events over a WebSocket.
// GET /stream/ws?topic=<id>[&types=a,b][&last_event_id=N]
func (h *StreamingHandler) handleWS(w http.ResponseWriter, r *http.Request) {
	topic := requestTopic(r)
	if topic == "" {
		writeError(w, http.StatusBadRequest, errTypeValidation, "topic or workflow_id required")
		return
	}
	typeFilter := requestTypeFilter(r)
	lastID := requestLastEventID(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch := h.mgr.Subscribe(topic, 256)
	defer h.mgr.Unsubscribe(topic, ch)

	if lastID > 0 {
		for _, ev := range h.mgr.ReplaySince(topic, lastID) {
			if len(typeFilter) > 0 {
				if _, ok := typeFilter[ev.Type]; !ok {
					continue
				}
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	})

	// Reader pump: client messages are discarded, but reading drives
	// pong handling and detects closed connections.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if len(typeFilter) > 0 {
				if _, ok := typeFilter[ev.Type]; !ok {
					continue
				}
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
