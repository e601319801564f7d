package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dirigent-ai/dirigent/internal/streaming"
)

// sseHeartbeat keeps idle SSE connections alive through proxies.
const sseHeartbeat = 15 * time.Second

// StreamingHandler serves the live event feeds. Topics are workflow
// execution ids, collaboration group ids, the async layer's
// "operations" feed, or "*" for everything.
type StreamingHandler struct {
	mgr    *streaming.Manager
	logger *zap.Logger
}

func NewStreamingHandler(mgr *streaming.Manager, logger *zap.Logger) *StreamingHandler {
	return &StreamingHandler{mgr: mgr, logger: logger}
}

func (h *StreamingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/stream/sse", h.handleSSE)
	mux.HandleFunc("/stream/ws", h.handleWS)
}

// requestTopic accepts either ?topic= or the workflow-centric
// ?workflow_id= spelling.
func requestTopic(r *http.Request) string {
	if t := r.URL.Query().Get("topic"); t != "" {
		return t
	}
	return r.URL.Query().Get("workflow_id")
}

// requestTypeFilter parses the optional comma-separated ?types= filter.
func requestTypeFilter(r *http.Request) map[string]struct{} {
	filter := map[string]struct{}{}
	if s := r.URL.Query().Get("types"); s != "" {
		for _, t := range strings.Split(s, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				filter[t] = struct{}{}
			}
		}
	}
	return filter
}

// requestLastEventID reads the SSE Last-Event-ID header or the
// last_event_id query parameter.
func requestLastEventID(r *http.Request) uint64 {
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			return n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// handleSSE streams topic events as Server-Sent Events.
// GET /stream/sse?topic=<id>[&types=a,b][&last_event_id=N]
func (h *StreamingHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	topic := requestTopic(r)
	if topic == "" {
		writeError(w, http.StatusBadRequest, errTypeValidation, "topic or workflow_id required")
		return
	}
	typeFilter := requestTypeFilter(r)
	lastID := requestLastEventID(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errTypeInternal, "streaming not supported")
		return
	}

	ch := h.mgr.Subscribe(topic, 256)
	defer h.mgr.Unsubscribe(topic, ch)

	writeSSE := func(ev streaming.Event) {
		if len(typeFilter) > 0 {
			if _, ok := typeFilter[ev.Type]; !ok {
				return
			}
		}
		if ev.Seq > 0 {
			fmt.Fprintf(w, "id: %d\n", ev.Seq)
		}
		if ev.Type != "" {
			fmt.Fprintf(w, "event: %s\n", ev.Type)
		}
		fmt.Fprintf(w, "data: %s\n\n", ev.Marshal())
	}

	// Initial comment establishes the stream before any event arrives.
	fmt.Fprintf(w, ": connected to topic %s\n\n", topic)
	flusher.Flush()

	if lastID > 0 {
		for _, ev := range h.mgr.ReplaySince(topic, lastID) {
			writeSSE(ev)
		}
		flusher.Flush()
	}

	hb := time.NewTicker(sseHeartbeat)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("topic", topic))
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(ev)
			flusher.Flush()
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
