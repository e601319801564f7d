package health

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPHandler serves the probe endpoints. /healthz answers liveness
// with the cached overall status; /readyz re-runs the critical checks
// and returns 503 until they pass.
type HTTPHandler struct {
	manager *Manager
	logger  *zap.Logger
}

func NewHTTPHandler(manager *Manager, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{manager: manager, logger: logger}
}

func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.handleLiveness)
	mux.HandleFunc("/readyz", h.handleReadiness)
}

func (h *HTTPHandler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	overall := h.manager.Cached()
	writeProbe(w, http.StatusOK, map[string]interface{}{
		"status":     overall.StatusStr,
		"components": overall.Components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HTTPHandler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	ready := h.manager.Ready(ctx)
	status := http.StatusOK
	verdict := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		verdict = "not_ready"
		h.logger.Warn("Readiness probe failed")
	}
	writeProbe(w, status, map[string]interface{}{
		"status":    verdict,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeProbe(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
