package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dirigent-ai/dirigent/internal/metrics"
)

// MetricsHandler serves the JSON snapshot on /metrics and the Prometheus
// text exposition on /metrics/prometheus.
type MetricsHandler struct {
	collector *metrics.Collector
	logger    *zap.Logger
}

func NewMetricsHandler(collector *metrics.Collector, logger *zap.Logger) *MetricsHandler {
	return &MetricsHandler{collector: collector, logger: logger}
}

func (h *MetricsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/metrics", h.handleSnapshot)
	mux.Handle("/metrics/prometheus", promhttp.Handler())
}

func (h *MetricsHandler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	writeJSON(w, http.StatusOK, h.collector.Snapshot())
}
