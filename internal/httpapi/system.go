package httpapi

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dirigent-ai/dirigent/internal/agent"
	"github.com/dirigent-ai/dirigent/internal/async"
	"github.com/dirigent-ai/dirigent/internal/config"
	"github.com/dirigent-ai/dirigent/internal/health"
)

// SystemHandler serves runtime-wide status and configuration reload.
// cfgManager and checks may be nil when the process runs without a
// config file or without the health subsystem.
type SystemHandler struct {
	agents     *agent.Manager
	tasks      *async.Service
	cfgManager *config.Manager
	checks     *health.Manager
	logger     *zap.Logger
	startedAt  time.Time
}

func NewSystemHandler(agents *agent.Manager, tasks *async.Service, cfgManager *config.Manager, checks *health.Manager, logger *zap.Logger) *SystemHandler {
	return &SystemHandler{
		agents:     agents,
		tasks:      tasks,
		cfgManager: cfgManager,
		checks:     checks,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

func (h *SystemHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/system/status", h.handleStatus)
	mux.HandleFunc("/v1/system/reload", h.handleReload)
}

func (h *SystemHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}

	running := h.tasks.Running()
	status := "running"
	if !running {
		status = "stopped"
	}

	body := map[string]interface{}{
		"system_running": running,
		"status":         status,
		"total_agents":   h.agents.Count(),
		"agents_running": h.agents.RunningCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(h.startedAt).Seconds(),
	}
	if h.checks != nil {
		overall := h.checks.Overall(r.Context())
		body["health"] = overall.Status.String()
	}
	writeJSON(w, http.StatusOK, body)
}

type reloadRequest struct {
	ConfigFile string `json:"config_file"`
}

func (h *SystemHandler) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	if h.cfgManager == nil {
		writeError(w, http.StatusBadRequest, errTypeValidation, "no config file loaded; start the server with --config to enable reload")
		return
	}

	var req reloadRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, errTypeValidation, "%v", err)
			return
		}
	}
	if req.ConfigFile != "" && req.ConfigFile != h.cfgManager.Path() {
		writeError(w, http.StatusBadRequest, errTypeValidation,
			"config_file %q does not match the loaded file %q", req.ConfigFile, h.cfgManager.Path())
		return
	}

	if err := h.cfgManager.Reload(); err != nil {
		h.logger.Error("Config reload via API failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, errTypeInternal, "reload failed: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":     "Configuration reloaded",
		"config_file": h.cfgManager.Path(),
	})
}
