package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dirigent-ai/dirigent/internal/agent"
	"github.com/dirigent-ai/dirigent/internal/agentdata"
	"github.com/dirigent-ai/dirigent/internal/async"
)

// AgentsHandler serves the /v1/agents endpoints: listing, creation,
// lifecycle control, and direct function execution.
type AgentsHandler struct {
	agents *agent.Manager
	tasks  *async.Service
	logger *zap.Logger
}

func NewAgentsHandler(agents *agent.Manager, tasks *async.Service, logger *zap.Logger) *AgentsHandler {
	return &AgentsHandler{agents: agents, tasks: tasks, logger: logger}
}

func (h *AgentsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/agents", h.handleCollection)
	mux.HandleFunc("/v1/agents/", h.handleItem)
}

func (h *AgentsHandler) handleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleList(w)
	case http.MethodPost:
		h.handleCreate(w, r)
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

func (h *AgentsHandler) handleList(w http.ResponseWriter) {
	doc := h.agents.List()
	doc.SetBool("system_running", h.tasks.Running())
	writeJSON(w, http.StatusOK, doc)
}

type createAgentRequest struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities"`
	Functions    []string `json:"functions"`
	SystemPrompt string   `json:"system_prompt"`
	Config       *struct {
		AutoStart          *bool   `json:"auto_start"`
		MaxConcurrentTasks int     `json:"max_concurrent_tasks"`
		HeartbeatInterval  float64 `json:"heartbeat_interval"`
	} `json:"config"`
	LLM *struct {
		Model       string  `json:"model"`
		Temperature float64 `json:"temperature"`
		MaxTokens   int     `json:"max_tokens"`
		TimeoutMs   int     `json:"timeout_ms"`
		Endpoint    string  `json:"endpoint"`
	} `json:"llm"`
}

func (h *AgentsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, errTypeValidation, "%v", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, errTypeValidation, "agent name is required")
		return
	}

	spec := agent.CreateSpec{
		Name:         req.Name,
		Type:         req.Type,
		Role:         req.Role,
		Capabilities: req.Capabilities,
		Functions:    req.Functions,
		SystemPrompt: req.SystemPrompt,
		AutoStart:    true,
	}
	if req.Config != nil {
		if req.Config.AutoStart != nil {
			spec.AutoStart = *req.Config.AutoStart
		}
		spec.MaxConcurrent = req.Config.MaxConcurrentTasks
		if req.Config.HeartbeatInterval > 0 {
			spec.Heartbeat = time.Duration(req.Config.HeartbeatInterval * float64(time.Second))
		}
	}
	if req.LLM != nil {
		spec.LLM = agent.LLMConfig{
			Model:       req.LLM.Model,
			Temperature: req.LLM.Temperature,
			MaxTokens:   req.LLM.MaxTokens,
			Timeout:     time.Duration(req.LLM.TimeoutMs) * time.Millisecond,
			Endpoint:    req.LLM.Endpoint,
		}
	}

	a, err := h.agents.Create(spec)
	if err != nil {
		if errors.Is(err, agent.ErrDuplicateName) {
			writeError(w, http.StatusConflict, errTypeConflict, "%v", err)
			return
		}
		writeError(w, http.StatusBadRequest, errTypeValidation, "%v", err)
		return
	}

	h.logger.Info("Agent created via API",
		zap.String("agent_id", a.ID()),
		zap.String("name", a.Name()),
		zap.Bool("started", a.Running()),
	)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"agent_id": a.ID(),
		"message":  "Agent created",
		"started":  a.Running(),
	})
}

func (h *AgentsHandler) handleItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/agents/"), "/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		h.handleAgent(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "execute":
		h.handleExecute(w, r, parts[0])
	case len(parts) == 2 && (parts[1] == "start" || parts[1] == "stop"):
		h.handleLifecycle(w, r, parts[0], parts[1])
	default:
		writeError(w, http.StatusNotFound, errTypeNotFound, "unknown agent endpoint")
	}
}

func (h *AgentsHandler) handleAgent(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		a, ok := h.agents.Resolve(id)
		if !ok {
			writeError(w, http.StatusNotFound, errTypeNotFound, "agent %s not found", id)
			return
		}
		writeJSON(w, http.StatusOK, a.Info())
	case http.MethodDelete:
		a, ok := h.agents.Resolve(id)
		if !ok {
			writeError(w, http.StatusNotFound, errTypeNotFound, "agent %s not found", id)
			return
		}
		if err := h.agents.Delete(a.ID()); err != nil {
			writeError(w, http.StatusInternalServerError, errTypeInternal, "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"message":  "Agent deleted",
			"agent_id": a.ID(),
		})
	default:
		methodNotAllowed(w, "GET, DELETE")
	}
}

func (h *AgentsHandler) handleLifecycle(w http.ResponseWriter, r *http.Request, id, verb string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, "PUT")
		return
	}
	a, ok := h.agents.Resolve(id)
	if !ok {
		writeError(w, http.StatusNotFound, errTypeNotFound, "agent %s not found", id)
		return
	}

	var err error
	message := "Agent started"
	if verb == "start" {
		err = h.agents.Start(a.ID())
	} else {
		err = h.agents.Stop(a.ID())
		message = "Agent stopped"
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, errTypeInternal, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  message,
		"agent_id": a.ID(),
	})
}

type executeFunctionRequest struct {
	Function   string          `json:"function"`
	Parameters *agentdata.Data `json:"parameters"`
	Model      string          `json:"model"`
}

// handleExecute runs a function synchronously on the agent. Domain
// failures (unknown function, validation, inference errors) come back
// as 200 with success=false; only an unknown agent is a transport 404.
func (h *AgentsHandler) handleExecute(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	var req executeFunctionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, errTypeValidation, "%v", err)
		return
	}
	if req.Function == "" {
		writeError(w, http.StatusBadRequest, errTypeValidation, "function is required")
		return
	}
	a, ok := h.agents.Resolve(id)
	if !ok {
		writeError(w, http.StatusNotFound, errTypeNotFound, "agent %s not found", id)
		return
	}

	params := req.Parameters
	if params == nil {
		params = agentdata.New()
	}
	if req.Model != "" {
		params.SetString("model", req.Model)
	}

	res := a.ExecuteFunction(r.Context(), req.Function, params)

	message := "Function executed successfully"
	if !res.Success {
		message = res.ErrorMessage
	}
	body := map[string]interface{}{
		"success":  res.Success,
		"message":  message,
		"function": req.Function,
		"agent_id": a.ID(),
	}
	if res.Success && res.Result != nil {
		body["result"] = res.Result
	}
	writeJSON(w, http.StatusOK, body)
}
