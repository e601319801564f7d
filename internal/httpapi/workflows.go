package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/dirigent-ai/dirigent/internal/agentdata"
	"github.com/dirigent-ai/dirigent/internal/async"
	"github.com/dirigent-ai/dirigent/internal/orchestrator"
)

// WorkflowsHandler serves both workflow families: /workflow/* for
// submitting single function calls to the async layer, and /workflows/*
// for registered multi-step definitions and their executions.
type WorkflowsHandler struct {
	engine *orchestrator.Engine
	tasks  *async.Service
	logger *zap.Logger
}

func NewWorkflowsHandler(engine *orchestrator.Engine, tasks *async.Service, logger *zap.Logger) *WorkflowsHandler {
	return &WorkflowsHandler{engine: engine, tasks: tasks, logger: logger}
}

func (h *WorkflowsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/workflow/execute", h.handleSubmitFunction)
	mux.HandleFunc("/workflow/requests", h.handleRequests)
	mux.HandleFunc("/workflow/status", h.handleQueueStatus)
	mux.HandleFunc("/workflows", h.handleCollection)
	mux.HandleFunc("/workflows/", h.handleItem)
}

type submitFunctionRequest struct {
	AgentID    string          `json:"agent_id"`
	Function   string          `json:"function"`
	Parameters *agentdata.Data `json:"parameters"`
	Priority   int             `json:"priority"`
}

// handleSubmitFunction queues one agent function call and returns the
// operation id; progress is tracked via /workflow/requests.
func (h *WorkflowsHandler) handleSubmitFunction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	var req submitFunctionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, errTypeValidation, "%v", err)
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, errTypeValidation, "agent_id is required")
		return
	}
	if req.Function == "" {
		writeError(w, http.StatusBadRequest, errTypeValidation, "function is required")
		return
	}

	future := h.engine.SubmitFunction(req.AgentID, req.Function, req.Parameters, req.Priority)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"request_id": future.OperationID(),
	})
}

func (h *WorkflowsHandler) handleRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	ops := h.tasks.AllOperations()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requests":    ops,
		"total_count": len(ops),
	})
}

func (h *WorkflowsHandler) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"running":     h.tasks.Running(),
		"max_workers": h.tasks.Workers(),
		"statistics": map[string]interface{}{
			"queue":   h.tasks.QueueStatistics(),
			"workers": h.tasks.WorkerStatistics(),
		},
	})
}

func (h *WorkflowsHandler) handleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		defs := h.engine.Workflows()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"workflows":   defs,
			"total_count": len(defs),
		})
	case http.MethodPost:
		h.handleRegister(w, r)
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

func (h *WorkflowsHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var def orchestrator.WorkflowDefinition
	if err := decodeJSON(r, &def); err != nil {
		writeError(w, http.StatusBadRequest, errTypeValidation, "%v", err)
		return
	}

	id, err := h.engine.RegisterWorkflow(&def)
	if err != nil {
		if errors.Is(err, orchestrator.ErrDuplicateWorkflow) {
			writeError(w, http.StatusConflict, errTypeConflict, "%v", err)
			return
		}
		writeError(w, http.StatusBadRequest, errTypeValidation, "%v", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"workflow_id": id,
	})
}

func (h *WorkflowsHandler) handleItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/workflows/"), "/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 1 && parts[0] == "execute":
		h.handleExecuteWorkflow(w, r)
	case len(parts) == 1 && parts[0] == "executions":
		h.handleExecutions(w, r)
	case parts[0] == "executions" && len(parts) == 2:
		h.handleExecution(w, r, parts[1])
	case parts[0] == "executions" && len(parts) == 3:
		h.handleExecutionControl(w, r, parts[1], parts[2])
	case len(parts) == 1 && parts[0] != "":
		h.handleWorkflow(w, r, parts[0])
	default:
		writeError(w, http.StatusNotFound, errTypeNotFound, "unknown workflow endpoint")
	}
}

func (h *WorkflowsHandler) handleWorkflow(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		def, ok := h.engine.Workflow(id)
		if !ok {
			writeError(w, http.StatusNotFound, errTypeNotFound, "workflow %s not found", id)
			return
		}
		writeJSON(w, http.StatusOK, def)
	case http.MethodDelete:
		if err := h.engine.DeleteWorkflow(id); err != nil {
			writeError(w, http.StatusNotFound, errTypeNotFound, "workflow %s not found", id)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"message":     "Workflow deleted",
			"workflow_id": id,
		})
	default:
		methodNotAllowed(w, "GET, DELETE")
	}
}

type executeWorkflowRequest struct {
	WorkflowID string          `json:"workflow_id"`
	InputData  *agentdata.Data `json:"input_data"`
}

func (h *WorkflowsHandler) handleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	var req executeWorkflowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, errTypeValidation, "%v", err)
		return
	}
	if req.WorkflowID == "" {
		writeError(w, http.StatusBadRequest, errTypeValidation, "workflow_id is required")
		return
	}

	exec, err := h.engine.Execute(req.WorkflowID, req.InputData)
	if err != nil {
		if errors.Is(err, orchestrator.ErrWorkflowNotFound) {
			writeError(w, http.StatusNotFound, errTypeNotFound, "%v", err)
			return
		}
		writeError(w, http.StatusInternalServerError, errTypeInternal, "%v", err)
		return
	}

	h.logger.Info("Workflow execution started via API",
		zap.String("workflow_id", req.WorkflowID),
		zap.String("execution_id", exec.ExecutionID),
	)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"execution_id": exec.ExecutionID,
	})
}

func (h *WorkflowsHandler) handleExecutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	execs := h.engine.Executions()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"executions":  execs,
		"total_count": len(execs),
	})
}

func (h *WorkflowsHandler) handleExecution(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	exec, ok := h.engine.Execution(id)
	if !ok {
		writeError(w, http.StatusNotFound, errTypeNotFound, "execution %s not found", id)
		return
	}
	writeJSON(w, http.StatusOK, exec.Snapshot())
}

func (h *WorkflowsHandler) handleExecutionControl(w http.ResponseWriter, r *http.Request, id, verb string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, "PUT")
		return
	}

	var err error
	var message string
	switch verb {
	case "pause":
		err = h.engine.Pause(id)
		message = "Execution paused"
	case "resume":
		err = h.engine.Resume(id)
		message = "Execution resumed"
	case "cancel":
		err = h.engine.Cancel(id)
		message = "Execution cancelled"
	default:
		writeError(w, http.StatusNotFound, errTypeNotFound, "unknown execution action %q", verb)
		return
	}

	if err != nil {
		if errors.Is(err, orchestrator.ErrExecutionNotFound) {
			writeError(w, http.StatusNotFound, errTypeNotFound, "%v", err)
			return
		}
		// Wrong lifecycle state for the requested transition.
		writeError(w, http.StatusConflict, errTypeConflict, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":      message,
		"execution_id": id,
	})
}
