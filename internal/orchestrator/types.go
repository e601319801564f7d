package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dirigent-ai/dirigent/internal/agentdata"
)

// WorkflowType selects the collaboration pattern used to run a group of agents.
type WorkflowType string

const (
	WorkflowSequential  WorkflowType = "SEQUENTIAL"
	WorkflowParallel    WorkflowType = "PARALLEL"
	WorkflowPipeline    WorkflowType = "PIPELINE"
	WorkflowConsensus   WorkflowType = "CONSENSUS"
	WorkflowHierarchy   WorkflowType = "HIERARCHY"
	WorkflowNegotiation WorkflowType = "NEGOTIATION"
)

// ParseWorkflowType maps a case-insensitive pattern name to its WorkflowType.
func ParseWorkflowType(s string) (WorkflowType, error) {
	switch WorkflowType(strings.ToUpper(strings.TrimSpace(s))) {
	case WorkflowSequential:
		return WorkflowSequential, nil
	case WorkflowParallel:
		return WorkflowParallel, nil
	case WorkflowPipeline:
		return WorkflowPipeline, nil
	case WorkflowConsensus:
		return WorkflowConsensus, nil
	case WorkflowHierarchy:
		return WorkflowHierarchy, nil
	case WorkflowNegotiation:
		return WorkflowNegotiation, nil
	default:
		return "", fmt.Errorf("unknown workflow type %q", s)
	}
}

// ExecutionState is the lifecycle state of a workflow execution.
type ExecutionState string

const (
	StatePending   ExecutionState = "PENDING"
	StateRunning   ExecutionState = "RUNNING"
	StatePaused    ExecutionState = "PAUSED"
	StateCompleted ExecutionState = "COMPLETED"
	StateFailed    ExecutionState = "FAILED"
	StateCancelled ExecutionState = "CANCELLED"
	StateTimeout   ExecutionState = "TIMEOUT"
)

// Terminal reports whether the state is absorbing.
func (s ExecutionState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateTimeout:
		return true
	}
	return false
}

// WorkflowStep is one unit of work inside a workflow definition.
type WorkflowStep struct {
	StepID          string          `json:"step_id"`
	AgentID         string          `json:"agent_id"`
	Function        string          `json:"function"`
	Parameters      *agentdata.Data `json:"parameters,omitempty"`
	Dependencies    []string        `json:"dependencies,omitempty"`
	ParallelAllowed bool            `json:"parallel_allowed"`
	RetryCount      int             `json:"retry_count"`
	TimeoutMs       int             `json:"timeout_ms,omitempty"`
	Optional        bool            `json:"optional"`
}

// WorkflowDefinition is a named DAG of steps. Type records the intended
// composition pattern; the engine itself is driven purely by the step
// dependency graph.
type WorkflowDefinition struct {
	WorkflowID  string          `json:"workflow_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Type        WorkflowType    `json:"type"`
	Steps       []WorkflowStep  `json:"steps"`
	Context     *agentdata.Data `json:"global_context,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Validate checks structural integrity of the definition: unique step ids,
// known dependency references, and positive step counts.
func (d *WorkflowDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("workflow name is required")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow must contain at least one step")
	}
	seen := make(map[string]struct{}, len(d.Steps))
	for i := range d.Steps {
		s := &d.Steps[i]
		if s.StepID == "" {
			return fmt.Errorf("step %d is missing a step_id", i)
		}
		if _, dup := seen[s.StepID]; dup {
			return fmt.Errorf("duplicate step_id %q", s.StepID)
		}
		seen[s.StepID] = struct{}{}
		if s.AgentID == "" {
			return fmt.Errorf("step %q is missing an agent_id", s.StepID)
		}
		if s.Function == "" {
			return fmt.Errorf("step %q is missing a function", s.StepID)
		}
		if s.RetryCount < 0 {
			return fmt.Errorf("step %q has negative retry_count", s.StepID)
		}
	}
	for i := range d.Steps {
		s := &d.Steps[i]
		for _, dep := range s.Dependencies {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("step %q depends on unknown step %q", s.StepID, dep)
			}
		}
	}
	return nil
}

// StepResult records the outcome of one step attempt.
type StepResult struct {
	StepID      string                   `json:"step_id"`
	AgentID     string                   `json:"agent_id"`
	Function    string                   `json:"function"`
	Result      agentdata.FunctionResult `json:"result"`
	Attempts    int                      `json:"attempts"`
	StartedAt   time.Time                `json:"started_at"`
	CompletedAt time.Time                `json:"completed_at"`
}

// Execution tracks one run of a workflow definition.
type Execution struct {
	ExecutionID string
	WorkflowID  string

	mu        sync.RWMutex
	state     ExecutionState
	results   map[string]StepResult
	order     []string
	err       string
	startedAt time.Time
	endedAt   time.Time
	createdAt time.Time

	resumeCh chan struct{}
	doneCh   chan struct{}
}

func newExecution(executionID, workflowID string) *Execution {
	return &Execution{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		state:       StatePending,
		results:     make(map[string]StepResult),
		createdAt:   time.Now(),
		resumeCh:    make(chan struct{}, 1),
		doneCh:      make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (e *Execution) State() ExecutionState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Error returns the failure message for FAILED and TIMEOUT executions.
func (e *Execution) Error() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.err
}

// Done is closed when the execution reaches a terminal state.
func (e *Execution) Done() <-chan struct{} { return e.doneCh }

// Wait blocks until the execution reaches a terminal state or ctx is done.
func (e *Execution) Wait(ctx context.Context) ExecutionState {
	select {
	case <-e.doneCh:
	case <-ctx.Done():
	}
	return e.State()
}

func (e *Execution) setState(next ExecutionState) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Terminal() {
		return false
	}
	switch next {
	case StateRunning:
		if e.state != StatePending && e.state != StatePaused {
			return false
		}
		if e.state == StatePending {
			e.startedAt = time.Now()
		}
	case StatePaused:
		if e.state != StateRunning {
			return false
		}
	}
	e.state = next
	if next.Terminal() {
		e.endedAt = time.Now()
		close(e.doneCh)
	}
	return true
}

func (e *Execution) fail(state ExecutionState, msg string) bool {
	e.mu.Lock()
	if e.state.Terminal() {
		e.mu.Unlock()
		return false
	}
	e.state = state
	if msg != "" {
		e.err = msg
	}
	e.endedAt = time.Now()
	close(e.doneCh)
	e.mu.Unlock()
	return true
}

// noteError records a soft failure message without ending the run.
// The first message wins; later ones keep the earliest context.
func (e *Execution) noteError(msg string) {
	e.mu.Lock()
	if e.err == "" {
		e.err = msg
	}
	e.mu.Unlock()
}

func (e *Execution) recordStep(res StepResult) {
	e.mu.Lock()
	if _, seen := e.results[res.StepID]; !seen {
		e.order = append(e.order, res.StepID)
	}
	e.results[res.StepID] = res
	e.mu.Unlock()
}

// StepResults returns recorded step outcomes in completion order.
func (e *Execution) StepResults() []StepResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]StepResult, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.results[id])
	}
	return out
}

func (e *Execution) stepResult(stepID string) (StepResult, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.results[stepID]
	return r, ok
}

func (e *Execution) completedSet() map[string]StepResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]StepResult, len(e.results))
	for k, v := range e.results {
		out[k] = v
	}
	return out
}

// Snapshot renders the execution as a Data document for API responses.
func (e *Execution) Snapshot() *agentdata.Data {
	e.mu.RLock()
	defer e.mu.RUnlock()

	d := agentdata.New()
	d.SetString("execution_id", e.ExecutionID)
	d.SetString("workflow_id", e.WorkflowID)
	d.SetString("state", string(e.state))
	d.SetString("created_at", e.createdAt.Format(time.RFC3339Nano))
	if !e.startedAt.IsZero() {
		d.SetString("started_at", e.startedAt.Format(time.RFC3339Nano))
	}
	if !e.endedAt.IsZero() {
		d.SetString("completed_at", e.endedAt.Format(time.RFC3339Nano))
		d.SetFloat("duration_ms", float64(e.endedAt.Sub(e.startedAt))/float64(time.Millisecond))
	}
	if e.err != "" {
		d.SetString("error", e.err)
	}

	steps := make([]agentdata.Value, 0, len(e.order))
	completed := 0
	for _, id := range e.order {
		r := e.results[id]
		sd := agentdata.New()
		sd.SetString("step_id", r.StepID)
		sd.SetString("agent_id", r.AgentID)
		sd.SetString("function", r.Function)
		sd.SetBool("success", r.Result.Success)
		sd.SetInt("attempts", int64(r.Attempts))
		if r.Result.ErrorMessage != "" {
			sd.SetString("error", r.Result.ErrorMessage)
		}
		if r.Result.Result != nil {
			sd.Set("result", agentdata.Map(r.Result.Result))
		}
		if r.Result.Success {
			completed++
		}
		steps = append(steps, agentdata.Map(sd))
	}
	d.Set("steps", agentdata.List(steps...))
	d.SetInt("steps_total", int64(len(e.order)))
	d.SetInt("steps_succeeded", int64(completed))
	return d
}

// Aggregator folds the per-agent results of a parallel collaboration
// into a single document. When nil, the engine emits the default
// result_0..result_n shape.
type Aggregator func(results []agentdata.FunctionResult) *agentdata.Data

// CollaborationGroup describes a set of agents working under one pattern.
type CollaborationGroup struct {
	GroupID            string          `json:"group_id"`
	Name               string          `json:"name"`
	Pattern            WorkflowType    `json:"pattern"`
	AgentIDs           []string        `json:"agent_ids"`
	SharedContext      *agentdata.Data `json:"shared_context,omitempty"`
	ConsensusThreshold int             `json:"consensus_threshold,omitempty"`
	MaxRounds          int             `json:"max_negotiation_rounds,omitempty"`
	Aggregator         Aggregator      `json:"-"`
	CreatedAt          time.Time       `json:"created_at"`
}
