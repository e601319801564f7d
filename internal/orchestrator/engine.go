// Package orchestrator runs workflow definitions against the agent pool.
// A workflow is a DAG of steps; the engine repeatedly collects the steps
// whose dependencies are satisfied, runs them (inline or through the
// async service for parallel-allowed steps), and records per-step
// results on the execution. A collaboration engine layers six
// multi-agent composition patterns on the same step model.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dirigent-ai/dirigent/internal/agent"
	"github.com/dirigent-ai/dirigent/internal/agentdata"
	"github.com/dirigent-ai/dirigent/internal/async"
	"github.com/dirigent-ai/dirigent/internal/config"
	"github.com/dirigent-ai/dirigent/internal/metrics"
	"github.com/dirigent-ai/dirigent/internal/streaming"
	"github.com/dirigent-ai/dirigent/internal/util"
)

var (
	// ErrWorkflowNotFound is returned for unknown workflow ids.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrExecutionNotFound is returned for unknown execution ids.
	ErrExecutionNotFound = errors.New("execution not found")
	// ErrGroupNotFound is returned for unknown collaboration group ids.
	ErrGroupNotFound = errors.New("collaboration group not found")
	// ErrDuplicateWorkflow is returned when a workflow id is already taken.
	ErrDuplicateWorkflow = errors.New("workflow already registered")
)

// stallMessage is the failure reason when a non-empty remaining set has
// no eligible step: either the graph has a cycle or a required
// dependency failed and can never satisfy its dependents.
const stallMessage = "Circular dependency detected or missing dependencies"

// opTypeWorkflowStep is the async operation type for parallel steps.
const opTypeWorkflowStep = "workflow_step"

// Engine owns workflow definitions, their executions, and collaboration
// groups. Executions run on their own goroutine; only parallel-allowed
// steps go through the async worker pool, so a small pool cannot
// deadlock a workflow against itself.
type Engine struct {
	agents    *agent.Manager
	tasks     *async.Service
	stream    *streaming.Manager
	collector *metrics.Collector
	logger    *zap.Logger
	cfg       config.OrchestratorConfig

	mu         sync.RWMutex
	workflows  map[string]*WorkflowDefinition
	executions map[string]*Execution
	execOrder  []string
	groups     map[string]*CollaborationGroup
}

// NewEngine wires the orchestrator against the agent manager and the
// async layer. stream and collector may be nil.
func NewEngine(agents *agent.Manager, tasks *async.Service, stream *streaming.Manager, collector *metrics.Collector, cfg config.OrchestratorConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		agents:     agents,
		tasks:      tasks,
		stream:     stream,
		collector:  collector,
		logger:     logger,
		cfg:        cfg,
		workflows:  make(map[string]*WorkflowDefinition),
		executions: make(map[string]*Execution),
		groups:     make(map[string]*CollaborationGroup),
	}
}

// RegisterWorkflow validates and stores a definition, assigning an id
// when the caller did not provide one.
func (e *Engine) RegisterWorkflow(def *WorkflowDefinition) (string, error) {
	if def == nil {
		return "", fmt.Errorf("workflow definition is nil")
	}
	if err := def.Validate(); err != nil {
		return "", err
	}
	if def.Type == "" {
		def.Type = WorkflowSequential
	}
	if def.WorkflowID == "" {
		def.WorkflowID = uuid.NewString()
	}
	def.CreatedAt = time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.workflows[def.WorkflowID]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateWorkflow, def.WorkflowID)
	}
	e.workflows[def.WorkflowID] = def

	e.logger.Info("Registered workflow",
		zap.String("workflow_id", def.WorkflowID),
		zap.String("name", def.Name),
		zap.String("type", string(def.Type)),
		zap.Int("steps", len(def.Steps)),
	)
	return def.WorkflowID, nil
}

// Workflow returns the definition registered under id.
func (e *Engine) Workflow(id string) (*WorkflowDefinition, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	def, ok := e.workflows[id]
	return def, ok
}

// Workflows returns all registered definitions, oldest first.
func (e *Engine) Workflows() []*WorkflowDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*WorkflowDefinition, 0, len(e.workflows))
	for _, def := range e.workflows {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].WorkflowID < out[j].WorkflowID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// DeleteWorkflow removes a definition. Existing executions keep their
// recorded results.
func (e *Engine) DeleteWorkflow(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.workflows[id]; !ok {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	delete(e.workflows, id)
	e.logger.Info("Deleted workflow", zap.String("workflow_id", id))
	return nil
}

// Execute starts a new execution of the given workflow and returns
// immediately. input is merged over the definition's global context.
func (e *Engine) Execute(workflowID string, input *agentdata.Data) (*Execution, error) {
	def, ok := e.Workflow(workflowID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}

	exec := newExecution(uuid.NewString(), workflowID)

	e.mu.Lock()
	e.executions[exec.ExecutionID] = exec
	e.execOrder = append(e.execOrder, exec.ExecutionID)
	e.evictLocked()
	e.mu.Unlock()

	e.logger.Info("Starting workflow execution",
		zap.String("execution_id", exec.ExecutionID),
		zap.String("workflow_id", workflowID),
		zap.String("workflow", def.Name),
	)

	go e.run(def, exec, input)
	return exec, nil
}

// Execution returns the execution registered under id.
func (e *Engine) Execution(id string) (*Execution, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	exec, ok := e.executions[id]
	return exec, ok
}

// Executions returns summaries of all tracked executions, oldest first.
func (e *Engine) Executions() []*agentdata.Data {
	e.mu.RLock()
	order := make([]string, len(e.execOrder))
	copy(order, e.execOrder)
	execs := make(map[string]*Execution, len(e.executions))
	for id, ex := range e.executions {
		execs[id] = ex
	}
	e.mu.RUnlock()

	out := make([]*agentdata.Data, 0, len(order))
	for _, id := range order {
		if ex, ok := execs[id]; ok {
			out = append(out, ex.Snapshot())
		}
	}
	return out
}

// Pause asks a running execution to stop scheduling new waves. No
// dispatched step is interrupted.
func (e *Engine) Pause(executionID string) error {
	exec, ok := e.Execution(executionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	if !exec.setState(StatePaused) {
		return fmt.Errorf("execution %s is not running", executionID)
	}
	e.publish(exec.ExecutionID, streaming.TypeWorkflowPaused, "", "", "execution paused", nil)
	e.logger.Info("Paused execution", zap.String("execution_id", executionID))
	return nil
}

// Resume lets a paused execution schedule waves again.
func (e *Engine) Resume(executionID string) error {
	exec, ok := e.Execution(executionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	if !exec.setState(StateRunning) {
		return fmt.Errorf("execution %s is not paused", executionID)
	}
	select {
	case exec.resumeCh <- struct{}{}:
	default:
	}
	e.publish(exec.ExecutionID, streaming.TypeWorkflowResumed, "", "", "execution resumed", nil)
	e.logger.Info("Resumed execution", zap.String("execution_id", executionID))
	return nil
}

// Cancel moves an execution to CANCELLED. Steps already dispatched run
// to completion; no further wave is scheduled.
func (e *Engine) Cancel(executionID string) error {
	exec, ok := e.Execution(executionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	if !exec.fail(StateCancelled, "") {
		return fmt.Errorf("execution %s already finished", executionID)
	}
	e.publish(exec.ExecutionID, streaming.TypeWorkflowCancelled, "", "", "execution cancelled", nil)
	e.logger.Info("Cancelled execution", zap.String("execution_id", executionID))
	return nil
}

// SubmitFunction dispatches a single agent function through the async
// layer and returns its future. This backs the fire-and-forget request
// surface; workflow executions do not use it.
func (e *Engine) SubmitFunction(agentID, function string, params *agentdata.Data, priority int) *async.Future {
	return e.tasks.Submit("agent_function", func(ctx context.Context) agentdata.FunctionResult {
		return e.agents.Execute(ctx, agentID, function, params)
	}, priority)
}

// run drives one execution to a terminal state. It owns the wave loop:
// collect eligible steps, dispatch, wait, repeat.
func (e *Engine) run(def *WorkflowDefinition, exec *Execution, input *agentdata.Data) {
	if !exec.setState(StateRunning) {
		return
	}
	started := time.Now()
	metrics.WorkflowsStarted.WithLabelValues(string(def.Type)).Inc()
	e.publish(exec.ExecutionID, streaming.TypeWorkflowStarted, "", "", def.Name, map[string]interface{}{
		"workflow_id": def.WorkflowID,
		"steps":       len(def.Steps),
	})

	merged := def.Context.Clone().Merge(input)

	remaining := make([]WorkflowStep, len(def.Steps))
	copy(remaining, def.Steps)

	var deadline time.Time
	if e.cfg.ExecutionTimeout > 0 {
		deadline = started.Add(e.cfg.ExecutionTimeout)
	}

	for len(remaining) > 0 {
		if !e.gate(exec) {
			return
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			e.finishTimeout(def, exec, started)
			return
		}

		completed := exec.completedSet()
		ready, blocked := partitionEligible(remaining, completed)
		if len(ready) == 0 {
			e.finishFailed(def, exec, started, stallMessage)
			return
		}

		var parallel, serial []WorkflowStep
		for _, s := range ready {
			if s.ParallelAllowed {
				parallel = append(parallel, s)
			} else {
				serial = append(serial, s)
			}
		}

		futures := make([]*async.Future, len(parallel))
		for i, s := range parallel {
			step := s
			futures[i] = e.tasks.Submit(opTypeWorkflowStep, func(ctx context.Context) agentdata.FunctionResult {
				return e.executeStep(ctx, exec, step, merged)
			}, 0)
		}
		for _, s := range serial {
			e.executeStep(context.Background(), exec, s, merged)
		}
		for i, f := range futures {
			res := f.Wait(context.Background())
			step := parallel[i]
			if _, recorded := exec.stepResult(step.StepID); !recorded {
				// The async layer rejected the task before it ran
				// (queue full or shutdown); record its verdict.
				now := time.Now()
				exec.recordStep(StepResult{
					StepID:      step.StepID,
					AgentID:     step.AgentID,
					Function:    step.Function,
					Result:      res,
					StartedAt:   now,
					CompletedAt: now,
				})
			}
		}

		remaining = blocked
	}

	e.finish(def, exec, started)
}

// gate blocks while the execution is paused and reports whether the
// loop may schedule another wave.
func (e *Engine) gate(exec *Execution) bool {
	for {
		switch exec.State() {
		case StateRunning:
			return true
		case StatePaused:
			select {
			case <-exec.resumeCh:
			case <-exec.doneCh:
				return false
			}
		default:
			return false
		}
	}
}

// partitionEligible splits remaining into the steps whose dependencies
// are satisfied and the rest. A dependency is satisfied when its result
// is recorded and succeeded; optional steps accept any recorded result.
func partitionEligible(remaining []WorkflowStep, completed map[string]StepResult) (ready, blocked []WorkflowStep) {
	for _, s := range remaining {
		eligible := true
		for _, dep := range s.Dependencies {
			r, ok := completed[dep]
			if !ok || (!r.Result.Success && !s.Optional) {
				eligible = false
				break
			}
		}
		if eligible {
			ready = append(ready, s)
		} else {
			blocked = append(blocked, s)
		}
	}
	return ready, blocked
}

// executeStep runs one step end to end: agent resolution, context
// assembly, function substitution, retries, timeout, bookkeeping. The
// result is recorded on the execution before returning.
func (e *Engine) executeStep(ctx context.Context, exec *Execution, step WorkflowStep, merged *agentdata.Data) agentdata.FunctionResult {
	started := time.Now()
	e.publish(exec.ExecutionID, streaming.TypeStepStarted, step.AgentID, step.StepID, step.Function, nil)

	res, attempts := e.runStep(ctx, exec, step, merged)
	if !res.Success {
		res.Annotate("error", agentdata.String(res.ErrorMessage))
		res.Annotate("warning", agentdata.String("Function failed but workflow continued"))
		res.Annotate("step_id", agentdata.String(step.StepID))
		res.Annotate("function_name", agentdata.String(step.Function))
	}

	exec.recordStep(StepResult{
		StepID:      step.StepID,
		AgentID:     step.AgentID,
		Function:    step.Function,
		Result:      res,
		Attempts:    attempts,
		StartedAt:   started,
		CompletedAt: time.Now(),
	})

	if res.Success {
		metrics.WorkflowStepsExecuted.WithLabelValues("completed").Inc()
		e.publish(exec.ExecutionID, streaming.TypeStepCompleted, step.AgentID, step.StepID, step.Function, nil)
	} else {
		metrics.WorkflowStepsExecuted.WithLabelValues("failed").Inc()
		e.publish(exec.ExecutionID, streaming.TypeStepFailed, step.AgentID, step.StepID, res.ErrorMessage, nil)
		e.logger.Warn("Workflow step failed",
			zap.String("execution_id", exec.ExecutionID),
			zap.String("step_id", step.StepID),
			zap.String("function", step.Function),
			zap.Int("attempts", attempts),
			zap.String("error", res.ErrorMessage),
		)
	}
	return res
}

// runStep resolves the target, builds the step context, picks the
// function (with substitution for well-known aliases), and invokes it
// with the step's retry and timeout policy.
func (e *Engine) runStep(ctx context.Context, exec *Execution, step WorkflowStep, merged *agentdata.Data) (agentdata.FunctionResult, int) {
	target, ok := e.agents.Resolve(step.AgentID)
	if !ok {
		msg := fmt.Sprintf("Agent %s not found", step.AgentID)
		if !step.Optional {
			exec.noteError(msg)
		}
		return agentdata.Failf("%s", msg), 1
	}

	stepCtx := buildStepContext(merged, step, exec.completedSet())

	fnName := step.Function
	if !target.HasFunction(fnName) {
		substituted, ok := substituteFunction(target, step.Function, stepCtx)
		if !ok {
			return agentdata.Failf("Function '%s' not available. Available: %s",
				step.Function, strings.Join(target.FunctionNames(), ", ")), 1
		}
		fnName = substituted
	}

	attempts := 0
	var res agentdata.FunctionResult
	for attempts <= step.RetryCount {
		attempts++
		res = e.invokeWithTimeout(ctx, target, fnName, stepCtx, step.TimeoutMs)
		if res.Success {
			break
		}
	}
	return res, attempts
}

// invokeWithTimeout enforces the step's wall-clock budget. The function
// is allowed to finish in the background; its late result is discarded.
func (e *Engine) invokeWithTimeout(ctx context.Context, target *agent.Agent, fn string, params *agentdata.Data, timeoutMs int) agentdata.FunctionResult {
	if timeoutMs <= 0 {
		return e.safeInvoke(ctx, target, fn, params)
	}
	resCh := make(chan agentdata.FunctionResult, 1)
	go func() {
		resCh <- e.safeInvoke(ctx, target, fn, params)
	}()
	timer := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
	defer timer.Stop()
	select {
	case r := <-resCh:
		return r
	case <-timer.C:
		return agentdata.Failf("timeout")
	}
}

// safeInvoke shields the wave loop from panics escaping the dispatch
// path itself.
func (e *Engine) safeInvoke(ctx context.Context, target *agent.Agent, fn string, params *agentdata.Data) (res agentdata.FunctionResult) {
	defer func() {
		if r := recover(); r != nil {
			res = agentdata.Failf("Step execution exception: %v", r)
		}
	}()
	return target.ExecuteFunction(ctx, fn, params)
}

// substituteFunction maps well-known function names the agent lacks
// onto ones it has, mutating params to carry the intent.
func substituteFunction(target *agent.Agent, requested string, params *agentdata.Data) (string, bool) {
	switch requested {
	case "web_search":
		if target.HasFunction("text_processing") {
			params.SetString("operation", "web_search_simulation")
			return "text_processing", true
		}
	case "code_generation":
		if target.HasFunction("text_processing") {
			params.SetString("operation", "code_generation")
			return "text_processing", true
		}
	}
	if target.HasFunction("inference") {
		params.SetString("prompt", synthesizePrompt(requested, params))
		return "inference", true
	}
	return "", false
}

// synthesizePrompt renders a step's intent as a model prompt when the
// agent has no matching function but can run inference.
func synthesizePrompt(function string, params *agentdata.Data) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Perform the task %q with the following inputs:", function)
	for _, k := range params.Keys() {
		v, _ := params.Get(k)
		fmt.Fprintf(&b, "\n- %s: %s", k, renderValue(v))
	}
	return b.String()
}

// finish settles a fully-drained execution: success is the conjunction
// over non-optional steps.
func (e *Engine) finish(def *WorkflowDefinition, exec *Execution, started time.Time) {
	completed := exec.completedSet()
	var failed []string
	for _, s := range def.Steps {
		r, ok := completed[s.StepID]
		if !ok || (!r.Result.Success && !s.Optional) {
			failed = append(failed, s.StepID)
		}
	}
	if len(failed) == 0 {
		if !exec.setState(StateCompleted) {
			return
		}
		e.record(def, exec, started, StateCompleted)
		e.publish(exec.ExecutionID, streaming.TypeWorkflowCompleted, "", "", def.Name, map[string]interface{}{
			"steps": len(def.Steps),
		})
		e.logger.Info("Workflow execution completed",
			zap.String("execution_id", exec.ExecutionID),
			zap.String("workflow", def.Name),
			zap.Duration("duration", time.Since(started)),
		)
		return
	}

	msg := exec.Error()
	if msg == "" {
		msg = fmt.Sprintf("%d required step(s) failed: %s", len(failed), strings.Join(failed, ", "))
	}
	e.finishFailed(def, exec, started, msg)
}

func (e *Engine) finishFailed(def *WorkflowDefinition, exec *Execution, started time.Time, msg string) {
	if !exec.fail(StateFailed, msg) {
		return
	}
	e.record(def, exec, started, StateFailed)
	e.publish(exec.ExecutionID, streaming.TypeWorkflowFailed, "", "", msg, nil)
	e.logger.Warn("Workflow execution failed",
		zap.String("execution_id", exec.ExecutionID),
		zap.String("workflow", def.Name),
		zap.String("error", msg),
		zap.Duration("duration", time.Since(started)),
	)
}

func (e *Engine) finishTimeout(def *WorkflowDefinition, exec *Execution, started time.Time) {
	msg := fmt.Sprintf("execution exceeded %s", e.cfg.ExecutionTimeout)
	if !exec.fail(StateTimeout, msg) {
		return
	}
	e.record(def, exec, started, StateTimeout)
	e.publish(exec.ExecutionID, streaming.TypeWorkflowTimeout, "", "", msg, nil)
	e.logger.Warn("Workflow execution timed out",
		zap.String("execution_id", exec.ExecutionID),
		zap.String("workflow", def.Name),
		zap.Duration("limit", e.cfg.ExecutionTimeout),
	)
}

func (e *Engine) record(def *WorkflowDefinition, exec *Execution, started time.Time, state ExecutionState) {
	elapsed := time.Since(started)
	metrics.RecordWorkflowMetrics(string(def.Type), strings.ToLower(string(state)), elapsed.Seconds())
	if e.collector != nil {
		e.collector.RecordWorkflow(def.Name, elapsed, state == StateCompleted)
	}
}

// maxStreamMessageLen caps event messages sent to stream subscribers.
// Recorded step results keep the full text.
const maxStreamMessageLen = 512

// publish emits a streaming event on the execution's topic. Wildcard
// subscribers see every topic.
func (e *Engine) publish(topic, typ, agentID, stepID, message string, data map[string]interface{}) {
	if e.stream == nil {
		return
	}
	e.stream.Publish(streaming.Event{
		Topic:     topic,
		Type:      typ,
		AgentID:   agentID,
		StepID:    stepID,
		Message:   util.TruncateString(message, maxStreamMessageLen, false),
		Data:      data,
		Timestamp: time.Now(),
	})
}

// evictLocked drops the oldest terminal executions past the configured
// cap. Live executions are never evicted. Caller holds e.mu.
func (e *Engine) evictLocked() {
	max := e.cfg.MaxExecutions
	if max <= 0 {
		return
	}
	for len(e.execOrder) > max {
		evicted := false
		for i, id := range e.execOrder {
			exec, ok := e.executions[id]
			if !ok {
				e.execOrder = append(e.execOrder[:i], e.execOrder[i+1:]...)
				evicted = true
				break
			}
			if exec.State().Terminal() {
				delete(e.executions, id)
				e.execOrder = append(e.execOrder[:i], e.execOrder[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			return
		}
	}
}
