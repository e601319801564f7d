// Package agent implements the runtime actors: named agents owning a
// table of callable functions, and the manager that owns the agents.
// Agents never share state; everything cross-agent goes through function
// parameters and results.
package agent

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/dirigent-ai/dirigent/internal/agentdata"
	"github.com/dirigent-ai/dirigent/internal/inference"
	"github.com/dirigent-ai/dirigent/internal/metrics"
	"github.com/dirigent-ai/dirigent/internal/planning"
	"github.com/dirigent-ai/dirigent/internal/tools"
)

// LLMConfig holds the per-agent model settings used by the inference
// function.
type LLMConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Endpoint    string
}

// Statistics is a point-in-time copy of an agent's counters.
type Statistics struct {
	FunctionsExecuted  int64
	ToolsExecuted      int64
	PlansCreated       int64
	AverageExecutionMs float64
	LastActivity       time.Time
}

// Handler is the body of an agent function.
type Handler func(ctx context.Context, params *agentdata.Data) agentdata.FunctionResult

// Function is one entry in an agent's function table.
type Function struct {
	Name        string
	Description string
	Parameters  []agentdata.ParamSpec
	Timeout     time.Duration
	Handler     Handler
}

// Agent is a stateful actor. All exported methods are safe for
// concurrent use; function bodies run outside the agent mutex.
type Agent struct {
	id  string
	typ string

	logger    *zap.Logger
	inference *inference.Client
	tools     *tools.Registry
	planner   *planning.Planner
	reasoner  *planning.Reasoner
	sem       *semaphore.Weighted

	mu            sync.Mutex
	name          string
	running       bool
	capabilities  []string
	systemPrompt  string
	llm           LLMConfig
	functions     map[string]Function
	maxConcurrent int64
	heartbeat     time.Duration
	stats         Statistics
	sumExecMs     float64
}

func newAgent(id string, spec CreateSpec, deps managerDeps) *Agent {
	maxJobs := int64(spec.MaxConcurrent)
	if maxJobs <= 0 {
		maxJobs = int64(deps.defaults.MaxConcurrentJobs)
	}
	if maxJobs <= 0 {
		maxJobs = 5
	}
	heartbeat := spec.Heartbeat
	if heartbeat <= 0 {
		heartbeat = deps.defaults.HeartbeatInterval
	}

	prompt := spec.SystemPrompt
	if prompt == "" && spec.Role != "" {
		prompt = "You are acting as the " + spec.Role + "."
	}

	a := &Agent{
		id:            id,
		typ:           spec.Type,
		logger:        deps.logger.With(zap.String("agent", spec.Name)),
		inference:     deps.inference,
		tools:         deps.tools,
		planner:       deps.planner,
		reasoner:      deps.reasoner,
		sem:           semaphore.NewWeighted(maxJobs),
		name:          spec.Name,
		capabilities:  append([]string(nil), spec.Capabilities...),
		systemPrompt:  prompt,
		llm:           spec.LLM,
		functions:     make(map[string]Function),
		maxConcurrent: maxJobs,
		heartbeat:     heartbeat,
	}
	installCatalog(a, spec.Functions)
	return a
}

// ID returns the agent's stable opaque id.
func (a *Agent) ID() string { return a.id }

// Name returns the agent's human name.
func (a *Agent) Name() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.name
}

// Type returns the agent's type tag.
func (a *Agent) Type() string { return a.typ }

// Running reports whether the agent accepts function calls.
func (a *Agent) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Start flips the agent into the running state. Idempotent.
func (a *Agent) Start() {
	a.mu.Lock()
	was := a.running
	a.running = true
	a.mu.Unlock()
	if !was {
		a.logger.Info("Agent started", zap.String("agent_id", a.id))
	}
}

// Stop flips the agent out of the running state. In-flight calls finish;
// new calls are rejected. Idempotent.
func (a *Agent) Stop() {
	a.mu.Lock()
	was := a.running
	a.running = false
	a.mu.Unlock()
	if was {
		a.logger.Info("Agent stopped", zap.String("agent_id", a.id))
	}
}

// RegisterFunction adds or replaces an entry in the function table.
func (a *Agent) RegisterFunction(fn Function) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.functions[fn.Name] = fn
}

// UnregisterFunction removes a function by name.
func (a *Agent) UnregisterFunction(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.functions, name)
}

// HasFunction reports whether name is in the function table.
func (a *Agent) HasFunction(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.functions[name]
	return ok
}

// FunctionNames returns the table's names, sorted.
func (a *Agent) FunctionNames() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.functions))
	for name := range a.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Capabilities returns a copy of the capability list.
func (a *Agent) Capabilities() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.capabilities...)
}

// SystemPrompt returns the configured system prompt, possibly empty.
func (a *Agent) SystemPrompt() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.systemPrompt
}

// LLM returns the agent's model configuration.
func (a *Agent) LLM() LLMConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.llm
}

// Statistics returns a copy of the agent's counters.
func (a *Agent) Statistics() Statistics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// RecordPlanCreated bumps the plans-created counter; create_plan calls
// it after the plan is registered.
func (a *Agent) RecordPlanCreated() {
	a.mu.Lock()
	a.stats.PlansCreated++
	a.stats.LastActivity = time.Now()
	a.mu.Unlock()
}

func (a *Agent) recordToolExecuted() {
	a.mu.Lock()
	a.stats.ToolsExecuted++
	a.mu.Unlock()
}

// ExecuteFunction is the single dispatch entry point. It enforces the
// running flag, validates parameters against the declared schema, takes
// one slot from the concurrency semaphore, runs the handler, and updates
// the agent statistics. Handler panics become failed results.
func (a *Agent) ExecuteFunction(ctx context.Context, name string, params *agentdata.Data) agentdata.FunctionResult {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return agentdata.Failf("agent not running")
	}
	fn, ok := a.functions[name]
	a.mu.Unlock()
	if !ok {
		return agentdata.Failf("function '%s' not found", name)
	}

	if err := agentdata.ValidateParams(fn.Parameters, params); err != nil {
		return agentdata.Failf("invalid parameters: %v", err)
	}
	params = agentdata.ApplyDefaults(fn.Parameters, params)

	if err := a.sem.Acquire(ctx, 1); err != nil {
		return agentdata.Failf("canceled while waiting for an execution slot: %v", err)
	}
	defer a.sem.Release(1)

	if fn.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, fn.Timeout)
		defer cancel()
	}

	start := time.Now()
	result := a.invoke(ctx, fn, params)
	elapsedMs := float64(time.Since(start).Microseconds()) / 1000.0

	a.recordExecution(elapsedMs)

	status := "ok"
	if !result.Success {
		status = "error"
	}
	metrics.RecordFunctionMetrics(a.Name(), name, status, elapsedMs)
	return result
}

func (a *Agent) invoke(ctx context.Context, fn Function, params *agentdata.Data) (result agentdata.FunctionResult) {
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Error("Function panicked",
				zap.String("function", fn.Name),
				zap.Any("panic", rec),
			)
			result = agentdata.Failf("%v", rec)
		}
	}()
	return fn.Handler(ctx, params)
}

func (a *Agent) recordExecution(elapsedMs float64) {
	a.mu.Lock()
	a.stats.FunctionsExecuted++
	a.sumExecMs += elapsedMs
	a.stats.AverageExecutionMs = a.sumExecMs / float64(a.stats.FunctionsExecuted)
	a.stats.LastActivity = time.Now()
	a.mu.Unlock()
}

// Info returns the agent summary served by the listing endpoints.
func (a *Agent) Info() *agentdata.Data {
	a.mu.Lock()
	defer a.mu.Unlock()

	caps := make([]agentdata.Value, 0, len(a.capabilities))
	for _, c := range a.capabilities {
		caps = append(caps, agentdata.String(c))
	}
	names := make([]string, 0, len(a.functions))
	for name := range a.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	fns := make([]agentdata.Value, 0, len(names))
	for _, name := range names {
		fns = append(fns, agentdata.String(name))
	}

	lastActivity := ""
	if !a.stats.LastActivity.IsZero() {
		lastActivity = a.stats.LastActivity.Format(time.RFC3339)
	}
	stats := agentdata.New().
		SetInt("functions_executed", a.stats.FunctionsExecuted).
		SetInt("tools_executed", a.stats.ToolsExecuted).
		SetInt("plans_created", a.stats.PlansCreated).
		SetFloat("average_execution_ms", a.stats.AverageExecutionMs).
		SetString("last_activity", lastActivity)

	return agentdata.New().
		SetString("agent_id", a.id).
		SetString("name", a.name).
		SetString("type", a.typ).
		SetBool("running", a.running).
		SetInt("max_concurrent_jobs", a.maxConcurrent).
		Set("capabilities", agentdata.List(caps...)).
		Set("functions", agentdata.List(fns...)).
		Set("statistics", agentdata.Map(stats))
}
