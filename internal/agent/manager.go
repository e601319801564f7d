package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dirigent-ai/dirigent/internal/agentdata"
	"github.com/dirigent-ai/dirigent/internal/config"
	"github.com/dirigent-ai/dirigent/internal/inference"
	"github.com/dirigent-ai/dirigent/internal/planning"
	"github.com/dirigent-ai/dirigent/internal/tools"
)

var (
	// ErrAgentNotFound is returned for unknown agent ids.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrDuplicateName is returned when a name is already taken.
	ErrDuplicateName = errors.New("agent name already in use")
)

// CreateSpec carries everything needed to build a new agent.
type CreateSpec struct {
	Name          string
	Type          string
	Role          string
	Capabilities  []string
	Functions     []string // allow-list over the default catalog; empty keeps all
	SystemPrompt  string
	LLM           LLMConfig
	MaxConcurrent int
	Heartbeat     time.Duration
	AutoStart     bool
}

type managerDeps struct {
	logger    *zap.Logger
	inference *inference.Client
	tools     *tools.Registry
	planner   *planning.Planner
	reasoner  *planning.Reasoner
	defaults  config.AgentsConfig
}

// Manager owns the id→agent arena. Names are unique across live agents;
// everything else references agents by id and resolves here at dispatch.
type Manager struct {
	deps managerDeps

	mu     sync.Mutex
	agents map[string]*Agent
	names  map[string]string
}

// NewManager creates an empty agent manager. The planner and reasoner
// are shared across all agents it creates, so plans made by one agent
// are visible to the others.
func NewManager(cfg config.AgentsConfig, inf *inference.Client, reg *tools.Registry, logger *zap.Logger) *Manager {
	return &Manager{
		deps: managerDeps{
			logger:    logger,
			inference: inf,
			tools:     reg,
			planner:   planning.NewPlanner(logger.Named("planning")),
			reasoner:  planning.NewReasoner(),
			defaults:  cfg,
		},
		agents: make(map[string]*Agent),
		names:  make(map[string]string),
	}
}

// Planner exposes the shared planning system.
func (m *Manager) Planner() *planning.Planner { return m.deps.planner }

// Create builds an agent from spec, assigns a fresh id, and registers it
// under its unique name. The agent starts stopped unless spec.AutoStart.
func (m *Manager) Create(spec CreateSpec) (*Agent, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}

	m.mu.Lock()
	if _, taken := m.names[spec.Name]; taken {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateName, spec.Name)
	}
	id := uuid.New().String()
	a := newAgent(id, spec, m.deps)
	m.agents[id] = a
	m.names[spec.Name] = id
	total := len(m.agents)
	m.mu.Unlock()

	if spec.AutoStart {
		a.Start()
	}
	m.deps.logger.Info("Created agent",
		zap.String("agent_id", id),
		zap.String("name", spec.Name),
		zap.Int("total_agents", total),
	)
	return a, nil
}

// Get returns the agent registered under id.
func (m *Manager) Get(id string) (*Agent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	return a, ok
}

// FindByName returns the id registered under name.
func (m *Manager) FindByName(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.names[name]
	return id, ok
}

// Resolve accepts either an agent id or an agent name.
func (m *Manager) Resolve(idOrName string) (*Agent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.agents[idOrName]; ok {
		return a, true
	}
	if id, ok := m.names[idOrName]; ok {
		return m.agents[id], true
	}
	return nil, false
}

// Start transitions the agent into the running state.
func (m *Manager) Start(id string) error {
	a, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	a.Start()
	return nil
}

// Stop transitions the agent out of the running state.
func (m *Manager) Stop(id string) error {
	a, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	a.Stop()
	return nil
}

// Delete stops the agent and removes it. Subsequent operations on the id
// fail with ErrAgentNotFound.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	a, ok := m.agents[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	delete(m.agents, id)
	delete(m.names, a.Name())
	m.mu.Unlock()

	a.Stop()
	m.deps.logger.Info("Deleted agent",
		zap.String("agent_id", id),
		zap.String("name", a.Name()),
	)
	return nil
}

// Execute looks the agent up and delegates to its dispatch entry point.
func (m *Manager) Execute(ctx context.Context, id, function string, params *agentdata.Data) agentdata.FunctionResult {
	a, ok := m.Get(id)
	if !ok {
		return agentdata.Failf("agent %q not found", id)
	}
	return a.ExecuteFunction(ctx, function, params)
}

// Count returns the number of live agents.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.agents)
}

// RunningCount returns how many agents are currently running.
func (m *Manager) RunningCount() int {
	agents := m.snapshot()
	n := 0
	for _, a := range agents {
		if a.Running() {
			n++
		}
	}
	return n
}

// List returns the listing document: every agent's summary plus totals.
func (m *Manager) List() *agentdata.Data {
	agents := m.snapshot()

	items := make([]agentdata.Value, 0, len(agents))
	running := 0
	for _, a := range agents {
		if a.Running() {
			running++
		}
		items = append(items, agentdata.Map(a.Info()))
	}
	return agentdata.New().
		Set("agents", agentdata.List(items...)).
		SetInt("total_count", int64(len(agents))).
		SetInt("running_count", int64(running))
}

// StopAll stops every agent. Idempotent.
func (m *Manager) StopAll() {
	for _, a := range m.snapshot() {
		a.Stop()
	}
	m.deps.logger.Info("Stopped all agents")
}

// snapshot copies the agent set out of the lock, sorted by name so
// listings are stable.
func (m *Manager) snapshot() []*Agent {
	m.mu.Lock()
	agents := make([]*Agent, 0, len(m.agents))
	for _, a := range m.agents {
		agents = append(agents, a)
	}
	m.mu.Unlock()

	sort.Slice(agents, func(i, j int) bool { return agents[i].Name() < agents[j].Name() })
	return agents
}
