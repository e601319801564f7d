// Package planning turns goals into executable task graphs and offers a
// small advisory reasoning surface. Plans are in-memory DAGs; the async
// and orchestration layers do the actual running.
package planning

import (
	"time"

	"github.com/dirigent-ai/dirigent/internal/agentdata"
)

// Priority orders tasks within a plan.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	}
	return "UNKNOWN"
}

// Status is the lifecycle state of a planned task.
type Status int

const (
	StatusPending Status = iota
	StatusInProgress
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusCompleted:
		return "COMPLETED"
	case StatusFailed:
		return "FAILED"
	case StatusCancelled:
		return "CANCELLED"
	}
	return "UNKNOWN"
}

// terminal reports whether no further transitions are expected.
func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task is one planned unit of work. Dependencies reference other task
// ids within the same plan.
type Task struct {
	ID           string
	Name         string
	Function     string
	Priority     Priority
	Status       Status
	Dependencies []string
	Estimated    time.Duration
	Actual       time.Duration
	Result       *agentdata.Data
	Error        string

	startedAt time.Time
}

// Strategy selects how a goal is decomposed into a task graph.
type Strategy int

const (
	// StrategySequential chains every task to its predecessor.
	StrategySequential Strategy = iota
	// StrategyParallel emits independent tasks.
	StrategyParallel
	// StrategyPriorityBased emits independent tasks scheduled in
	// descending priority order.
	StrategyPriorityBased
	// StrategyDependencyAware keeps declared dependencies, validating
	// and topologically ordering them.
	StrategyDependencyAware
)

func (s Strategy) String() string {
	switch s {
	case StrategySequential:
		return "SEQUENTIAL"
	case StrategyParallel:
		return "PARALLEL"
	case StrategyPriorityBased:
		return "PRIORITY_BASED"
	case StrategyDependencyAware:
		return "DEPENDENCY_AWARE"
	}
	return "UNKNOWN"
}

// ParseStrategy maps the wire name to a Strategy.
func ParseStrategy(s string) (Strategy, bool) {
	switch s {
	case "SEQUENTIAL", "sequential":
		return StrategySequential, true
	case "PARALLEL", "parallel":
		return StrategyParallel, true
	case "PRIORITY_BASED", "priority_based":
		return StrategyPriorityBased, true
	case "DEPENDENCY_AWARE", "dependency_aware":
		return StrategyDependencyAware, true
	}
	return StrategySequential, false
}

// Plan owns a set of tasks produced from one goal.
type Plan struct {
	ID       string
	Goal     string
	Strategy Strategy
	Created  time.Time

	tasks map[string]*Task
	order []string // insertion order, used for stable iteration
}

// NewPlan creates an empty plan shell. Tasks are added via AddTask.
func NewPlan(id, goal string, strategy Strategy) *Plan {
	return &Plan{
		ID:       id,
		Goal:     goal,
		Strategy: strategy,
		Created:  time.Now(),
		tasks:    make(map[string]*Task),
	}
}

// AddTask appends a task to the plan. Later tasks may depend on earlier
// ids; validation happens at plan registration.
func (p *Plan) AddTask(t *Task) {
	if _, exists := p.tasks[t.ID]; !exists {
		p.order = append(p.order, t.ID)
	}
	p.tasks[t.ID] = t
}

// Task returns the task registered under id.
func (p *Plan) Task(id string) (*Task, bool) {
	t, ok := p.tasks[id]
	return t, ok
}

// Tasks returns the plan's tasks in insertion order.
func (p *Plan) Tasks() []*Task {
	out := make([]*Task, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.tasks[id])
	}
	return out
}

// Len returns the number of tasks.
func (p *Plan) Len() int { return len(p.order) }

// Progress is completed tasks over total, in [0,1].
func (p *Plan) Progress() float64 {
	if len(p.order) == 0 {
		return 0
	}
	done := 0
	for _, t := range p.tasks {
		if t.Status == StatusCompleted {
			done++
		}
	}
	return float64(done) / float64(len(p.order))
}
