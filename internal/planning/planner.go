package planning

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dirigent-ai/dirigent/internal/agentdata"
	"github.com/dirigent-ai/dirigent/internal/metrics"
)

// ErrPlanNotFound is returned for unknown plan ids.
var ErrPlanNotFound = errors.New("plan not found")

// ErrTaskNotFound is returned for unknown task ids within a plan.
var ErrTaskNotFound = errors.New("task not found")

// Planner owns all live plans and answers readiness queries over them.
type Planner struct {
	logger *zap.Logger

	mu    sync.Mutex
	plans map[string]*Plan
}

// NewPlanner creates an empty planner.
func NewPlanner(logger *zap.Logger) *Planner {
	return &Planner{
		logger: logger,
		plans:  make(map[string]*Plan),
	}
}

// template is one canonical decomposition: task names with their
// suggested agent function and a baseline duration.
type templateTask struct {
	name      string
	function  string
	estimated time.Duration
}

var goalTemplates = []struct {
	keywords []string
	tasks    []templateTask
}{
	{
		keywords: []string{"research", "investigate", "study"},
		tasks: []templateTask{
			{"gather_information", "text_processing", 10 * time.Second},
			{"analyze_sources", "inference", 15 * time.Second},
			{"compile_findings", "inference", 5 * time.Second},
		},
	},
	{
		keywords: []string{"analyze", "analysis", "evaluate"},
		tasks: []templateTask{
			{"collect_data", "text_processing", 10 * time.Second},
			{"run_analysis", "inference", 15 * time.Second},
			{"summarize_insights", "inference", 5 * time.Second},
		},
	},
	{
		keywords: []string{"write", "draft", "compose"},
		tasks: []templateTask{
			{"outline_content", "inference", 5 * time.Second},
			{"draft_content", "inference", 15 * time.Second},
			{"review_and_polish", "inference", 10 * time.Second},
		},
	},
	{
		keywords: []string{"build", "implement", "create", "develop"},
		tasks: []templateTask{
			{"design_solution", "inference", 10 * time.Second},
			{"implement_solution", "text_processing", 15 * time.Second},
			{"verify_solution", "inference", 5 * time.Second},
		},
	},
}

var genericTemplate = []templateTask{
	{"initial_assessment", "inference", 5 * time.Second},
	{"process_goal", "text_processing", 10 * time.Second},
	{"final_review", "inference", 5 * time.Second},
}

// DecomposeGoal builds a plan from a goal string. The keyword templates
// stand in for a model-backed planner; callers can always register a
// hand-built plan instead.
func (pl *Planner) DecomposeGoal(goal string, ctx *agentdata.Data, strategy Strategy) (*Plan, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, fmt.Errorf("goal cannot be empty")
	}

	tasks := pickTemplate(goal)
	priority := goalPriority(goal, ctx)

	plan := NewPlan(uuid.New().String(), goal, strategy)
	for i, tt := range tasks {
		task := &Task{
			ID:        fmt.Sprintf("task-%d", i+1),
			Name:      tt.name,
			Function:  tt.function,
			Priority:  priority,
			Status:    StatusPending,
			Estimated: tt.estimated,
		}
		switch strategy {
		case StrategySequential, StrategyDependencyAware:
			if i > 0 {
				task.Dependencies = []string{fmt.Sprintf("task-%d", i)}
			}
		case StrategyParallel, StrategyPriorityBased:
			// independent tasks
		}
		plan.AddTask(task)
	}

	if err := pl.AddPlan(plan); err != nil {
		return nil, err
	}
	pl.logger.Info("Decomposed goal into plan",
		zap.String("plan_id", plan.ID),
		zap.String("strategy", strategy.String()),
		zap.Int("tasks", plan.Len()),
	)
	return plan, nil
}

func pickTemplate(goal string) []templateTask {
	lower := strings.ToLower(goal)
	for _, tmpl := range goalTemplates {
		for _, kw := range tmpl.keywords {
			if strings.Contains(lower, kw) {
				return tmpl.tasks
			}
		}
	}
	return genericTemplate
}

func goalPriority(goal string, ctx *agentdata.Data) Priority {
	lower := strings.ToLower(goal)
	if strings.Contains(lower, "critical") || strings.Contains(lower, "emergency") {
		return PriorityCritical
	}
	if strings.Contains(lower, "urgent") || strings.Contains(lower, "asap") {
		return PriorityHigh
	}
	if s := ctx.StringOr("priority", ""); s != "" {
		switch strings.ToUpper(s) {
		case "LOW":
			return PriorityLow
		case "HIGH":
			return PriorityHigh
		case "CRITICAL":
			return PriorityCritical
		}
	}
	return PriorityNormal
}

// AddPlan registers a plan. Every declared dependency must name a task
// in the plan; cycles are allowed at registration and reported by
// DetectCircularDependencies.
func (pl *Planner) AddPlan(plan *Plan) error {
	if plan == nil || plan.ID == "" {
		return fmt.Errorf("plan must have an id")
	}
	for _, t := range plan.Tasks() {
		for _, dep := range t.Dependencies {
			if _, ok := plan.Task(dep); !ok {
				return fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
			}
		}
	}

	pl.mu.Lock()
	pl.plans[plan.ID] = plan
	pl.mu.Unlock()

	metrics.PlansCreated.Inc()
	return nil
}

// Plan returns the registered plan by id.
func (pl *Planner) Plan(id string) (*Plan, bool) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	p, ok := pl.plans[id]
	return p, ok
}

// RemovePlan drops a plan from the planner.
func (pl *Planner) RemovePlan(id string) {
	pl.mu.Lock()
	delete(pl.plans, id)
	pl.mu.Unlock()
}

// ReadyTasks returns the pending tasks whose dependencies have all
// completed, ordered by priority (highest first) then insertion order.
func (pl *Planner) ReadyTasks(planID string) ([]*Task, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	plan, ok := pl.plans[planID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}

	var ready []*Task
	for _, t := range plan.Tasks() {
		if t.Status != StatusPending {
			continue
		}
		ok := true
		for _, dep := range t.Dependencies {
			d, exists := plan.Task(dep)
			if !exists || d.Status != StatusCompleted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, t)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool { return ready[i].Priority > ready[j].Priority })
	return ready, nil
}

// UpdateTaskStatus transitions a task. Moving into IN_PROGRESS stamps the
// start; moving into a terminal state stamps the actual duration.
func (pl *Planner) UpdateTaskStatus(planID, taskID string, status Status, errMsg string) error {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	plan, ok := pl.plans[planID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	task, ok := plan.Task(taskID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	task.Status = status
	task.Error = errMsg
	switch {
	case status == StatusInProgress:
		task.startedAt = time.Now()
	case status.terminal() && !task.startedAt.IsZero():
		task.Actual = time.Since(task.startedAt)
	}
	return nil
}

// SetTaskResult records a task's output and resolves its final status:
// COMPLETED when errMsg is empty, FAILED otherwise.
func (pl *Planner) SetTaskResult(planID, taskID string, result *agentdata.Data, errMsg string) error {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	plan, ok := pl.plans[planID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	task, ok := plan.Task(taskID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	task.Result = result
	task.Error = errMsg
	if errMsg == "" {
		task.Status = StatusCompleted
	} else {
		task.Status = StatusFailed
	}
	if !task.startedAt.IsZero() {
		task.Actual = time.Since(task.startedAt)
	}
	return nil
}

// DetectCircularDependencies returns the participants of a dependency
// cycle, or nil when the plan is a DAG.
func (pl *Planner) DetectCircularDependencies(planID string) ([]string, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	plan, ok := pl.plans[planID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	return findCycle(plan), nil
}

// findCycle runs a colored DFS over the dependency edges. It returns the
// cycle's participants in traversal order, or nil.
func findCycle(plan *Plan) []string {
	const (
		white = iota // unvisited
		gray         // on the current path
		black        // fully explored
	)
	color := make(map[string]int, plan.Len())
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		task, _ := plan.Task(id)
		for _, dep := range task.Dependencies {
			if _, ok := plan.Task(dep); !ok {
				continue
			}
			switch color[dep] {
			case gray:
				// Slice the current path from the first occurrence of dep.
				for i, s := range stack {
					if s == dep {
						cycle = append([]string(nil), stack[i:]...)
						return true
					}
				}
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	// Insertion order keeps detection deterministic.
	for _, t := range plan.Tasks() {
		if color[t.ID] == white {
			if visit(t.ID) {
				return cycle
			}
		}
	}
	return nil
}

// EstimateDuration returns the plan's critical-path duration: the longest
// chain of estimated durations through the dependency graph. Falls back
// to the plain sum when the graph has a cycle.
func (pl *Planner) EstimateDuration(planID string) (time.Duration, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	plan, ok := pl.plans[planID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}

	if cycle := findCycle(plan); len(cycle) > 0 {
		var sum time.Duration
		for _, t := range plan.Tasks() {
			sum += t.Estimated
		}
		return sum, nil
	}

	memo := make(map[string]time.Duration, plan.Len())
	var longest func(id string) time.Duration
	longest = func(id string) time.Duration {
		if d, ok := memo[id]; ok {
			return d
		}
		task, _ := plan.Task(id)
		var deepest time.Duration
		for _, dep := range task.Dependencies {
			if _, ok := plan.Task(dep); !ok {
				continue
			}
			if d := longest(dep); d > deepest {
				deepest = d
			}
		}
		total := deepest + task.Estimated
		memo[id] = total
		return total
	}

	var critical time.Duration
	for _, t := range plan.Tasks() {
		if d := longest(t.ID); d > critical {
			critical = d
		}
	}
	return critical, nil
}

// Summary renders a one-line human summary of the plan's progress.
func (pl *Planner) Summary(planID string) (string, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	plan, ok := pl.plans[planID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}

	var completed, inProgress, failed int
	for _, t := range plan.Tasks() {
		switch t.Status {
		case StatusCompleted:
			completed++
		case StatusInProgress:
			inProgress++
		case StatusFailed:
			failed++
		}
	}
	return fmt.Sprintf("Plan %q: %d/%d tasks completed (%.0f%%), %d in progress, %d failed",
		plan.Goal, completed, plan.Len(), plan.Progress()*100, inProgress, failed), nil
}

// PlanIDs returns the ids of all registered plans, sorted.
func (pl *Planner) PlanIDs() []string {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	ids := make([]string, 0, len(pl.plans))
	for id := range pl.plans {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
