package planning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dirigent-ai/dirigent/internal/agentdata"
)

func newPlanner() *Planner {
	return NewPlanner(zap.NewNop())
}

func TestDecomposeGoal_ResearchTemplate(t *testing.T) {
	pl := newPlanner()
	plan, err := pl.DecomposeGoal("research the Go memory model", nil, StrategySequential)
	require.NoError(t, err)

	tasks := plan.Tasks()
	require.Len(t, tasks, 3)
	assert.Equal(t, "gather_information", tasks[0].Name)
	assert.Equal(t, "analyze_sources", tasks[1].Name)
	assert.Equal(t, "compile_findings", tasks[2].Name)

	assert.Empty(t, tasks[0].Dependencies)
	assert.Equal(t, []string{"task-1"}, tasks[1].Dependencies)
	assert.Equal(t, []string{"task-2"}, tasks[2].Dependencies)

	for _, task := range tasks {
		assert.Equal(t, PriorityNormal, task.Priority)
		assert.Equal(t, StatusPending, task.Status)
		assert.GreaterOrEqual(t, task.Estimated, 5*time.Second)
		assert.LessOrEqual(t, task.Estimated, 15*time.Second)
	}
}

func TestDecomposeGoal_GenericFallback(t *testing.T) {
	pl := newPlanner()
	plan, err := pl.DecomposeGoal("do the thing", nil, StrategyParallel)
	require.NoError(t, err)

	tasks := plan.Tasks()
	require.Len(t, tasks, 3)
	assert.Equal(t, "initial_assessment", tasks[0].Name)
	for _, task := range tasks {
		assert.Empty(t, task.Dependencies, "parallel strategy emits independent tasks")
	}
}

func TestDecomposeGoal_RejectsEmptyGoal(t *testing.T) {
	pl := newPlanner()
	_, err := pl.DecomposeGoal("   ", nil, StrategySequential)
	assert.Error(t, err)
}

func TestGoalPriority(t *testing.T) {
	assert.Equal(t, PriorityCritical, goalPriority("handle the critical outage", nil))
	assert.Equal(t, PriorityHigh, goalPriority("URGENT: patch the leak", nil))
	assert.Equal(t, PriorityNormal, goalPriority("tidy the docs", nil))
	assert.Equal(t, PriorityHigh, goalPriority("tidy the docs", agentdata.New().SetString("priority", "HIGH")))
}

func TestAddPlan_ValidatesDependencyExistence(t *testing.T) {
	pl := newPlanner()
	plan := NewPlan("p1", "goal", StrategyDependencyAware)
	plan.AddTask(&Task{ID: "a", Dependencies: []string{"ghost"}})

	err := pl.AddPlan(plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown task "ghost"`)
}

func TestReadyTasks_SequentialChain(t *testing.T) {
	pl := newPlanner()
	plan, err := pl.DecomposeGoal("research goroutines", nil, StrategySequential)
	require.NoError(t, err)

	ready, err := pl.ReadyTasks(plan.ID)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "task-1", ready[0].ID)

	require.NoError(t, pl.UpdateTaskStatus(plan.ID, "task-1", StatusCompleted, ""))
	ready, err = pl.ReadyTasks(plan.ID)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "task-2", ready[0].ID)

	// A failed dependency never unblocks its dependents.
	require.NoError(t, pl.UpdateTaskStatus(plan.ID, "task-2", StatusFailed, "boom"))
	ready, err = pl.ReadyTasks(plan.ID)
	require.NoError(t, err)
	assert.Empty(t, ready)
}

func TestReadyTasks_PriorityOrdering(t *testing.T) {
	pl := newPlanner()
	plan := NewPlan("p2", "mixed priorities", StrategyPriorityBased)
	plan.AddTask(&Task{ID: "low", Priority: PriorityLow})
	plan.AddTask(&Task{ID: "crit", Priority: PriorityCritical})
	plan.AddTask(&Task{ID: "norm", Priority: PriorityNormal})
	require.NoError(t, pl.AddPlan(plan))

	ready, err := pl.ReadyTasks("p2")
	require.NoError(t, err)
	require.Len(t, ready, 3)
	assert.Equal(t, "crit", ready[0].ID)
	assert.Equal(t, "norm", ready[1].ID)
	assert.Equal(t, "low", ready[2].ID)
}

func TestReadyTasks_UnknownPlan(t *testing.T) {
	pl := newPlanner()
	_, err := pl.ReadyTasks("missing")
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestUpdateTaskStatus_StampsDurations(t *testing.T) {
	pl := newPlanner()
	plan, err := pl.DecomposeGoal("write a summary", nil, StrategySequential)
	require.NoError(t, err)

	require.NoError(t, pl.UpdateTaskStatus(plan.ID, "task-1", StatusInProgress, ""))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, pl.UpdateTaskStatus(plan.ID, "task-1", StatusCompleted, ""))

	task, _ := plan.Task("task-1")
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Greater(t, task.Actual, time.Duration(0))

	err = pl.UpdateTaskStatus(plan.ID, "no-such-task", StatusCompleted, "")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestSetTaskResult(t *testing.T) {
	pl := newPlanner()
	plan, err := pl.DecomposeGoal("analyze the dataset", nil, StrategySequential)
	require.NoError(t, err)

	out := agentdata.New().SetString("insight", "growth is linear")
	require.NoError(t, pl.SetTaskResult(plan.ID, "task-1", out, ""))
	task, _ := plan.Task("task-1")
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Equal(t, "growth is linear", task.Result.StringOr("insight", ""))

	require.NoError(t, pl.SetTaskResult(plan.ID, "task-2", nil, "source unavailable"))
	task, _ = plan.Task("task-2")
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, "source unavailable", task.Error)
}

func TestDetectCircularDependencies(t *testing.T) {
	pl := newPlanner()

	acyclic, err := pl.DecomposeGoal("research compilers", nil, StrategySequential)
	require.NoError(t, err)
	cycle, err := pl.DetectCircularDependencies(acyclic.ID)
	require.NoError(t, err)
	assert.Empty(t, cycle)

	looped := NewPlan("loop", "cyclic", StrategyDependencyAware)
	looped.AddTask(&Task{ID: "a", Dependencies: []string{"b"}})
	looped.AddTask(&Task{ID: "b", Dependencies: []string{"c"}})
	looped.AddTask(&Task{ID: "c", Dependencies: []string{"a"}})
	require.NoError(t, pl.AddPlan(looped))

	cycle, err = pl.DetectCircularDependencies("loop")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cycle)
}

func TestEstimateDuration_CriticalPath(t *testing.T) {
	pl := newPlanner()

	chained, err := pl.DecomposeGoal("research allocators", nil, StrategySequential)
	require.NoError(t, err)
	d, err := pl.EstimateDuration(chained.ID)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d, "sequential chain sums all estimates")

	fanned, err := pl.DecomposeGoal("research schedulers", nil, StrategyParallel)
	require.NoError(t, err)
	d, err = pl.EstimateDuration(fanned.ID)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, d, "independent tasks overlap; the longest wins")
}

func TestEstimateDuration_CycleFallsBackToSum(t *testing.T) {
	pl := newPlanner()
	looped := NewPlan("loop2", "cyclic", StrategyDependencyAware)
	looped.AddTask(&Task{ID: "a", Dependencies: []string{"b"}, Estimated: 2 * time.Second})
	looped.AddTask(&Task{ID: "b", Dependencies: []string{"a"}, Estimated: 3 * time.Second})
	require.NoError(t, pl.AddPlan(looped))

	d, err := pl.EstimateDuration("loop2")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)
}

func TestSummaryAndProgress(t *testing.T) {
	pl := newPlanner()
	plan, err := pl.DecomposeGoal("write release notes", nil, StrategySequential)
	require.NoError(t, err)

	assert.Equal(t, 0.0, plan.Progress())

	require.NoError(t, pl.UpdateTaskStatus(plan.ID, "task-1", StatusCompleted, ""))
	require.NoError(t, pl.UpdateTaskStatus(plan.ID, "task-2", StatusInProgress, ""))
	assert.InDelta(t, 1.0/3.0, plan.Progress(), 1e-9)

	s, err := pl.Summary(plan.ID)
	require.NoError(t, err)
	assert.Contains(t, s, "1/3 tasks completed")
	assert.Contains(t, s, "1 in progress")
}

func TestRemovePlan(t *testing.T) {
	pl := newPlanner()
	plan, err := pl.DecomposeGoal("build a parser", nil, StrategySequential)
	require.NoError(t, err)
	require.Contains(t, pl.PlanIDs(), plan.ID)

	pl.RemovePlan(plan.ID)
	assert.NotContains(t, pl.PlanIDs(), plan.ID)
	_, ok := pl.Plan(plan.ID)
	assert.False(t, ok)
}
