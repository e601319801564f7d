package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dirigent-ai/dirigent/internal/agentdata"
	"github.com/dirigent-ai/dirigent/internal/config"
)

func testManager() *Manager {
	return NewManager(config.AgentsConfig{
		MaxConcurrentJobs: 5,
		HeartbeatInterval: 30 * time.Second,
	}, nil, nil, zap.NewNop())
}

func mustCreate(t *testing.T, m *Manager, spec CreateSpec) *Agent {
	t.Helper()
	a, err := m.Create(spec)
	require.NoError(t, err)
	return a
}

func TestAgent_RejectsWhenNotRunning(t *testing.T) {
	m := testManager()
	a := mustCreate(t, m, CreateSpec{Name: "idle"})

	res := a.ExecuteFunction(context.Background(), "echo", agentdata.New().SetString("message", "hi"))
	require.False(t, res.Success)
	assert.Equal(t, "agent not running", res.ErrorMessage)

	a.Start()
	res = a.ExecuteFunction(context.Background(), "echo", agentdata.New().SetString("message", "hi"))
	require.True(t, res.Success)
	assert.Equal(t, "hi", res.Result.StringOr("message", ""))

	a.Stop()
	res = a.ExecuteFunction(context.Background(), "echo", agentdata.New().SetString("message", "hi"))
	assert.False(t, res.Success)
}

func TestAgent_UnknownFunction(t *testing.T) {
	m := testManager()
	a := mustCreate(t, m, CreateSpec{Name: "worker", AutoStart: true})

	res := a.ExecuteFunction(context.Background(), "nope", agentdata.New())
	require.False(t, res.Success)
	assert.Equal(t, "function 'nope' not found", res.ErrorMessage)
}

func TestAgent_ValidatesParameters(t *testing.T) {
	m := testManager()
	a := mustCreate(t, m, CreateSpec{Name: "worker", AutoStart: true})

	res := a.ExecuteFunction(context.Background(), "echo", agentdata.New())
	require.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "invalid parameters")
	assert.Contains(t, res.ErrorMessage, `missing required parameter "message"`)

	res = a.ExecuteFunction(context.Background(), "echo", agentdata.New().SetInt("message", 7))
	require.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "invalid parameters")
}

func TestAgent_DispatchDeterminism(t *testing.T) {
	m := testManager()
	a := mustCreate(t, m, CreateSpec{Name: "worker", AutoStart: true})
	a.RegisterFunction(Function{
		Name: "double",
		Parameters: []agentdata.ParamSpec{
			{Name: "n", Type: agentdata.KindInt, Required: true},
		},
		Handler: func(_ context.Context, params *agentdata.Data) agentdata.FunctionResult {
			return agentdata.OK(agentdata.New().SetInt("value", params.IntOr("n", 0)*2))
		},
	})

	params := agentdata.New().SetInt("n", 21)
	first := a.ExecuteFunction(context.Background(), "double", params)
	second := a.ExecuteFunction(context.Background(), "double", params)
	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.True(t, first.Result.Equal(second.Result))
	assert.Equal(t, int64(42), first.Result.IntOr("value", 0))
}

func TestAgent_PanicBecomesFailure(t *testing.T) {
	m := testManager()
	a := mustCreate(t, m, CreateSpec{Name: "worker", AutoStart: true})
	a.RegisterFunction(Function{
		Name: "bomb",
		Handler: func(_ context.Context, _ *agentdata.Data) agentdata.FunctionResult {
			panic("boom")
		},
	})

	res := a.ExecuteFunction(context.Background(), "bomb", agentdata.New())
	require.False(t, res.Success)
	assert.Equal(t, "boom", res.ErrorMessage)
}

func TestAgent_ConcurrencyCap(t *testing.T) {
	m := testManager()
	a := mustCreate(t, m, CreateSpec{Name: "worker", MaxConcurrent: 2, AutoStart: true})

	var current, peak int32
	release := make(chan struct{})
	a.RegisterFunction(Function{
		Name: "block",
		Handler: func(_ context.Context, _ *agentdata.Data) agentdata.FunctionResult {
			c := atomic.AddInt32(&current, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if c <= p || atomic.CompareAndSwapInt32(&peak, p, c) {
					break
				}
			}
			<-release
			atomic.AddInt32(&current, -1)
			return agentdata.OK(agentdata.New())
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := a.ExecuteFunction(context.Background(), "block", agentdata.New())
			assert.True(t, res.Success)
		}()
	}

	// Let the first two occupy their slots and the rest queue up.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&peak))

	close(release)
	wg.Wait()
	assert.Equal(t, int32(2), atomic.LoadInt32(&peak))
	assert.Equal(t, int64(5), a.Statistics().FunctionsExecuted)
}

func TestAgent_SemaphoreWaitHonorsContext(t *testing.T) {
	m := testManager()
	a := mustCreate(t, m, CreateSpec{Name: "worker", MaxConcurrent: 1, AutoStart: true})

	release := make(chan struct{})
	a.RegisterFunction(Function{
		Name: "hold",
		Handler: func(_ context.Context, _ *agentdata.Data) agentdata.FunctionResult {
			<-release
			return agentdata.OK(agentdata.New())
		},
	})

	go a.ExecuteFunction(context.Background(), "hold", agentdata.New())
	time.Sleep(50 * time.Millisecond) // occupy the only slot

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := a.ExecuteFunction(ctx, "hold", agentdata.New())
	require.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "waiting for an execution slot")

	close(release)
}

func TestAgent_FunctionTimeout(t *testing.T) {
	m := testManager()
	a := mustCreate(t, m, CreateSpec{Name: "worker", AutoStart: true})
	a.RegisterFunction(Function{
		Name:    "slow",
		Timeout: 30 * time.Millisecond,
		Handler: func(ctx context.Context, _ *agentdata.Data) agentdata.FunctionResult {
			select {
			case <-ctx.Done():
				return agentdata.Failf("timeout")
			case <-time.After(5 * time.Second):
				return agentdata.OK(agentdata.New())
			}
		},
	})

	res := a.ExecuteFunction(context.Background(), "slow", agentdata.New())
	require.False(t, res.Success)
	assert.Equal(t, "timeout", res.ErrorMessage)
}

func TestAgent_StatisticsTrackExecutions(t *testing.T) {
	m := testManager()
	a := mustCreate(t, m, CreateSpec{Name: "worker", AutoStart: true})

	for i := 0; i < 3; i++ {
		res := a.ExecuteFunction(context.Background(), "echo", agentdata.New().SetString("message", "x"))
		require.True(t, res.Success)
	}
	// Unknown functions never reach the handler and are not counted.
	a.ExecuteFunction(context.Background(), "missing", agentdata.New())

	stats := a.Statistics()
	assert.Equal(t, int64(3), stats.FunctionsExecuted)
	assert.GreaterOrEqual(t, stats.AverageExecutionMs, 0.0)
	assert.False(t, stats.LastActivity.IsZero())
}

func TestAgent_Info(t *testing.T) {
	m := testManager()
	a := mustCreate(t, m, CreateSpec{
		Name:         "observer",
		Type:         "analyst",
		Capabilities: []string{"analysis", "reporting"},
		AutoStart:    true,
	})

	info := a.Info()
	assert.Equal(t, a.ID(), info.StringOr("agent_id", ""))
	assert.Equal(t, "observer", info.StringOr("name", ""))
	assert.Equal(t, "analyst", info.StringOr("type", ""))
	assert.True(t, info.BoolOr("running", false))

	fns, ok := info.Get("functions")
	require.True(t, ok)
	names, _ := fns.AsList()
	var found bool
	for _, v := range names {
		if s, _ := v.AsString(); s == "echo" {
			found = true
		}
	}
	assert.True(t, found, "default catalog must include echo")

	stats, ok := info.MapOr("statistics")
	require.True(t, ok)
	assert.True(t, stats.Has("functions_executed"))
}
