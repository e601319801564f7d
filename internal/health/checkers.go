package health

import (
	"context"
	"fmt"
	"time"

	"github.com/dirigent-ai/dirigent/internal/async"
	"github.com/dirigent-ai/dirigent/internal/inference"
)

const defaultCheckTimeout = 5 * time.Second

// InferenceChecker probes the model service's health endpoint. It is
// non-critical: the runtime keeps serving agents whose functions do not
// need inference.
type InferenceChecker struct {
	client  *inference.Client
	timeout time.Duration
}

func NewInferenceChecker(client *inference.Client) *InferenceChecker {
	return &InferenceChecker{client: client, timeout: defaultCheckTimeout}
}

func (c *InferenceChecker) Name() string           { return "inference" }
func (c *InferenceChecker) Critical() bool         { return false }
func (c *InferenceChecker) Timeout() time.Duration { return c.timeout }

func (c *InferenceChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if c.client == nil {
		return degraded(c.Name(), "inference client not configured", time.Since(start))
	}
	if !c.client.Health(ctx) {
		return unhealthy(c.Name(), "inference service unreachable", time.Since(start))
	}
	return healthy(c.Name(), "inference service reachable", time.Since(start))
}

// QueueChecker watches the async layer. A stopped pool is unhealthy; a
// queue above the saturation threshold is degraded.
type QueueChecker struct {
	service    *async.Service
	timeout    time.Duration
	saturation float64
}

// NewQueueChecker builds a checker that degrades once queue depth
// exceeds saturation (a 0..1 fraction of capacity; <=0 selects 0.9).
func NewQueueChecker(service *async.Service, saturation float64) *QueueChecker {
	if saturation <= 0 || saturation > 1 {
		saturation = 0.9
	}
	return &QueueChecker{service: service, timeout: time.Second, saturation: saturation}
}

func (c *QueueChecker) Name() string           { return "task_queue" }
func (c *QueueChecker) Critical() bool         { return true }
func (c *QueueChecker) Timeout() time.Duration { return c.timeout }

func (c *QueueChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if !c.service.Running() {
		return unhealthy(c.Name(), "worker pool is not running", time.Since(start))
	}
	depth := c.service.QueueSize()
	capacity := c.service.Capacity()
	if capacity > 0 && float64(depth) >= c.saturation*float64(capacity) {
		return degraded(c.Name(),
			fmt.Sprintf("queue saturated: %d of %d slots in use", depth, capacity),
			time.Since(start))
	}
	return healthy(c.Name(),
		fmt.Sprintf("queue depth %d of %d", depth, capacity),
		time.Since(start))
}

// FuncChecker adapts a plain function into a Checker.
type FuncChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	fn       func(ctx context.Context) CheckResult
}

func NewFuncChecker(name string, critical bool, timeout time.Duration, fn func(ctx context.Context) CheckResult) *FuncChecker {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &FuncChecker{name: name, critical: critical, timeout: timeout, fn: fn}
}

func (c *FuncChecker) Name() string           { return c.name }
func (c *FuncChecker) Critical() bool         { return c.critical }
func (c *FuncChecker) Timeout() time.Duration { return c.timeout }

func (c *FuncChecker) Check(ctx context.Context) CheckResult {
	return c.fn(ctx)
}

// Pass and Fail build results for FuncChecker bodies.
func Pass(name, message string) CheckResult { return healthy(name, message, 0) }

func Fail(name, message string) CheckResult { return unhealthy(name, message, 0) }
