// Package health runs periodic checks over the runtime's dependencies
// and serves liveness and readiness on /healthz and /readyz. Critical
// checkers gate readiness; non-critical ones only degrade the overall
// status.
package health

import (
	"context"
	"time"
)

// Status is the verdict of one check or of the whole system.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	}
	return "unknown"
}

// CheckResult is the outcome of one checker run.
type CheckResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"-"`
	StatusStr string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"-"`
	LatencyMs float64       `json:"latency_ms"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Checker probes one dependency.
type Checker interface {
	Name() string
	Critical() bool
	Timeout() time.Duration
	Check(ctx context.Context) CheckResult
}

// Overall is the aggregated verdict across all registered checkers.
type Overall struct {
	Status     Status                 `json:"-"`
	StatusStr  string                 `json:"status"`
	Components map[string]CheckResult `json:"components"`
	CheckedAt  time.Time              `json:"checked_at"`
}

func healthy(name, message string, elapsed time.Duration) CheckResult {
	return result(name, StatusHealthy, message, elapsed)
}

func degraded(name, message string, elapsed time.Duration) CheckResult {
	return result(name, StatusDegraded, message, elapsed)
}

func unhealthy(name, message string, elapsed time.Duration) CheckResult {
	return result(name, StatusUnhealthy, message, elapsed)
}

func result(name string, status Status, message string, elapsed time.Duration) CheckResult {
	return CheckResult{
		Name:      name,
		Status:    status,
		StatusStr: status.String(),
		Message:   message,
		Duration:  elapsed,
		LatencyMs: float64(elapsed.Microseconds()) / 1000.0,
		CheckedAt: time.Now().UTC(),
	}
}
