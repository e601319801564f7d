package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager owns the checker registry and a background loop that keeps a
// cached result set fresh. On-demand queries run the checks directly.
type Manager struct {
	logger   *zap.Logger
	interval time.Duration

	mu       sync.RWMutex
	checkers map[string]Checker
	last     map[string]CheckResult
	stopCh   chan struct{}
	started  bool
}

// NewManager builds a manager that refreshes cached results every
// interval once started. interval <= 0 selects 30s.
func NewManager(interval time.Duration, logger *zap.Logger) *Manager {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:   logger,
		interval: interval,
		checkers: make(map[string]Checker),
		last:     make(map[string]CheckResult),
	}
}

// Register adds a checker. Names must be unique.
func (m *Manager) Register(c Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.checkers[c.Name()]; exists {
		return fmt.Errorf("health checker %q already registered", c.Name())
	}
	m.checkers[c.Name()] = c
	m.logger.Info("Registered health checker",
		zap.String("name", c.Name()),
		zap.Bool("critical", c.Critical()),
	)
	return nil
}

// Deregister removes a checker and its cached result.
func (m *Manager) Deregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkers, name)
	delete(m.last, name)
}

// Start launches the background refresh loop. Idempotent.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})
	stop := m.stopCh
	m.mu.Unlock()

	go m.loop(stop)
	m.logger.Info("Health manager started", zap.Duration("interval", m.interval))
}

// Stop ends the background loop. Safe to call twice.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	close(m.stopCh)
}

func (m *Manager) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.interval)
			m.RunChecks(ctx)
			cancel()
		}
	}
}

// RunChecks executes every registered checker with its own timeout and
// refreshes the cache.
func (m *Manager) RunChecks(ctx context.Context) map[string]CheckResult {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	results := make(map[string]CheckResult, len(checkers))
	for _, c := range checkers {
		results[c.Name()] = m.runOne(ctx, c)
	}

	m.mu.Lock()
	for name, r := range results {
		m.last[name] = r
	}
	m.mu.Unlock()
	return results
}

// runOne bounds a single check by its declared timeout and converts
// panics and overruns into unhealthy results.
func (m *Manager) runOne(ctx context.Context, c Checker) CheckResult {
	cctx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()

	start := time.Now()
	resCh := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				resCh <- unhealthy(c.Name(), fmt.Sprintf("check panicked: %v", p), time.Since(start))
			}
		}()
		resCh <- c.Check(cctx)
	}()

	select {
	case r := <-resCh:
		return r
	case <-cctx.Done():
		return unhealthy(c.Name(), fmt.Sprintf("check timed out after %s", c.Timeout()), time.Since(start))
	}
}

// Overall aggregates a fresh check run: any critical failure is
// unhealthy, any other failure or degradation is degraded.
func (m *Manager) Overall(ctx context.Context) Overall {
	results := m.RunChecks(ctx)
	return aggregate(results, m.criticalSet())
}

// Cached aggregates the last background run without re-checking.
func (m *Manager) Cached() Overall {
	m.mu.RLock()
	results := make(map[string]CheckResult, len(m.last))
	for name, r := range m.last {
		results[name] = r
	}
	m.mu.RUnlock()
	return aggregate(results, m.criticalSet())
}

// Ready reports whether every critical checker currently passes.
func (m *Manager) Ready(ctx context.Context) bool {
	results := m.RunChecks(ctx)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, c := range m.checkers {
		if !c.Critical() {
			continue
		}
		r, ok := results[name]
		if !ok || r.Status == StatusUnhealthy {
			return false
		}
	}
	return true
}

func (m *Manager) criticalSet() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(m.checkers))
	for name, c := range m.checkers {
		out[name] = c.Critical()
	}
	return out
}

func aggregate(results map[string]CheckResult, critical map[string]bool) Overall {
	status := StatusHealthy
	for name, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			if critical[name] {
				status = StatusUnhealthy
			} else if status != StatusUnhealthy {
				status = StatusDegraded
			}
		case StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}
	return Overall{
		Status:     status,
		StatusStr:  status.String(),
		Components: results,
		CheckedAt:  time.Now().UTC(),
	}
}
