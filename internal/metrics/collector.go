package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

const defaultWindowSize = 1000

// Collector aggregates request counts and latencies for the JSON metrics
// snapshot. Prometheus exposition is handled separately by the promauto
// collectors; this type backs GET /metrics.
type Collector struct {
	mu    sync.Mutex
	start time.Time

	totalRequests uint64
	successCount  uint64
	errorCount    uint64

	// sliding window of the most recent request durations, in ms
	window []float64
	wstart int
	wcount int

	endpoints map[string]*opStats
	agents    map[string]*opStats
	workflows map[string]*opStats
}

type opStats struct {
	total   uint64
	success uint64
	errors  uint64
	totalMs float64
}

// Snapshot is the JSON view of a Collector at one instant.
type Snapshot struct {
	UptimeSeconds float64               `json:"uptime_seconds"`
	TotalRequests uint64                `json:"total_requests"`
	SuccessCount  uint64                `json:"success_count"`
	ErrorCount    uint64                `json:"error_count"`
	Latency       LatencySummary        `json:"latency_ms"`
	Endpoints     map[string]OpSnapshot `json:"endpoints"`
	Agents        map[string]OpSnapshot `json:"agents"`
	Workflows     map[string]OpSnapshot `json:"workflows"`
}

// LatencySummary holds percentiles over the sliding window.
type LatencySummary struct {
	P50     float64 `json:"p50"`
	P95     float64 `json:"p95"`
	P99     float64 `json:"p99"`
	Avg     float64 `json:"avg"`
	Samples int     `json:"samples"`
}

// OpSnapshot is the per-key breakdown inside a Snapshot.
type OpSnapshot struct {
	Total   uint64  `json:"total"`
	Success uint64  `json:"success"`
	Error   uint64  `json:"error"`
	AvgMs   float64 `json:"avg_ms"`
}

// NewCollector builds a Collector; windowSize <= 0 selects the default
// of 1000 samples.
func NewCollector(windowSize int) *Collector {
	if windowSize <= 0 {
		windowSize = defaultWindowSize
	}
	return &Collector{
		start:     time.Now(),
		window:    make([]float64, windowSize),
		endpoints: make(map[string]*opStats),
		agents:    make(map[string]*opStats),
		workflows: make(map[string]*opStats),
	}
}

// RecordRequest records one HTTP request against endpoint.
func (c *Collector) RecordRequest(endpoint string, d time.Duration, success bool) {
	ms := float64(d) / float64(time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	if success {
		c.successCount++
	} else {
		c.errorCount++
	}
	c.push(ms)
	c.bump(c.endpoints, endpoint, ms, success)
}

// RecordFunction records one function execution against the agent name.
func (c *Collector) RecordFunction(agent string, d time.Duration, success bool) {
	ms := float64(d) / float64(time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bump(c.agents, agent, ms, success)
}

// RecordWorkflow records one workflow execution against the workflow name.
func (c *Collector) RecordWorkflow(name string, d time.Duration, success bool) {
	ms := float64(d) / float64(time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bump(c.workflows, name, ms, success)
}

func (c *Collector) bump(m map[string]*opStats, key string, ms float64, success bool) {
	st := m[key]
	if st == nil {
		st = &opStats{}
		m[key] = st
	}
	st.total++
	if success {
		st.success++
	} else {
		st.errors++
	}
	st.totalMs += ms
}

func (c *Collector) push(ms float64) {
	if len(c.window) == 0 {
		return
	}
	if c.wcount < len(c.window) {
		c.window[(c.wstart+c.wcount)%len(c.window)] = ms
		c.wcount++
		return
	}
	c.window[c.wstart] = ms
	c.wstart = (c.wstart + 1) % len(c.window)
}

// Snapshot renders the current state. The returned maps are copies.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	samples := make([]float64, 0, c.wcount)
	for i := 0; i < c.wcount; i++ {
		samples = append(samples, c.window[(c.wstart+i)%len(c.window)])
	}

	return Snapshot{
		UptimeSeconds: time.Since(c.start).Seconds(),
		TotalRequests: c.totalRequests,
		SuccessCount:  c.successCount,
		ErrorCount:    c.errorCount,
		Latency:       summarize(samples),
		Endpoints:     render(c.endpoints),
		Agents:        render(c.agents),
		Workflows:     render(c.workflows),
	}
}

func render(m map[string]*opStats) map[string]OpSnapshot {
	out := make(map[string]OpSnapshot, len(m))
	for k, st := range m {
		snap := OpSnapshot{Total: st.total, Success: st.success, Error: st.errors}
		if st.total > 0 {
			snap.AvgMs = st.totalMs / float64(st.total)
		}
		out[k] = snap
	}
	return out
}

func summarize(samples []float64) LatencySummary {
	s := LatencySummary{Samples: len(samples)}
	if len(samples) == 0 {
		return s
	}
	sort.Float64s(samples)
	var sum float64
	for _, v := range samples {
		sum += v
	}
	s.Avg = sum / float64(len(samples))
	s.P50 = percentile(samples, 50)
	s.P95 = percentile(samples, 95)
	s.P99 = percentile(samples, 99)
	return s
}

// percentile applies nearest-rank on a sorted slice.
func percentile(sorted []float64, q float64) float64 {
	rank := int(math.Ceil(q / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
