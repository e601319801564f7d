package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LatencyBucketsMs is the shared millisecond bucket layout for request,
// function, and tool latency histograms.
var LatencyBucketsMs = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var (
	// Function dispatch metrics
	FunctionsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirigent_functions_executed_total",
			Help: "Total number of agent function executions",
		},
		[]string{"agent", "function", "status"},
	)

	FunctionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dirigent_function_duration_ms",
			Help:    "Agent function execution duration in milliseconds",
			Buckets: LatencyBucketsMs,
		},
		[]string{"agent", "function"},
	)

	// Async task metrics
	TasksSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dirigent_tasks_submitted_total",
			Help: "Total number of tasks submitted to the async layer",
		},
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirigent_tasks_completed_total",
			Help: "Total number of tasks finished, by terminal status",
		},
		[]string{"status"},
	)

	TaskQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dirigent_task_queue_depth",
			Help: "Tasks currently waiting in the priority queue",
		},
	)

	TasksRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dirigent_tasks_running",
			Help: "Tasks currently executing on workers",
		},
	)

	TaskWaitTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dirigent_task_wait_ms",
			Help:    "Time tasks spend queued before a worker picks them up",
			Buckets: LatencyBucketsMs,
		},
	)

	// Workflow metrics
	WorkflowsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirigent_workflows_started_total",
			Help: "Total number of workflow executions started",
		},
		[]string{"workflow_type"},
	)

	WorkflowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirigent_workflows_completed_total",
			Help: "Total number of workflow executions finished",
		},
		[]string{"workflow_type", "status"},
	)

	WorkflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dirigent_workflow_duration_seconds",
			Help:    "Workflow execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"workflow_type"},
	)

	WorkflowStepsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirigent_workflow_steps_total",
			Help: "Total number of workflow steps executed",
		},
		[]string{"status"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirigent_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dirigent_http_request_duration_ms",
			Help:    "HTTP request duration in milliseconds",
			Buckets: LatencyBucketsMs,
		},
		[]string{"method", "path"},
	)

	// Inference metrics
	InferenceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirigent_inference_requests_total",
			Help: "Total number of inference backend requests",
		},
		[]string{"model", "status"},
	)

	InferenceLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dirigent_inference_latency_seconds",
			Help:    "Inference backend round-trip latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	InferenceRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dirigent_inference_retries_total",
			Help: "Total number of inference request retries",
		},
	)

	// Embedding cache metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dirigent_cache_hits_total",
			Help: "Total number of embedding cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dirigent_cache_misses_total",
			Help: "Total number of embedding cache misses",
		},
	)

	// Tool metrics
	ToolExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirigent_tool_executions_total",
			Help: "Total number of tool executions",
		},
		[]string{"tool", "status"},
	)

	ToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dirigent_tool_duration_ms",
			Help:    "Tool execution duration in milliseconds",
			Buckets: LatencyBucketsMs,
		},
		[]string{"tool"},
	)

	// Event bus metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirigent_events_published_total",
			Help: "Total number of events broadcast on the bus",
		},
		[]string{"type"},
	)

	SubscribersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dirigent_event_subscribers_active",
			Help: "Currently registered event subscribers",
		},
	)

	// Plan metrics
	PlansCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dirigent_plans_created_total",
			Help: "Total number of execution plans created",
		},
	)

	// Workflow template metrics
	TemplatesLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirigent_templates_loaded_total",
			Help: "Total number of workflow templates loaded from disk",
		},
		[]string{"template"},
	)

	TemplateValidationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirigent_template_validation_errors_total",
			Help: "Total number of template load and validation failures, by issue code",
		},
		[]string{"code"},
	)
)

// RecordFunctionMetrics records one agent function execution.
func RecordFunctionMetrics(agent, function, status string, durationMs float64) {
	FunctionsExecuted.WithLabelValues(agent, function, status).Inc()
	FunctionDuration.WithLabelValues(agent, function).Observe(durationMs)
}

// RecordTaskMetrics records a finished async task.
func RecordTaskMetrics(status string, waitMs float64) {
	TasksCompleted.WithLabelValues(status).Inc()
	if waitMs >= 0 {
		TaskWaitTime.Observe(waitMs)
	}
}

// RecordWorkflowMetrics records a finished workflow execution.
func RecordWorkflowMetrics(workflowType, status string, durationSeconds float64) {
	WorkflowsCompleted.WithLabelValues(workflowType, status).Inc()
	WorkflowDuration.WithLabelValues(workflowType).Observe(durationSeconds)
}

// RecordHTTPMetrics records one served HTTP request.
func RecordHTTPMetrics(method, path, status string, durationMs float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(durationMs)
}

// RecordInferenceMetrics records one inference backend call.
func RecordInferenceMetrics(model, status string, durationSeconds float64) {
	InferenceRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		InferenceLatency.WithLabelValues(model).Observe(durationSeconds)
	}
}

// RecordToolMetrics records one tool execution.
func RecordToolMetrics(tool, status string, durationMs float64) {
	ToolExecutions.WithLabelValues(tool, status).Inc()
	ToolDuration.WithLabelValues(tool).Observe(durationMs)
}
