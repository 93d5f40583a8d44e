package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Workflow metrics
	WorkflowRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_workflow_runs_total",
			Help: "Total number of workflow runs by final status",
		},
		[]string{"status"},
	)

	WorkflowDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leadflow_workflow_duration_seconds",
			Help:    "Workflow run duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	WorkflowSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_workflow_steps_total",
			Help: "Total number of executed plan steps by outcome",
		},
		[]string{"outcome"},
	)

	PlanSteps = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leadflow_plan_steps",
			Help:    "Number of steps per generated plan",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
		},
	)

	PlanDegraded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadflow_plan_degraded_total",
			Help: "Total number of plans replaced by the single-step fallback",
		},
	)

	// Tool metrics
	ToolInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_tool_invocations_total",
			Help: "Total number of signed tool invocations by outcome",
		},
		[]string{"tool", "outcome"},
	)

	ToolInvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadflow_tool_invocation_duration_seconds",
			Help:    "Signed tool invocation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// LLM metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_llm_requests_total",
			Help: "Total number of language model requests",
		},
		[]string{"operation", "status"},
	)

	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadflow_llm_latency_seconds",
			Help:    "Language model request latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)

	// Tool service metrics
	AuthRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_auth_rejections_total",
			Help: "Total number of requests rejected by signature authentication",
		},
		[]string{"reason"},
	)

	LeadRelays = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_lead_relays_total",
			Help: "Total number of lead relays to the CRM webhook by outcome",
		},
		[]string{"outcome"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadflow_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"service", "route", "code"},
	)
)

// RecordWorkflowMetrics records metrics for a finished run.
func RecordWorkflowMetrics(status string, durationSeconds float64, planSteps, failedSteps int) {
	WorkflowRuns.WithLabelValues(status).Inc()
	WorkflowDuration.Observe(durationSeconds)
	PlanSteps.Observe(float64(planSteps))
	if succeeded := planSteps - failedSteps; succeeded > 0 {
		WorkflowSteps.WithLabelValues("success").Add(float64(succeeded))
	}
	if failedSteps > 0 {
		WorkflowSteps.WithLabelValues("failure").Add(float64(failedSteps))
	}
}

// RecordToolInvocation records one outbound tool call.
func RecordToolInvocation(tool, outcome string, durationSeconds float64) {
	ToolInvocations.WithLabelValues(tool, outcome).Inc()
	ToolInvocationDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RecordLLMRequest records one language model call.
func RecordLLMRequest(operation, status string, durationSeconds float64) {
	LLMRequests.WithLabelValues(operation, status).Inc()
	if durationSeconds > 0 {
		LLMLatency.WithLabelValues(operation).Observe(durationSeconds)
	}
}
