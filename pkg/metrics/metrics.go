package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_jobs_consumed_total",
			Help: "Total number of workflow jobs dequeued",
		},
		[]string{"trigger"},
	)

	JobRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "workflow_job_retries_total",
			Help: "Total number of retryable job failures requeued",
		},
	)

	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_executions_total",
			Help: "Total number of workflow executions by outcome",
		},
		[]string{"status"},
	)

	ExecutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "workflow_execution_duration_seconds",
			Help:    "Workflow execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	NodeExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_node_executions_total",
			Help: "Total number of node executions by type and outcome",
		},
		[]string{"node_type", "status"},
	)

	NodeExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workflow_node_execution_duration_seconds",
			Help:    "Node execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"node_type"},
	)
)

// RecordExecution records one finished run.
func RecordExecution(status string, durationSec float64) {
	ExecutionsTotal.WithLabelValues(status).Inc()
	ExecutionDuration.Observe(durationSec)
}

// RecordNode records one node invocation.
func RecordNode(nodeType, status string, durationSec float64) {
	NodeExecutionsTotal.WithLabelValues(nodeType, status).Inc()
	NodeExecutionDuration.WithLabelValues(nodeType).Observe(durationSec)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
