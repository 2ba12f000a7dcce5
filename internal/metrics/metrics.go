// Package metrics exposes Prometheus collectors for the task dispatch
// engine, renamed and re-scoped from the teacher's Redis-stream metrics to
// the store-backed claim/sweep/manager concerns described in SPEC_FULL.md.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskqueue_tasks_submitted_total",
			Help: "Total number of tasks submitted",
		},
		[]string{"problem_id", "backend_type"},
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskqueue_tasks_completed_total",
			Help: "Total number of tasks that reached a terminal state",
		},
		[]string{"problem_id", "status"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskqueue_task_duration_seconds",
			Help:    "Task execution duration in seconds, from claim to terminal state",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~328s
		},
		[]string{"problem_id"},
	)

	TasksTimedOut = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskqueue_tasks_timed_out_total",
			Help: "Total number of tasks expired by the timeout sweeper",
		},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskqueue_queue_depth",
			Help: "Current number of pending tasks, by backend type",
		},
		[]string{"backend_type"},
	)

	ClaimLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskqueue_claim_latency_seconds",
			Help:    "Time spent inside the store's claim transaction",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"backend_type"},
	)

	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskqueue_active_workers",
			Help: "Current number of in-process worker loops",
		},
	)

	WorkersOfflined = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskqueue_workers_offlined_total",
			Help: "Total number of workers marked offline by the liveness sweep",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskqueue_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskqueue_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	EventBusPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskqueue_eventbus_published_total",
			Help: "Total number of events published to the Redis pub/sub bus",
		},
		[]string{"event_type"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskqueue_websocket_connections",
			Help: "Current number of WebSocket connections",
		},
	)

	WebSocketMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskqueue_websocket_messages_total",
			Help: "Total number of WebSocket messages sent",
		},
		[]string{"type"},
	)
)

func RecordTaskSubmission(problemID, backendType string) {
	TasksSubmitted.WithLabelValues(problemID, backendType).Inc()
}

// RecordTaskCompletion records a task reaching a terminal state with its
// full claim-to-terminal duration. status is one of completed/failed/timeout.
func RecordTaskCompletion(problemID, status string, duration float64) {
	TasksCompleted.WithLabelValues(problemID, status).Inc()
	TaskDuration.WithLabelValues(problemID).Observe(duration)
	if status == "timeout" {
		TasksTimedOut.Inc()
	}
}

func UpdateQueueDepth(backendType string, depth float64) {
	QueueDepth.WithLabelValues(backendType).Set(depth)
}

func RecordClaimLatency(backendType string, seconds float64) {
	ClaimLatency.WithLabelValues(backendType).Observe(seconds)
}

func SetActiveWorkers(count float64) {
	ActiveWorkers.Set(count)
}

func RecordWorkersOfflined(count int) {
	WorkersOfflined.Add(float64(count))
}

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration)
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

func RecordEventPublished(eventType string) {
	EventBusPublished.WithLabelValues(eventType).Inc()
}

func SetWebSocketConnections(count float64) {
	WebSocketConnections.Set(count)
}

func RecordWebSocketMessage(msgType string) {
	WebSocketMessages.WithLabelValues(msgType).Inc()
}
