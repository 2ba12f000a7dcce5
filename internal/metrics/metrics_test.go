package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistration(t *testing.T) {
	assert.NotNil(t, TasksSubmitted)
	assert.NotNil(t, TasksCompleted)
	assert.NotNil(t, TaskDuration)
	assert.NotNil(t, TasksTimedOut)

	assert.NotNil(t, QueueDepth)
	assert.NotNil(t, ClaimLatency)

	assert.NotNil(t, ActiveWorkers)
	assert.NotNil(t, WorkersOfflined)

	assert.NotNil(t, HTTPRequestDuration)
	assert.NotNil(t, HTTPRequestsTotal)

	assert.NotNil(t, EventBusPublished)

	assert.NotNil(t, WebSocketConnections)
	assert.NotNil(t, WebSocketMessages)
}

func TestRecordTaskSubmission(t *testing.T) {
	TasksSubmitted.Reset()

	RecordTaskSubmission("chaos-101", "internal")
	RecordTaskSubmission("chaos-101", "orchestrator")
}

func TestRecordTaskCompletionTracksTimeouts(t *testing.T) {
	TasksCompleted.Reset()
	TaskDuration.Reset()
	TasksTimedOut.Add(0)

	RecordTaskCompletion("chaos-101", "completed", 1.5)
	RecordTaskCompletion("chaos-101", "failed", 0.5)
	RecordTaskCompletion("chaos-101", "timeout", 120)
}

func TestUpdateQueueDepth(t *testing.T) {
	QueueDepth.Reset()

	UpdateQueueDepth("internal", 100)
	UpdateQueueDepth("orchestrator", 5)
}

func TestRecordClaimLatency(t *testing.T) {
	ClaimLatency.Reset()

	RecordClaimLatency("internal", 0.001)
	RecordClaimLatency("orchestrator", 0.05)
}

func TestSetActiveWorkers(t *testing.T) {
	SetActiveWorkers(5)
	SetActiveWorkers(10)
	SetActiveWorkers(0)
}

func TestRecordWorkersOfflined(t *testing.T) {
	WorkersOfflined.Add(0)

	RecordWorkersOfflined(2)
	RecordWorkersOfflined(1)
}

func TestRecordHTTPRequest(t *testing.T) {
	HTTPRequestDuration.Reset()
	HTTPRequestsTotal.Reset()

	RecordHTTPRequest("GET", "/api/v1/tasks", "200", 0.05)
	RecordHTTPRequest("POST", "/api/v1/tasks", "201", 0.1)
	RecordHTTPRequest("GET", "/api/v1/tasks/123", "404", 0.01)
}

func TestRecordEventPublished(t *testing.T) {
	EventBusPublished.Reset()

	RecordEventPublished("task.submitted")
	RecordEventPublished("worker.joined")
}

func TestSetWebSocketConnections(t *testing.T) {
	SetWebSocketConnections(0)
	SetWebSocketConnections(10)
	SetWebSocketConnections(5)
}

func TestRecordWebSocketMessage(t *testing.T) {
	WebSocketMessages.Reset()

	RecordWebSocketMessage("task.submitted")
	RecordWebSocketMessage("task.completed")
	RecordWebSocketMessage("worker.joined")
}
