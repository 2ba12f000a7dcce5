package events

import (
	"context"
	"encoding/json"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// Task events
	EventTaskSubmitted EventType = "task.submitted"
	EventTaskStarted   EventType = "task.started"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"
	EventTaskTimeout   EventType = "task.timeout"
	EventTaskCancelled EventType = "task.cancelled"

	// Worker events
	EventWorkerJoined EventType = "worker.joined"
	EventWorkerLeft   EventType = "worker.left"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType EventType, data map[string]interface{}) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// ToJSON serializes the event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON deserializes an event from JSON
func FromJSON(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// Publisher defines the interface for event publishers
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Subscribe(ctx context.Context, eventTypes ...EventType) (<-chan *Event, error)
	Close() error
}

// Subscriber represents an event subscriber
type Subscriber interface {
	OnEvent(event *Event)
	EventTypes() []EventType
}

// TaskEventData creates event data for task events
func TaskEventData(taskID, problemID, backendType string, extra map[string]interface{}) map[string]interface{} {
	data := map[string]interface{}{
		"task_id":      taskID,
		"problem_id":   problemID,
		"backend_type": backendType,
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

// WorkerEventData creates event data for worker events
func WorkerEventData(workerID, state string, extra map[string]interface{}) map[string]interface{} {
	data := map[string]interface{}{
		"worker_id": workerID,
		"state":     state,
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}
