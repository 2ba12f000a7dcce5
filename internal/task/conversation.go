package task

import "time"

// Message is a single turn in an LLMConversation, totally ordered within it.
type Message struct {
	Role      string                   `json:"role"`
	Content   string                   `json:"content"`
	Timestamp time.Time                `json:"timestamp"`
	ToolCalls []map[string]interface{} `json:"tool_calls,omitempty"`
}

// Conversation is one agent session recorded while executing a Task.
type Conversation struct {
	ID               string                 `json:"conversation_id" db:"id"`
	TaskID           string                 `json:"task_id" db:"task_id"`
	Model            string                 `json:"model" db:"model"`
	Messages         []Message             `json:"messages" db:"messages"`
	TokensPrompt     int                    `json:"tokens_prompt" db:"tokens_prompt"`
	TokensCompletion int                    `json:"tokens_completion" db:"tokens_completion"`
	CostEstimate     float64                `json:"cost_estimate" db:"cost_estimate"`
	Metadata         map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	Success          bool                   `json:"success" db:"success"`
	CreatedAt        time.Time              `json:"created_at" db:"created_at"`
}

// ClusterID derives the opaque kind-cluster identifier for a worker. See the
// open question resolved in SPEC_FULL.md §9: a 1:1 worker-to-cluster mapping.
func ClusterID(workerID string) string {
	return "cluster-" + workerID
}
