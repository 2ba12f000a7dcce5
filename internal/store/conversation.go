package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/aiopslab/task-dispatch/internal/apperror"
	"github.com/aiopslab/task-dispatch/internal/task"
)

type conversationRow struct {
	ID               string          `db:"id"`
	TaskID           string          `db:"task_id"`
	Model            string          `db:"model"`
	Messages         json.RawMessage `db:"messages"`
	TokensPrompt     int             `db:"tokens_prompt"`
	TokensCompletion int             `db:"tokens_completion"`
	CostEstimate     float64         `db:"cost_estimate"`
	Metadata         json.RawMessage `db:"metadata"`
	Success          bool            `db:"success"`
	CreatedAt        time.Time       `db:"created_at"`
}

func (r *conversationRow) toConversation() (*task.Conversation, error) {
	c := &task.Conversation{
		ID:               r.ID,
		TaskID:           r.TaskID,
		Model:            r.Model,
		TokensPrompt:     r.TokensPrompt,
		TokensCompletion: r.TokensCompletion,
		CostEstimate:     r.CostEstimate,
		Success:          r.Success,
		CreatedAt:        r.CreatedAt,
	}
	if len(r.Messages) > 0 {
		if err := json.Unmarshal(r.Messages, &c.Messages); err != nil {
			return nil, err
		}
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &c.Metadata); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// StartConversation creates a new, empty LLMConversation for a task.
func (s *Store) StartConversation(ctx context.Context, taskID, model string, metadata map[string]interface{}) (*task.Conversation, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	meta, err := marshalOrEmpty(metadata)
	if err != nil {
		return nil, err
	}
	c := &task.Conversation{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		Model:     model,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO llm_conversations (id, task_id, model, messages, metadata, created_at)
		VALUES ($1, $2, $3, '[]', $4, $5)`, c.ID, c.TaskID, c.Model, meta, c.CreatedAt)
	if err != nil {
		return nil, apperror.TransientStore(err, "start conversation for task %s", taskID)
	}
	return c, nil
}

// AppendMessage appends one totally-ordered message to a conversation.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg task.Message) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	encoded, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE llm_conversations SET messages = messages || $1::jsonb WHERE id = $2`,
		"["+string(encoded)+"]", conversationID)
	if err != nil {
		return apperror.TransientStore(err, "append message to conversation %s", conversationID)
	}
	return nil
}

// FinalizeConversation records token/cost totals and success at the end of
// an agent session.
func (s *Store) FinalizeConversation(ctx context.Context, conversationID string, tokensPrompt, tokensCompletion int, costEstimate float64, success bool) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		UPDATE llm_conversations
		SET tokens_prompt = $1, tokens_completion = $2, cost_estimate = $3, success = $4
		WHERE id = $5`, tokensPrompt, tokensCompletion, costEstimate, success, conversationID)
	if err != nil {
		return apperror.TransientStore(err, "finalize conversation %s", conversationID)
	}
	return nil
}

// GetConversation fetches a single conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*task.Conversation, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var row conversationRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM llm_conversations WHERE id = $1`, id)
	if isNoRows(err) {
		return nil, apperror.NotFound("conversation %s not found", id)
	}
	if err != nil {
		return nil, apperror.TransientStore(err, "get conversation %s", id)
	}
	return row.toConversation()
}

// ListConversationsForTask returns every conversation recorded for a task.
func (s *Store) ListConversationsForTask(ctx context.Context, taskID string) ([]*task.Conversation, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var rows []conversationRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM llm_conversations WHERE task_id = $1 ORDER BY created_at ASC`, taskID); err != nil {
		return nil, apperror.TransientStore(err, "list conversations for task %s", taskID)
	}
	out := make([]*task.Conversation, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toConversation()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ListConversations returns a page of conversations across all tasks.
func (s *Store) ListConversations(ctx context.Context, limit, offset int) ([]*task.Conversation, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	var rows []conversationRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM llm_conversations ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset); err != nil {
		return nil, apperror.TransientStore(err, "list conversations")
	}
	out := make([]*task.Conversation, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toConversation()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ConversationStatsSummary aggregates totals for GET /llm-conversations/stats/summary.
type ConversationStatsSummary struct {
	Total             int64   `json:"total" db:"total"`
	SuccessCount      int64   `json:"success_count" db:"success_count"`
	TotalTokens       int64   `json:"total_tokens" db:"total_tokens"`
	TotalCostEstimate float64 `json:"total_cost_estimate" db:"total_cost_estimate"`
}

func (s *Store) ConversationStats(ctx context.Context) (*ConversationStatsSummary, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var summary ConversationStatsSummary
	err := s.db.GetContext(ctx, &summary, `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS success_count,
			COALESCE(SUM(tokens_prompt + tokens_completion), 0) AS total_tokens,
			COALESCE(SUM(cost_estimate), 0) AS total_cost_estimate
		FROM llm_conversations`)
	if err != nil {
		return nil, apperror.TransientStore(err, "conversation stats")
	}
	return &summary, nil
}
