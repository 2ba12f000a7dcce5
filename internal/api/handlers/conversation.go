package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aiopslab/task-dispatch/internal/store"
	"github.com/aiopslab/task-dispatch/internal/task"
)

// ConversationHandler serves the Conversations section of SPEC_FULL.md §6.
type ConversationHandler struct {
	store *store.Store
}

func NewConversationHandler(s *store.Store) *ConversationHandler {
	return &ConversationHandler{store: s}
}

// List handles GET /api/v1/llm-conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := intParam(q, "limit", 50)
	offset := intParam(q, "offset", 0)

	conversations, err := h.store.ListConversations(r.Context(), limit, offset)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"conversations": conversations})
}

// Get handles GET /api/v1/llm-conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// Messages handles GET /api/v1/llm-conversations/{id}/messages?role=
func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}

	role := r.URL.Query().Get("role")
	messages := c.Messages
	if role != "" {
		filtered := make([]task.Message, 0, len(messages))
		for _, m := range messages {
			if m.Role == role {
				filtered = append(filtered, m)
			}
		}
		messages = filtered
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

// ForTask handles GET /api/v1/llm-conversations/task/{taskID}/conversations
func (h *ConversationHandler) ForTask(w http.ResponseWriter, r *http.Request) {
	conversations, err := h.store.ListConversationsForTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"conversations": conversations})
}

// StatsSummary handles GET /api/v1/llm-conversations/stats/summary
func (h *ConversationHandler) StatsSummary(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.ConversationStats(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
