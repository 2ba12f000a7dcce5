package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiopslab/task-dispatch/internal/logger"
)

func init() {
	logger.Init("error", false)
}

func TestTaskHandler_Create_InvalidJSON(t *testing.T) {
	h := &TaskHandler{}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", bytes.NewBufferString("not json"))
	w := httptest.NewRecorder()

	h.Create(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "validation_error", body.Error.Kind)
}

func TestTaskHandler_Create_MissingProblemID(t *testing.T) {
	h := &TaskHandler{}

	reqBody, _ := json.Marshal(map[string]interface{}{"parameters": map[string]interface{}{}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", bytes.NewReader(reqBody))
	w := httptest.NewRecorder()

	h.Create(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body.Error.Message, "problem_id")
}

func TestIntParamFallsBackOnInvalidValue(t *testing.T) {
	q := httptest.NewRequest(http.MethodGet, "/?limit=abc&offset=-5", nil).URL.Query()

	assert.Equal(t, 50, intParam(q, "limit", 50))
	assert.Equal(t, 0, intParam(q, "offset", 0))
}

func TestIntParamUsesProvidedValue(t *testing.T) {
	q := httptest.NewRequest(http.MethodGet, "/?limit=10", nil).URL.Query()

	assert.Equal(t, 10, intParam(q, "limit", 50))
}
