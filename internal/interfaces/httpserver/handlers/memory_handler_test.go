package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallstack/recall-server/internal/domain/audit"
	"github.com/recallstack/recall-server/internal/interfaces/httpserver/handlers"
)

type fakeAuditReader struct {
	events []audit.Event
	err    error
	limit  int
}

func (f *fakeAuditReader) RecentByUser(ctx context.Context, userID string, limit int) ([]audit.Event, error) {
	f.limit = limit
	return f.events, f.err
}

func TestHandleAdd_Validation(t *testing.T) {
	h := handlers.NewMemoryHandler(nil, nil)

	tests := []struct {
		name   string
		method string
		body   string
		status int
	}{
		{"method not allowed", http.MethodGet, `{}`, http.StatusMethodNotAllowed},
		{"invalid body", http.MethodPost, `{not json`, http.StatusBadRequest},
		{"missing user_id", http.MethodPost, `{"content":"remember this"}`, http.StatusBadRequest},
		{"missing content", http.MethodPost, `{"user_id":"u1"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/v1/memory/add", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			h.HandleAdd(rec, req)

			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestHandleRetrieve_Validation(t *testing.T) {
	h := handlers.NewMemoryHandler(nil, nil)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"missing user_id", `{"query":"where are my notes"}`, http.StatusBadRequest},
		{"missing query", `{"user_id":"u1"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/memory/retrieve", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			h.HandleRetrieve(rec, req)

			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestHandleCategory_RequiresParams(t *testing.T) {
	h := handlers.NewMemoryHandler(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/memory/category?user_id=u1", nil)
	rec := httptest.NewRecorder()
	h.HandleCategory(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/memory/category?category=task", nil)
	rec = httptest.NewRecorder()
	h.HandleCategory(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAudit(t *testing.T) {
	reader := &fakeAuditReader{
		events: []audit.Event{
			{ID: "ev-1", UserID: "u1", Kind: audit.KindMerge, ItemID: "m1"},
		},
	}
	h := handlers.NewMemoryHandler(nil, reader)

	req := httptest.NewRequest(http.MethodGet, "/v1/memory/audit?user_id=u1&limit=5", nil)
	rec := httptest.NewRecorder()

	h.HandleAudit(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, reader.limit)

	var resp struct {
		Events []audit.Event `json:"events"`
		Count  int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "ev-1", resp.Events[0].ID)
}

func TestHandleAudit_Disabled(t *testing.T) {
	h := handlers.NewMemoryHandler(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/memory/audit?user_id=u1", nil)
	rec := httptest.NewRecorder()

	h.HandleAudit(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleAudit_BadLimit(t *testing.T) {
	h := handlers.NewMemoryHandler(nil, &fakeAuditReader{})

	req := httptest.NewRequest(http.MethodGet, "/v1/memory/audit?user_id=u1&limit=nope", nil)
	rec := httptest.NewRecorder()

	h.HandleAudit(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
