package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/recallstack/recall-server/internal/domain/audit"
	"github.com/recallstack/recall-server/internal/domain/engine"
	"github.com/recallstack/recall-server/internal/domain/memory"
	"github.com/recallstack/recall-server/internal/interfaces/httpserver/responses"
)

// AuditReader lists a user's audit trail. Nil when the audit store is
// disabled.
type AuditReader interface {
	RecentByUser(ctx context.Context, userID string, limit int) ([]audit.Event, error)
}

type MemoryHandler struct {
	engine *engine.Engine
	audits AuditReader
}

func NewMemoryHandler(eng *engine.Engine, audits AuditReader) *MemoryHandler {
	return &MemoryHandler{engine: eng, audits: audits}
}

// AddRequest is the body of POST /v1/memory/add.
type AddRequest struct {
	UserID   string            `json:"user_id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// RetrieveRequest is the body of POST /v1/memory/retrieve.
type RetrieveRequest struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
	K      int    `json:"k,omitempty"`
}

// RetrieveResponse is the result envelope of POST /v1/memory/retrieve.
type RetrieveResponse struct {
	Items    []memory.Item `json:"items"`
	Count    int           `json:"count"`
	Intent   string        `json:"intent"`
	Degraded bool          `json:"degraded"`
}

// DeleteRequest is the body of POST /v1/memory/delete.
type DeleteRequest struct {
	UserID string `json:"user_id"`
	ID     string `json:"id"`
}

// HandleAdd handles POST /v1/memory/add
func (h *MemoryHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	if r.Method != http.MethodPost {
		responses.Error(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error().Err(err).Msg("Failed to decode add request")
		responses.Error(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.UserID == "" {
		responses.Error(w, r, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.Content == "" {
		responses.Error(w, r, http.StatusBadRequest, "content is required")
		return
	}

	result, err := h.engine.Add(r.Context(), req.UserID, req.Content, req.Metadata)
	if err != nil {
		if errors.Is(err, engine.ErrEmptyContent) || errors.Is(err, engine.ErrEmptyUserID) {
			responses.Error(w, r, http.StatusBadRequest, err.Error())
			return
		}
		logger.Error().Err(err).Msg("Failed to add memory")
		responses.Error(w, r, http.StatusInternalServerError, "failed to add memory")
		return
	}

	responses.JSON(w, r, http.StatusOK, result)
}

// HandleRetrieve handles POST /v1/memory/retrieve
func (h *MemoryHandler) HandleRetrieve(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	if r.Method != http.MethodPost {
		responses.Error(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error().Err(err).Msg("Failed to decode retrieve request")
		responses.Error(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.UserID == "" {
		responses.Error(w, r, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.Query == "" {
		responses.Error(w, r, http.StatusBadRequest, "query is required")
		return
	}

	result, err := h.engine.Retrieve(r.Context(), req.UserID, req.Query, req.K)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to retrieve memories")
		responses.Error(w, r, http.StatusInternalServerError, "failed to retrieve memories")
		return
	}

	items := result.Items
	if items == nil {
		items = []memory.Item{}
	}
	responses.JSON(w, r, http.StatusOK, RetrieveResponse{
		Items:    items,
		Count:    len(items),
		Intent:   string(result.Intent),
		Degraded: result.Degraded,
	})
}

// HandleCategory handles GET /v1/memory/category?user_id=&category=&tier=
func (h *MemoryHandler) HandleCategory(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	if r.Method != http.MethodGet {
		responses.Error(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	userID := r.URL.Query().Get("user_id")
	category := r.URL.Query().Get("category")
	tier := r.URL.Query().Get("tier")

	if userID == "" {
		responses.Error(w, r, http.StatusBadRequest, "user_id is required")
		return
	}
	if category == "" {
		responses.Error(w, r, http.StatusBadRequest, "category is required")
		return
	}

	items, err := h.engine.GetByCategory(r.Context(), userID, category, tier)
	if err != nil {
		logger.Warn().Err(err).Str("category", category).Msg("Category listing failed")
		responses.Error(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if items == nil {
		items = []memory.Item{}
	}
	responses.JSON(w, r, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

// HandleStats handles GET /v1/memory/stats?user_id=
func (h *MemoryHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	if r.Method != http.MethodGet {
		responses.Error(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		responses.Error(w, r, http.StatusBadRequest, "user_id is required")
		return
	}

	stats, err := h.engine.Statistics(r.Context(), userID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to compute statistics")
		responses.Error(w, r, http.StatusInternalServerError, "failed to compute statistics")
		return
	}

	responses.JSON(w, r, http.StatusOK, stats)
}

// HandleDelete handles POST and DELETE /v1/memory/delete
func (h *MemoryHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		responses.Error(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req DeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error().Err(err).Msg("Failed to decode delete request")
		responses.Error(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.UserID == "" {
		responses.Error(w, r, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.ID == "" {
		responses.Error(w, r, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.engine.Delete(r.Context(), req.UserID, req.ID); err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			responses.Error(w, r, http.StatusNotFound, "memory item not found")
			return
		}
		logger.Error().Err(err).Msg("Failed to delete memory")
		responses.Error(w, r, http.StatusInternalServerError, "failed to delete memory")
		return
	}

	responses.JSON(w, r, http.StatusOK, map[string]interface{}{
		"status": "deleted",
		"id":     req.ID,
	})
}

// HandleAudit handles GET /v1/memory/audit?user_id=&limit=
func (h *MemoryHandler) HandleAudit(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	if r.Method != http.MethodGet {
		responses.Error(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.audits == nil {
		responses.Error(w, r, http.StatusNotFound, "audit trail is disabled")
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		responses.Error(w, r, http.StatusBadRequest, "user_id is required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			responses.Error(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	events, err := h.audits.RecentByUser(r.Context(), userID, limit)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list audit events")
		responses.Error(w, r, http.StatusInternalServerError, "failed to list audit events")
		return
	}

	if events == nil {
		events = []audit.Event{}
	}
	responses.JSON(w, r, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}
