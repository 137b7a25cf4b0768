package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"finsight/internal/apperr"
	"finsight/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

// Ask handles POST /chat. The user comes from the X-User-ID / X-User-Name
// headers, falling back to the body.
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "invalid request body", http.StatusBadRequest)
		return
	}
	if id, name := middleware.GetUser(ctx); id != "" {
		req.UserID = id
		if name != "" {
			req.UserName = name
		}
	}
	if req.UserID != "" {
		ctx = middleware.WithUser(ctx, req.UserID, req.UserName)
	}

	resp, err := h.service.Answer(ctx, req)
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": resp})
}

// History handles GET /chat/history?limit=N.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := middleware.GetUser(ctx)

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(ctx, w, "VALIDATION_ERROR", "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	turns, err := h.service.History(ctx, userID, limit)
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}
	if turns == nil {
		turns = []Turn{}
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": turns,
		"meta": map[string]int{"count": len(turns)},
	})
}

// Clear handles DELETE /chat/history.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := middleware.GetUser(ctx)

	if err := h.service.ClearHistory(ctx, userID); err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, apperr.ErrValidation) {
		h.writeError(ctx, w, apperr.Code(err), err.Error(), http.StatusBadRequest)
		return
	}
	slog.ErrorContext(ctx, "chat request failed", "error", err)
	h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	h.writeJSON(ctx, w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	})
}
