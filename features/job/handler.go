package job

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"finsight/internal/apperr"
	"finsight/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

// List handles GET /jobs/failed, optionally narrowed with ?source_key=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sourceKey := r.URL.Query().Get("source_key")

	jobs, err := h.service.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list jobs", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	out := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		if sourceKey == "" || j.SourceKey == sourceKey {
			out = append(out, j)
		}
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": out,
		"meta": map[string]int{"count": len(out)},
	})
}

// Retry handles POST /jobs/{id}/retry. The snapshot is rebuilt by the
// ingestion worker, so the response only confirms the task was queued.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	j, err := h.service.Retry(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrNotFound):
		h.writeError(ctx, w, apperr.Code(err), "Job not found", http.StatusNotFound)
		return
	case errors.Is(err, ErrPublishTimeout):
		slog.WarnContext(ctx, "retry not queued", "id", id, "error", err)
		h.writeError(ctx, w, "UNAVAILABLE", "Queue unavailable, try again", http.StatusServiceUnavailable)
		return
	default:
		slog.ErrorContext(ctx, "failed to retry job", "id", id, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(ctx, w, http.StatusAccepted, map[string]interface{}{
		"data": map[string]string{"id": id, "source_key": j.SourceKey, "status": "queued"},
	})
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
