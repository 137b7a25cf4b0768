package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"finsight/internal/chunk"
	"finsight/internal/middleware"
)

type SnapshotRepo interface {
	Count(ctx context.Context) (int, error)
}

type JobRepo interface {
	Count(ctx context.Context) (int, error)
}

type ChunkStore interface {
	Count(ctx context.Context, status chunk.Status) (int, error)
}

type Handler struct {
	snapshots SnapshotRepo
	jobs      JobRepo
	chunks    ChunkStore
}

func NewHandler(s SnapshotRepo, j JobRepo, c ChunkStore) *Handler {
	return &Handler{snapshots: s, jobs: j, chunks: c}
}

type StatsResponse struct {
	Snapshots   int `json:"snapshots"`
	Chunks      int `json:"chunks"`
	ReadyChunks int `json:"ready_chunks"`
	FailedJobs  int `json:"failed_jobs"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slog.InfoContext(ctx, "getting stats")

	sCount, err := h.snapshots.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count snapshots", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count snapshots", http.StatusInternalServerError)
		return
	}

	jCount, err := h.jobs.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	cCount, err := h.chunks.Count(ctx, "")
	if err != nil {
		slog.ErrorContext(ctx, "failed to count chunks", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count chunks", http.StatusInternalServerError)
		return
	}

	rCount, err := h.chunks.Count(ctx, chunk.StatusReady)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count ready chunks", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count chunks", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Snapshots:   sCount,
		Chunks:      cCount,
		ReadyChunks: rCount,
		FailedJobs:  jCount,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
