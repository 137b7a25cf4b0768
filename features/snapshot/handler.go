package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"finsight/internal/apperr"
	"finsight/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Create handles POST /snapshots.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)

	var req struct {
		EventName  string   `json:"event_name"`
		Year       int      `json:"year"`
		Categories []string `json:"categories"`
		Entries    []Entry  `json:"entries"`
		Notes      string   `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	userID, _ := middleware.GetUser(ctx)
	snap := &Snapshot{
		EventName:  req.EventName,
		Year:       req.Year,
		Categories: req.Categories,
		Entries:    req.Entries,
		Notes:      req.Notes,
		CreatedBy:  userID,
	}
	if err := h.service.Create(ctx, snap); err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}

	h.writeJSON(ctx, w, http.StatusCreated, map[string]interface{}{"data": snap})
}

// Import handles POST /snapshots/import: a multipart form carrying an .xlsx
// workbook plus event_name, year, categories (comma separated) and notes.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, 20<<20)

	if err := r.ParseMultipartForm(20 << 20); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "File too large", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "Unable to retrieve file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".xlsx") {
		h.writeError(ctx, w, "VALIDATION_ERROR", "Unsupported file type", http.StatusBadRequest)
		return
	}

	year, err := strconv.Atoi(r.FormValue("year"))
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "year must be a number", http.StatusBadRequest)
		return
	}

	entries, err := ParseWorkbook(file)
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}

	var categories []string
	for _, c := range strings.Split(r.FormValue("categories"), ",") {
		if c = strings.TrimSpace(c); c != "" {
			categories = append(categories, c)
		}
	}

	userID, _ := middleware.GetUser(ctx)
	snap := &Snapshot{
		EventName:  r.FormValue("event_name"),
		Year:       year,
		Categories: categories,
		Entries:    entries,
		Notes:      r.FormValue("notes"),
		CreatedBy:  userID,
	}
	if err := h.service.Create(ctx, snap); err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}

	slog.InfoContext(ctx, "snapshot imported", "source_key", snap.SourceKey, "file", filepath.Base(header.Filename), "entries", len(entries))
	h.writeJSON(ctx, w, http.StatusCreated, map[string]interface{}{"data": snap})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snaps, err := h.service.List(ctx)
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}
	if snaps == nil {
		snaps = []Snapshot{}
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": snaps,
		"meta": map[string]int{"count": len(snaps)},
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	detail, err := h.service.Get(ctx, r.PathValue("key"))
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": detail})
}

// Reprocess handles POST /snapshots/{key}/reprocess. Work happens on the
// ingestion worker; the response only confirms the request was queued.
func (h *Handler) Reprocess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := r.PathValue("key")
	userID, _ := middleware.GetUser(ctx)

	if err := h.service.RequestReprocess(ctx, key, userID); err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusAccepted, map[string]interface{}{
		"data": map[string]string{"source_key": key, "status": "queued"},
	})
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		h.writeError(ctx, w, apperr.Code(err), err.Error(), http.StatusBadRequest)
	case errors.Is(err, apperr.ErrNotFound):
		h.writeError(ctx, w, apperr.Code(err), "Snapshot not found", http.StatusNotFound)
	case errors.Is(err, apperr.ErrAlreadyProcessing):
		h.writeError(ctx, w, apperr.Code(err), err.Error(), http.StatusConflict)
	default:
		slog.ErrorContext(ctx, "snapshot request failed", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
	}
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
