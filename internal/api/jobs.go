package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/vidshelf/internal/database"
)

// JobStore lists and forgets remembered jobs. Both *database.DB and
// *session.MemoryJobs implement it.
type JobStore interface {
	ListJobs(ctx context.Context, sourceID string, limit int) ([]database.RememberedJob, error)
	ForgetJob(ctx context.Context, sourceID, relativePath string) error
}

// JobsHandler exposes remembered jobs to operators.
type JobsHandler struct {
	store JobStore
}

func NewJobsHandler(store JobStore) *JobsHandler {
	return &JobsHandler{store: store}
}

func (h *JobsHandler) Routes(r chi.Router) {
	r.Get("/jobs", h.ListJobs)
	r.Delete("/jobs/{sourceId}/*", h.ForgetJob)
}

// ListJobs returns remembered jobs, newest first. ?source= narrows to one
// source and ?limit= caps the result (default 100).
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	source, _ := QueryString(r, "source")
	limit, ok := QueryInt(r, "limit")
	if !ok || limit < 1 {
		limit = 100
	}
	jobs, err := h.store.ListJobs(r.Context(), source, limit)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list remembered jobs failed")
		WriteError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

// ForgetJob drops an item's remembered job so no view resumes it.
func (h *JobsHandler) ForgetJob(w http.ResponseWriter, r *http.Request) {
	item, err := mediaItem(r)
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid media path", err.Error())
		return
	}
	if err := h.store.ForgetJob(r.Context(), item.SourceID, item.RelativePath); err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("media", item.Key()).Msg("forget remembered job failed")
		WriteError(w, http.StatusInternalServerError, "failed to forget job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
