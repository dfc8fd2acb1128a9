package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/vidshelf/internal/jobclient"
	"github.com/snarg/vidshelf/internal/media"
	"github.com/snarg/vidshelf/internal/session"
	"github.com/snarg/vidshelf/internal/subtitle"
	"github.com/snarg/vidshelf/internal/transcribe"
)

type SessionsHandler struct {
	registry *session.Registry
	sources  map[string]string
}

// NewSessionsHandler serves player sessions. sources maps a source id to
// its root and is used when a client sends a full path without a root.
func NewSessionsHandler(registry *session.Registry, sources map[string]string) *SessionsHandler {
	return &SessionsHandler{registry: registry, sources: sources}
}

func (h *SessionsHandler) Routes(r chi.Router) {
	r.Post("/sessions", h.OpenSession)
	r.Get("/sessions", h.ListSessions)
	r.Get("/sessions/{id}", h.GetSession)
	r.Delete("/sessions/{id}", h.CloseSession)
	r.Post("/sessions/{id}/cancel", h.CloseSession)
	r.Post("/sessions/{id}/transcribe", h.Transcribe)
	r.Get("/sessions/{id}/subtitle", h.GetSubtitle)
	r.Post("/sessions/{id}/segments/{index}/select", h.SelectSegment)
	r.Get("/sessions/{id}/transcript.txt", h.ExportText)
	r.Get("/sessions/{id}/subtitles.srt", h.ExportSRT)
	r.Get("/sessions/{id}/subtitles.vtt", h.ExportVTT)
}

// OpenRequest identifies the item a player is about to show, either by its
// relative path or by a full path plus the source root it lives under.
type OpenRequest struct {
	SourceID     string `json:"source_id"`
	RelativePath string `json:"relative_path"`
	FullPath     string `json:"full_path"`
	SourceRoot   string `json:"source_root"`
}

// resolveItem derives the media identity from an open request.
func (h *SessionsHandler) resolveItem(req OpenRequest) (media.Item, error) {
	if req.SourceID == "" {
		return media.Item{}, errors.New("source_id is required")
	}
	if req.RelativePath != "" {
		rel, err := media.CleanRelative(req.RelativePath)
		if err != nil {
			return media.Item{}, err
		}
		return media.Item{SourceID: req.SourceID, RelativePath: rel}, nil
	}
	if req.FullPath == "" {
		return media.Item{}, errors.New("relative_path or full_path is required")
	}
	root := req.SourceRoot
	if root == "" {
		root = h.sources[req.SourceID]
	}
	rel := media.SoftRelativePath(req.FullPath, root)
	if rel == "" {
		return media.Item{}, fmt.Errorf("cannot derive a media identifier from %q under %q", req.FullPath, root)
	}
	return media.Item{SourceID: req.SourceID, RelativePath: rel}, nil
}

type sessionResponse struct {
	SessionID string              `json:"session_id"`
	Media     media.Item          `json:"media"`
	OpenedAt  time.Time           `json:"opened_at"`
	Snapshot  transcribe.Snapshot `json:"snapshot"`
	Elapsed   string              `json:"elapsed"`
}

func newSessionResponse(s *session.Session, snap transcribe.Snapshot) sessionResponse {
	return sessionResponse{
		SessionID: s.ID,
		Media:     s.Item(),
		OpenedAt:  s.OpenedAt,
		Snapshot:  snap,
		Elapsed:   subtitle.FormatElapsed(snap.Elapsed()),
	}
}

// OpenSession creates a view for an item and restores or resumes its
// transcript.
func (h *SessionsHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	item, err := h.resolveItem(req)
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid media item", err.Error())
		return
	}

	s, snap, err := h.registry.Open(r.Context(), item)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, newSessionResponse(s, snap))
}

// ListSessions returns every open view, oldest first.
func (h *SessionsHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.registry.List()
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, newSessionResponse(s, s.Snapshot()))
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"sessions": out,
		"total":    len(out),
	})
}

func (h *SessionsHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, newSessionResponse(s, s.Snapshot()))
}

// CloseSession tears the view down. A job still processing keeps running
// on the Job Service and is resumed by the next view of the item.
func (h *SessionsHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Close(chi.URLParam(r, "id")); err != nil {
		writeSessionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Transcribe submits a new job for the session's item.
func (h *SessionsHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req session.SubmitRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	snap, err := s.Submit(r.Context(), req)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, newSessionResponse(s, snap))
}

type subtitleResponse struct {
	Active  bool                `json:"active"`
	Index   int                 `json:"index"`
	Segment *transcribe.Segment `json:"segment,omitempty"`
	Label   string              `json:"label,omitempty"`
}

func activeSubtitle(s *session.Session, t float64) subtitleResponse {
	idx, seg, ok := s.Subtitle(t)
	if !ok {
		return subtitleResponse{Index: -1}
	}
	return subtitleResponse{Active: true, Index: idx, Segment: &seg, Label: subtitle.FormatClock(seg.Start)}
}

// GetSubtitle returns the segment on screen at ?t= seconds.
func (h *SessionsHandler) GetSubtitle(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	t, ok := QueryFloat(r, "t")
	if !ok {
		WriteError(w, http.StatusBadRequest, "query parameter t (seconds) is required")
		return
	}
	WriteJSON(w, http.StatusOK, activeSubtitle(s, t))
}

// SelectSegment returns where the player should seek for a clicked segment.
func (h *SessionsHandler) SelectSegment(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	idx, err := PathInt(r, "index")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid segment index")
		return
	}
	seekTo, err := s.Select(idx)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"index":   idx,
		"seek_to": seekTo,
	})
}

func (h *SessionsHandler) ExportText(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "txt", "text/plain; charset=utf-8", func(snap transcribe.Snapshot, buf *bytes.Buffer) error {
		if len(snap.Segments) == 0 {
			buf.WriteString(snap.Text)
			return nil
		}
		buf.WriteString(subtitle.PlainText(snap.Segments))
		return nil
	})
}

func (h *SessionsHandler) ExportSRT(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "srt", "application/x-subrip; charset=utf-8", func(snap transcribe.Snapshot, buf *bytes.Buffer) error {
		return subtitle.WriteSRT(buf, snap.Segments)
	})
}

func (h *SessionsHandler) ExportVTT(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "vtt", "text/vtt; charset=utf-8", func(snap transcribe.Snapshot, buf *bytes.Buffer) error {
		return subtitle.WriteVTT(buf, snap.Segments)
	})
}

// export renders a finished transcript as a download named after the item.
func (h *SessionsHandler) export(w http.ResponseWriter, r *http.Request, ext, contentType string, render func(transcribe.Snapshot, *bytes.Buffer) error) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	snap := s.Snapshot()
	if snap.Status != transcribe.StatusSuccess {
		WriteErrorDetail(w, http.StatusConflict, "transcript not ready", "status is "+string(snap.Status))
		return
	}

	var buf bytes.Buffer
	if err := render(snap, &buf); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("transcript export failed")
		WriteError(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportName(s.Item(), ext)))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// exportName is the item's base name with its extension swapped.
func exportName(item media.Item, ext string) string {
	base := path.Base(item.RelativePath)
	base = strings.TrimSuffix(base, path.Ext(base))
	if base == "" || base == "." || base == "/" {
		base = "transcript"
	}
	return base + "." + ext
}

func (h *SessionsHandler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeSessionError(w, r, err)
		return nil, false
	}
	return s, true
}

// writeSessionError maps session, engine and Job Service errors to HTTP.
func writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		submitErr  *jobclient.SubmissionError
		pathErr    *media.InvalidPathError
		inProgress *transcribe.AlreadyInProgressError
	)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		WriteError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, transcribe.ErrClosed):
		WriteError(w, http.StatusGone, "session closed")
	case errors.Is(err, session.ErrUnsupportedLanguage), errors.Is(err, session.ErrUnsupportedModel):
		WriteErrorDetail(w, http.StatusBadRequest, "unsupported option", err.Error())
	case errors.As(err, &inProgress):
		WriteJSON(w, http.StatusConflict, map[string]any{
			"error":  "already_in_progress",
			"detail": err.Error(),
			"job_id": inProgress.JobID,
		})
	case errors.Is(err, session.ErrConfirmationRequired):
		WriteErrorDetail(w, http.StatusConflict, "confirmation_required", err.Error())
	case errors.Is(err, subtitle.ErrSegmentOutOfRange):
		WriteError(w, http.StatusNotFound, "segment not found")
	case errors.As(err, &pathErr):
		WriteErrorDetail(w, http.StatusBadRequest, "invalid media item", err.Error())
	case errors.As(err, &submitErr):
		detail := submitErr.Detail
		if detail == "" {
			detail = submitErr.Error()
		}
		WriteErrorDetail(w, http.StatusBadGateway, "transcription submission failed", detail)
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("session request failed")
		WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
