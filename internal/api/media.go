package api

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/vidshelf/internal/catalog"
	"github.com/snarg/vidshelf/internal/media"
)

type MediaHandler struct {
	store   media.Store
	catalog catalog.Lister
}

// NewMediaHandler serves media bytes and related items. lister may be nil
// when no catalog backend is configured.
func NewMediaHandler(store media.Store, lister catalog.Lister) *MediaHandler {
	return &MediaHandler{store: store, catalog: lister}
}

func (h *MediaHandler) Routes(r chi.Router) {
	r.Get("/media/{sourceId}/stream/*", h.Stream)
	r.Head("/media/{sourceId}/stream/*", h.Stream)
	r.Get("/media/{sourceId}/related/*", h.Related)
}

// mediaItem reads the item from the route. The wildcard is still escaped
// when the request path carried escapes.
func mediaItem(r *http.Request) (media.Item, error) {
	rel := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(rel)
		if err != nil {
			return media.Item{}, err
		}
		rel = unescaped
	}
	rel, err := media.CleanRelative(rel)
	if err != nil {
		return media.Item{}, err
	}
	return media.Item{SourceID: chi.URLParam(r, "sourceId"), RelativePath: rel}, nil
}

// Stream proxies the item's bytes, honouring a single-span Range header.
func (h *MediaHandler) Stream(w http.ResponseWriter, r *http.Request) {
	item, err := mediaItem(r)
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid media path", err.Error())
		return
	}

	stream, err := h.store.Open(r.Context(), item, r.Header.Get("Range"))
	if err != nil {
		writeMediaError(w, r, err)
		return
	}
	defer stream.Body.Close()

	w.Header().Set("Content-Type", stream.ContentType)
	w.Header().Set("Accept-Ranges", "bytes")
	if stream.ContentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(stream.ContentLength, 10))
	}
	status := http.StatusOK
	if stream.Partial {
		w.Header().Set("Content-Range", stream.ContentRange)
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}

	if _, err := io.Copy(w, stream.Body); err != nil {
		// Players abort ranges all the time when seeking.
		hlog.FromRequest(r).Debug().Err(err).Str("media", item.Key()).Msg("media stream interrupted")
	}
}

type relatedItem struct {
	media.Item
	Name string `json:"name"`
}

// Related lists other videos next to the item.
func (h *MediaHandler) Related(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		WriteError(w, http.StatusServiceUnavailable, "related items not available")
		return
	}
	item, err := mediaItem(r)
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid media path", err.Error())
		return
	}

	items, err := h.catalog.Related(r.Context(), item)
	if err != nil {
		writeMediaError(w, r, err)
		return
	}
	out := make([]relatedItem, 0, len(items))
	for _, it := range items {
		out = append(out, relatedItem{Item: it, Name: path.Base(it.RelativePath)})
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"items": out,
		"total": len(out),
	})
}

func writeMediaError(w http.ResponseWriter, r *http.Request, err error) {
	var pathErr *media.InvalidPathError
	switch {
	case errors.Is(err, media.ErrNotFound), errors.Is(err, media.ErrUnknownSource):
		WriteError(w, http.StatusNotFound, "media not found")
	case errors.Is(err, media.ErrInvalidRange):
		w.Header().Set("Content-Range", "bytes */*")
		WriteError(w, http.StatusRequestedRangeNotSatisfiable, "invalid range")
	case errors.As(err, &pathErr):
		WriteErrorDetail(w, http.StatusBadRequest, "invalid media path", err.Error())
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("media request failed")
		WriteError(w, http.StatusBadGateway, "media backend error")
	}
}
