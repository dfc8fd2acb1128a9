package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/vidshelf/internal/events"
	"github.com/snarg/vidshelf/internal/session"
	"github.com/snarg/vidshelf/internal/subtitle"
	"github.com/snarg/vidshelf/internal/transcribe"
)

// ElapsedPayload is the body of an elapsed tick.
type ElapsedPayload struct {
	JobID          string  `json:"job_id"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Elapsed        string  `json:"elapsed"`
	Progress       int     `json:"progress"`
}

func elapsedPayload(snap transcribe.Snapshot) ElapsedPayload {
	return ElapsedPayload{
		JobID:          snap.JobID,
		ElapsedSeconds: snap.ElapsedSeconds,
		Elapsed:        subtitle.FormatElapsed(snap.Elapsed()),
		Progress:       snap.Progress,
	}
}

type EventsHandler struct {
	registry *session.Registry
	bus      *events.Bus
	tick     time.Duration
}

func NewEventsHandler(registry *session.Registry, bus *events.Bus) *EventsHandler {
	return &EventsHandler{registry: registry, bus: bus, tick: time.Second}
}

// StreamEvents opens an SSE connection for one session. Snapshots arrive
// through the bus; elapsed ticks are written directly while the job is
// processing and are never replayed.
func (h *EventsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeSessionError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	filter := events.Filter{SessionID: s.ID}

	// Subscribe before reading state so no change falls in between.
	ch, cancel := h.bus.Subscribe(filter)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Replay missed events if Last-Event-ID is provided, otherwise start
	// from the current snapshot.
	if lastEventID := r.Header.Get("Last-Event-ID"); lastEventID != "" {
		for _, e := range h.bus.ReplaySince(lastEventID, filter) {
			writeEvent(w, e)
		}
	} else {
		writeFrame(w, events.TypeSnapshot, s.Snapshot())
	}
	flusher.Flush()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()
	elapsed := time.NewTicker(h.tick)
	defer elapsed.Stop()

	log := hlog.FromRequest(r)
	log.Info().Str("session", s.ID).Msg("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			log.Info().Str("session", s.ID).Msg("SSE client disconnected")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, event)
			flusher.Flush()
			if event.Type == events.TypeClosed {
				return
			}
		case <-elapsed.C:
			snap := s.Snapshot()
			if snap.Status != transcribe.StatusProcessing {
				continue
			}
			writeFrame(w, events.TypeElapsed, elapsedPayload(snap))
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, e events.Event) {
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, e.Data)
}

// writeFrame writes an event that did not come through the bus.
// It carries no id, so a reconnect never resumes from it.
func writeFrame(w http.ResponseWriter, typ string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", typ, data)
}

// Routes registers event routes on the given router.
func (h *EventsHandler) Routes(r chi.Router) {
	r.Get("/sessions/{id}/events", h.StreamEvents)
}
