package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/vidshelf/internal/events"
	"github.com/snarg/vidshelf/internal/session"
	"github.com/snarg/vidshelf/internal/subtitle"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsMaxMessage = 4096
)

// PlayerMessage is sent by the player over the WebSocket.
type PlayerMessage struct {
	Type  string  `json:"type"` // "position" or "select"
	T     float64 `json:"t,omitempty"`
	Index int     `json:"index,omitempty"`
}

// ServerMessage is sent to the player over the WebSocket.
type ServerMessage struct {
	Type     string            `json:"type"` // "subtitle", "seek", "snapshot", "closed", "error"
	Subtitle *subtitleResponse `json:"subtitle,omitempty"`
	Index    *int              `json:"index,omitempty"`
	SeekTo   *float64          `json:"seek_to,omitempty"`
	Snapshot json.RawMessage   `json:"snapshot,omitempty"`
	Error    string            `json:"error,omitempty"`
}

type WSHandler struct {
	registry *session.Registry
	bus      *events.Bus
	upgrader websocket.Upgrader
}

// NewWSHandler serves the player feed. Upgrades are accepted from the same
// origins CORS allows.
func NewWSHandler(registry *session.Registry, bus *events.Bus, origins []string) *WSHandler {
	return &WSHandler{
		registry: registry,
		bus:      bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(origins, r)
			},
		},
	}
}

func (h *WSHandler) Routes(r chi.Router) {
	r.Get("/sessions/{id}/ws", h.Serve)
}

// Serve upgrades to a WebSocket that follows playback position. The player
// reports positions and segment clicks; the gateway answers with subtitle
// changes, seek targets and job snapshots. Only this goroutine writes.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeSessionError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		hlog.FromRequest(r).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := hlog.FromRequest(r).With().Str("session", s.ID).Logger()
	log.Info().Msg("websocket client connected")

	ch, cancel := h.bus.Subscribe(events.Filter{SessionID: s.ID, Types: []string{events.TypeSnapshot, events.TypeClosed}})
	defer cancel()

	inbound := make(chan PlayerMessage, 16)
	readDone := make(chan struct{})
	go readPump(conn, inbound, readDone, log)

	follower := subtitle.NewFollower(s.Track())
	lastPos := -1.0

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	if raw, err := json.Marshal(s.Snapshot()); err == nil {
		if !writeWS(conn, ServerMessage{Type: events.TypeSnapshot, Snapshot: raw}) {
			return
		}
	}

	for {
		select {
		case <-readDone:
			log.Info().Msg("websocket client disconnected")
			return

		case msg := <-inbound:
			var out *ServerMessage
			switch msg.Type {
			case "position":
				lastPos = msg.T
				if _, changed := follower.Update(msg.T); changed {
					sub := activeSubtitle(s, msg.T)
					out = &ServerMessage{Type: "subtitle", Subtitle: &sub}
				}
			case "select":
				seekTo, err := s.Select(msg.Index)
				if err != nil {
					out = &ServerMessage{Type: "error", Error: err.Error()}
					break
				}
				idx := msg.Index
				out = &ServerMessage{Type: "seek", Index: &idx, SeekTo: &seekTo}
			default:
				out = &ServerMessage{Type: "error", Error: "unknown message type " + msg.Type}
			}
			if out != nil && !writeWS(conn, *out) {
				return
			}

		case event, ok := <-ch:
			if !ok {
				return
			}
			if event.Type == events.TypeClosed {
				writeWS(conn, ServerMessage{Type: events.TypeClosed})
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(wsWriteWait))
				return
			}
			follower.SetTrack(s.Track())
			if !writeWS(conn, ServerMessage{Type: events.TypeSnapshot, Snapshot: event.Data}) {
				return
			}
			if lastPos >= 0 {
				if _, changed := follower.Update(lastPos); changed {
					sub := activeSubtitle(s, lastPos)
					if !writeWS(conn, ServerMessage{Type: "subtitle", Subtitle: &sub}) {
						return
					}
				}
			}

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump decodes player messages until the connection fails.
func readPump(conn *websocket.Conn, out chan<- PlayerMessage, done chan<- struct{}, log zerolog.Logger) {
	defer close(done)
	conn.SetReadLimit(wsMaxMessage)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		var msg PlayerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}
		select {
		case out <- msg:
		default:
			// Dropped while the writer is behind.
		}
	}
}

func writeWS(conn *websocket.Conn, msg ServerMessage) bool {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(msg) == nil
}
