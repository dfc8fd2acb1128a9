package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/vidshelf/internal/config"
	"github.com/snarg/vidshelf/internal/media"
	"github.com/snarg/vidshelf/internal/transcribe"
)

// Session is one open player view.
type Session struct {
	ID       string
	OpenedAt time.Time

	*Coordinator
}

// Options configures a Registry.
type Options struct {
	Jobs       JobService
	Memory     JobMemory
	Transcribe config.TranscribeConfig
	Poll       config.PollConfig

	// OnChange sees every snapshot of every session. It must not block.
	OnChange func(s *Session, snap transcribe.Snapshot)
	// OnClose is called after a session is torn down.
	OnClose func(s *Session)
	OnPoll   func(err error)
	OnSubmit func(err error)

	Log zerolog.Logger
	Now func() time.Time
}

// Stats is a point-in-time count of registry state.
type Stats struct {
	Sessions   int `json:"sessions"`
	Processing int `json:"processing"`
	Claims     int `json:"claims"`
}

// Registry holds the open sessions.
type Registry struct {
	opts   Options
	claims *Claims
	log    zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(opts Options) *Registry {
	if opts.Memory == nil {
		opts.Memory = NewMemoryJobs()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		opts:     opts,
		claims:   NewClaims(),
		log:      opts.Log,
		sessions: make(map[string]*Session),
	}
}

// Open creates a session for item and activates it.
func (r *Registry) Open(ctx context.Context, item media.Item) (*Session, transcribe.Snapshot, error) {
	if !item.Valid() {
		return nil, transcribe.Snapshot{}, fmt.Errorf("open session: invalid media item %q", item.Key())
	}

	s := &Session{ID: uuid.NewString(), OpenedAt: r.opts.Now()}
	s.Coordinator = NewCoordinator(CoordinatorOptions{
		Item:       item,
		Jobs:       r.opts.Jobs,
		Memory:     r.opts.Memory,
		Transcribe: r.opts.Transcribe,
		Poll:       r.opts.Poll,
		Claims:     r.claims,
		Owner:      s.ID,
		OnChange: func(snap transcribe.Snapshot) {
			if r.opts.OnChange != nil {
				r.opts.OnChange(s, snap)
			}
		},
		OnPoll:   r.opts.OnPoll,
		OnSubmit: r.opts.OnSubmit,
		Log:      r.log.With().Str("session", s.ID).Logger(),
		Now:      r.opts.Now,
	})

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	snap, err := s.Activate(ctx)
	if err != nil {
		// Never announced, so no OnClose.
		r.mu.Lock()
		delete(r.sessions, s.ID)
		r.mu.Unlock()
		s.Coordinator.Close()
		return nil, transcribe.Snapshot{}, err
	}

	r.log.Info().
		Str("session", s.ID).
		Str("media", item.Key()).
		Str("status", string(snap.Status)).
		Msg("session opened")
	return s, snap, nil
}

// Get returns an open session.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close tears a session down. Polling stops; the job itself is left to
// the Job Service.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	s.Coordinator.Close()
	if r.opts.OnClose != nil {
		r.opts.OnClose(s)
	}
	r.log.Info().Str("session", id).Str("media", s.Item().Key()).Msg("session closed")
	return nil
}

// CloseAll tears every session down, for shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Coordinator.Close()
		if r.opts.OnClose != nil {
			r.opts.OnClose(s)
		}
	}
	if len(sessions) > 0 {
		r.log.Info().Int("sessions", len(sessions)).Msg("all sessions closed")
	}
}

// List returns the open sessions, oldest first.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := Stats{Sessions: len(r.sessions), Claims: r.claims.Len()}
	for _, s := range r.sessions {
		if s.Snapshot().Status == transcribe.StatusProcessing {
			st.Processing++
		}
	}
	return st
}

// SessionCount and PollingCount report live gauges to the metrics collector.
func (r *Registry) SessionCount() int { return r.Stats().Sessions }
func (r *Registry) PollingCount() int { return r.Stats().Processing }
