package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/vidshelf/internal/catalog"
	"github.com/snarg/vidshelf/internal/config"
	"github.com/snarg/vidshelf/internal/events"
	"github.com/snarg/vidshelf/internal/media"
	"github.com/snarg/vidshelf/internal/metrics"
	"github.com/snarg/vidshelf/internal/session"
)

// ServerOptions wires the gateway's handlers. Catalog may be nil.
type ServerOptions struct {
	Config   *config.Config
	Registry *session.Registry
	Bus      *events.Bus
	Media    media.Store
	Catalog  catalog.Lister
	Jobs     JobStore
	Health   *HealthHandler
	Log      zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// NewRouter builds the gateway's HTTP routes.
func NewRouter(opts ServerOptions) http.Handler {
	cfg := opts.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(metrics.InstrumentHandler)
	r.Use(CORSWithOrigins(cfg.CORSOrigins))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Health endpoint, no auth
		if opts.Health != nil {
			r.Get("/health", opts.Health.ServeHTTP)
		}

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(cfg.AuthToken))

			r.Get("/options", NewOptionsHandler(cfg.Transcribe, cfg.Poll).ServeHTTP)
			NewSessionsHandler(opts.Registry, cfg.Media.Sources).Routes(r)
			NewEventsHandler(opts.Registry, opts.Bus).Routes(r)
			NewWSHandler(opts.Registry, opts.Bus, cfg.CORSOrigins).Routes(r)
			if opts.Media != nil {
				NewMediaHandler(opts.Media, opts.Catalog).Routes(r)
			}

			// Operator routes refuse to run open.
			if opts.Jobs != nil {
				r.Group(func(r chi.Router) {
					r.Use(RequireAuth(cfg.AuthToken))
					NewJobsHandler(opts.Jobs).Routes(r)
				})
			}
		})
	})

	return r
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      NewRouter(opts),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: opts.Log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
