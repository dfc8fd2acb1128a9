package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/snarg/vidshelf"
	"github.com/snarg/vidshelf/internal/api"
	"github.com/snarg/vidshelf/internal/catalog"
	"github.com/snarg/vidshelf/internal/config"
	"github.com/snarg/vidshelf/internal/database"
	"github.com/snarg/vidshelf/internal/events"
	"github.com/snarg/vidshelf/internal/jobclient"
	"github.com/snarg/vidshelf/internal/media"
	"github.com/snarg/vidshelf/internal/metrics"
	"github.com/snarg/vidshelf/internal/mqttclient"
	"github.com/snarg/vidshelf/internal/session"
	"github.com/snarg/vidshelf/internal/transcribe"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL URL (overrides DATABASE_URL)")
	flag.StringVar(&overrides.MQTTBrokerURL, "mqtt-url", "", "MQTT broker URL (overrides MQTT_BROKER_URL)")
	flag.StringVar(&overrides.JobServiceURL, "job-service-url", "", "Job Service base URL (overrides JOB_SERVICE_URL)")
	flag.Parse()

	if *showVersion {
		fmt.Println("vidshelf", version)
		return
	}

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("vidshelf starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database (optional). Without it remembered jobs live in memory.
	var (
		db     *database.DB
		memory session.JobMemory
		store  api.JobStore
		pool   *pgxpool.Pool
		dbPing api.Pinger
	)
	if cfg.DatabaseURL != "" {
		dbLog := log.With().Str("component", "database").Logger()
		db, err = database.Connect(ctx, cfg.DatabaseURL, dbLog)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		if err := db.Ready(ctx, vidshelf.SchemaSQL); err != nil {
			log.Fatal().Err(err).Msg("failed to prepare database schema")
		}
		memory, store, pool, dbPing = db, db, db.Pool, api.PingFunc(db.HealthCheck)
		go runMaintenance(ctx, db, cfg.JobRetention, dbLog)
	} else {
		mem := session.NewMemoryJobs()
		memory, store = mem, mem
		log.Warn().Msg("DATABASE_URL not set, remembered jobs will not survive a restart")
	}

	// MQTT (optional)
	var (
		mqtt   *mqttclient.Client
		broker api.BrokerStatus
	)
	if cfg.MQTTBrokerURL != "" {
		mqtt, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			Log:         log.With().Str("component", "mqtt").Logger(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
		broker = mqtt
	}

	// Job Service
	jobs := jobclient.New(jobclient.Options{
		BaseURL: cfg.JobServiceURL,
		Token:   cfg.JobServiceToken,
		Timeout: cfg.JobServiceTimeout,
		Log:     log.With().Str("component", "jobclient").Logger(),
	})
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	if err := jobs.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Str("url", cfg.JobServiceURL).Msg("job service not reachable yet")
	}
	cancelPing()

	// Media and catalog
	mediaLog := log.With().Str("component", "media").Logger()
	mediaStore, err := media.New(cfg, mediaLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up media store")
	}
	var local *media.LocalStore
	if len(cfg.Media.Sources) > 0 {
		local = media.NewLocalStore(cfg.Media.Sources)
	}
	lister, err := catalog.New(cfg, local, log.With().Str("component", "catalog").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up catalog")
	}
	if c, ok := lister.(io.Closer); ok {
		defer c.Close()
	}

	// Sessions
	bus := events.NewBus(512)
	registry := session.NewRegistry(session.Options{
		Jobs:       jobs,
		Memory:     memory,
		Transcribe: cfg.Transcribe,
		Poll:       cfg.Poll,
		OnChange: func(s *session.Session, snap transcribe.Snapshot) {
			bus.Publish(events.Data{
				Type:      events.TypeSnapshot,
				SessionID: s.ID,
				MediaKey:  s.Item().Key(),
				Payload:   snap,
			})
			metrics.SSEEventsPublishedTotal.Inc()
			// A restored result has no start time; only polled jobs count.
			if snap.Status.Terminal() && snap.StartedAt != nil {
				reason := snap.FailureKind()
				if reason == "" {
					reason = "none"
				}
				metrics.ObserveFinished(string(snap.Status), reason, snap.Elapsed())
			}
			if mqtt != nil {
				mqtt.PublishSnapshot(s.ID, s.Item(), snap)
			}
		},
		OnClose: func(s *session.Session) {
			bus.Publish(events.Data{
				Type:      events.TypeClosed,
				SessionID: s.ID,
				MediaKey:  s.Item().Key(),
				Payload:   map[string]string{"session_id": s.ID},
			})
			metrics.SSEEventsPublishedTotal.Inc()
		},
		OnPoll:   metrics.ObservePoll,
		OnSubmit: metrics.ObserveSubmit,
		Log:      log.With().Str("component", "session").Logger(),
	})

	prometheus.MustRegister(metrics.NewCollector(pool, registry, bus))

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(api.ServerOptions{
		Config:   cfg,
		Registry: registry,
		Bus:      bus,
		Media:    mediaStore,
		Catalog:  lister,
		Jobs:     store,
		Health:   api.NewHealthHandler(dbPing, broker, jobs, registry, version, startTime),
		Log:      httpLog,
	})

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Closing sessions first ends their SSE and WebSocket streams, which
	// Shutdown would otherwise wait on.
	registry.CloseAll()

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("vidshelf stopped")
}

// runMaintenance prunes stale remembered jobs once an hour.
func runMaintenance(ctx context.Context, db *database.DB, retention time.Duration, log zerolog.Logger) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		if _, err := db.PruneJobs(ctx, retention); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("prune remembered jobs failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
