package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/snarg/vidshelf/internal/session"
)

// Pinger is anything health can probe with a context, such as the database
// or the Job Service client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a check function, such as (*database.DB).HealthCheck.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// BrokerStatus reports an MQTT connection.
type BrokerStatus interface {
	IsConnected() bool
}

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	Sessions      session.Stats     `json:"sessions"`
}

type HealthHandler struct {
	db        Pinger
	mqtt      BrokerStatus
	jobs      Pinger
	registry  *session.Registry
	version   string
	startTime time.Time
}

// NewHealthHandler builds the health endpoint. db and mqtt may be nil when
// not configured.
func NewHealthHandler(db Pinger, mqtt BrokerStatus, jobs Pinger, registry *session.Registry, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		mqtt:      mqtt,
		jobs:      jobs,
		registry:  registry,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// Job Service check. Without it no transcription can start or finish.
	if h.jobs != nil {
		if err := h.jobs.Ping(ctx); err != nil {
			checks["job_service"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["job_service"] = "ok"
		}
	}

	// Database check
	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			checks["database"] = "error"
			if status == "healthy" {
				status = "degraded"
			}
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	// MQTT check
	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}
	if h.registry != nil {
		resp.Sessions = h.registry.Stats()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(resp)
}
