package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// SessionStats provides the metrics collector access to session state.
type SessionStats interface {
	SessionCount() int
	PollingCount() int
}

// StreamStats reports live SSE/WebSocket subscribers.
type StreamStats interface {
	SubscriberCount() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool     *pgxpool.Pool
	sessions SessionStats
	streams  StreamStats

	openSessions    *prometheus.Desc
	pollingLoops    *prometheus.Desc
	sseSubscribers  *prometheus.Desc
	dbTotalConns    *prometheus.Desc
	dbAcquiredConns *prometheus.Desc
	dbIdleConns     *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// Any argument may be nil; its gauges then report 0.
func NewCollector(pool *pgxpool.Pool, sessions SessionStats, streams StreamStats) *Collector {
	return &Collector{
		pool:     pool,
		sessions: sessions,
		streams:  streams,
		openSessions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sessions_open"),
			"Current number of open player sessions.",
			nil, nil,
		),
		pollingLoops: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "polling_loops_active"),
			"Sessions whose job is currently being polled.",
			nil, nil,
		),
		sseSubscribers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sse_subscribers_active"),
			"Current number of SSE subscribers.",
			nil, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbAcquiredConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "acquired_conns"),
			"Database pool connections currently in use.",
			nil, nil,
		),
		dbIdleConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "idle_conns"),
			"Database pool idle connections.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.openSessions
	ch <- c.pollingLoops
	ch <- c.sseSubscribers
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
	ch <- c.dbIdleConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var sessions, polling, subscribers float64
	if c.sessions != nil {
		sessions = float64(c.sessions.SessionCount())
		polling = float64(c.sessions.PollingCount())
	}
	if c.streams != nil {
		subscribers = float64(c.streams.SubscriberCount())
	}
	ch <- prometheus.MustNewConstMetric(c.openSessions, prometheus.GaugeValue, sessions)
	ch <- prometheus.MustNewConstMetric(c.pollingLoops, prometheus.GaugeValue, polling)
	ch <- prometheus.MustNewConstMetric(c.sseSubscribers, prometheus.GaugeValue, subscribers)

	// Database pool stats
	if c.pool != nil {
		stat := c.pool.Stat()
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, float64(stat.TotalConns()))
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()))
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, float64(stat.IdleConns()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, 0)
	}
}
