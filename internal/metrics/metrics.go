// Package metrics provides Prometheus metrics for the buszy service.
package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Registry is the Prometheus registry for this metrics instance
	Registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Upstream API metrics, labelled by endpoint and outcome (ok, network, server, data)
	UpstreamRequestsTotal *prometheus.CounterVec

	// Poller and notification pipeline
	PollCyclesTotal     *prometheus.CounterVec
	NotificationsTotal  *prometheus.CounterVec
	NotificationQueued  prometheus.Gauge
	ActiveSessions      prometheus.Gauge
	WorkerCacheLookups  *prometheus.CounterVec
	WorkerMessagesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
	DBWaitSecondsTotal prometheus.Counter

	logger *slog.Logger

	// collectorStarted prevents spawning multiple collector goroutines
	collectorStarted atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and registers all application metrics with a new registry.
func New() *Metrics {
	return NewWithLogger(nil)
}

// NewWithLogger creates metrics with a logger for error reporting.
func NewWithLogger(logger *slog.Logger) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buszy_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "buszy_http_request_duration_seconds",
				Help:    "HTTP request latency distribution",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		UpstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buszy_upstream_requests_total",
				Help: "Requests made to the arrivals API by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		PollCyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buszy_poll_cycles_total",
				Help: "Arrival poll cycles by result (rendered, unchanged, error, idle)",
			},
			[]string{"result"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buszy_notifications_total",
				Help: "Notifications by delivery channel",
			},
			[]string{"channel", "severity"},
		),
		NotificationQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "buszy_notifications_queued",
			Help: "Notifications waiting for the client to come back online",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "buszy_active_sessions",
			Help: "Open page sessions",
		}),
		WorkerCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buszy_worker_cache_lookups_total",
				Help: "Worker response cache usage (network, fallback_hit, fallback_miss, bypass)",
			},
			[]string{"result"},
		),
		WorkerMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buszy_worker_messages_total",
				Help: "Messages handled by the background worker",
			},
			[]string{"type"},
		),
		DBConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "buszy_db_connections_open",
			Help: "Number of open database connections",
		}),
		DBConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "buszy_db_connections_in_use",
			Help: "Number of database connections currently in use",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "buszy_db_connections_idle",
			Help: "Number of idle database connections",
		}),
		DBWaitSecondsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buszy_db_wait_seconds_total",
			Help: "Total time blocked waiting for a database connection",
		}),
		logger: logger,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.UpstreamRequestsTotal,
		m.PollCyclesTotal,
		m.NotificationsTotal,
		m.NotificationQueued,
		m.ActiveSessions,
		m.WorkerCacheLookups,
		m.WorkerMessagesTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBWaitSecondsTotal,
	)

	return m
}

// ObserveUpstream counts one upstream call. Safe on a nil receiver so
// components can run without metrics in tests.
func (m *Metrics) ObserveUpstream(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.UpstreamRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
}

// ObservePoll counts one poll cycle.
func (m *Metrics) ObservePoll(result string) {
	if m == nil {
		return
	}
	m.PollCyclesTotal.WithLabelValues(result).Inc()
}

// ObserveNotification counts one notification delivery decision.
func (m *Metrics) ObserveNotification(channel, severity string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(channel, severity).Inc()
}

// AddQueued moves the offline queue gauge.
func (m *Metrics) AddQueued(delta int) {
	if m == nil {
		return
	}
	m.NotificationQueued.Add(float64(delta))
}

// SessionOpened and SessionClosed track live sessions.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

// ObserveCache counts one worker cache decision.
func (m *Metrics) ObserveCache(result string) {
	if m == nil {
		return
	}
	m.WorkerCacheLookups.WithLabelValues(result).Inc()
}

// ObserveWorkerMessage counts one message handled by the worker.
func (m *Metrics) ObserveWorkerMessage(msgType string) {
	if m == nil {
		return
	}
	m.WorkerMessagesTotal.WithLabelValues(msgType).Inc()
}

// StartDBStatsCollector starts a goroutine that periodically collects database
// connection pool statistics and updates the corresponding metrics.
// Calling it more than once has no effect. Call Shutdown() to stop the collector.
func (m *Metrics) StartDBStatsCollector(db *sql.DB, interval time.Duration) {
	if db == nil {
		return
	}

	if !m.collectorStarted.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	var lastWaitDuration time.Duration

	// Add to WaitGroup BEFORE exposing cancel to avoid race with Shutdown
	m.wg.Add(1)
	m.cancel = cancel

	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				if m.logger != nil {
					m.logger.Error("panic in DB stats collector", "error", r)
				}
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				stats := db.Stats()
				m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
				m.DBConnectionsInUse.Set(float64(stats.InUse))
				m.DBConnectionsIdle.Set(float64(stats.Idle))

				waitDelta := stats.WaitDuration - lastWaitDuration
				if waitDelta > 0 {
					m.DBWaitSecondsTotal.Add(waitDelta.Seconds())
				}
				lastWaitDuration = stats.WaitDuration

			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the DB stats collector goroutine and waits for it to exit.
// This method is safe to call multiple times.
func (m *Metrics) Shutdown() {
	if m == nil {
		return
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
