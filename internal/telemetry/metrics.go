// Package telemetry provides application-level observability for changetrail.
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<CTL_TELEMETRY_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is intentionally NOT part of the Gin
// router so the scrape path stays off the public ingress and bypasses the
// rate-limiting middleware.
//
// Metric groups:
//   - HTTP request counters and latency histograms (labelled by route
//     template, not raw URL, to keep label cardinality bounded)
//   - Audit entries recorded / suppressed, by action and suppression reason
//   - CSV export outcomes and exported-row counters
//   - Retention sweep deletion counters
//   - Database connection pool gauge (polled every 30 s)
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
// The path label holds the Gin route template (e.g. /api/v1/admin/logs),
// NOT the raw URL.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Audit-trail metrics.
//
// EntriesSuppressedTotal reasons:
//   - "no_actor":   user-attributable event arrived without an identified actor
//   - "filtered":   option change rejected by the event filter
//   - "category":   category toggle disabled for the event's object type
//   - "storage":    database insert failed (recording is best-effort)
var (
	EntriesRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_entries_recorded_total",
			Help: "Total audit log entries written, by action and object type.",
		},
		[]string{"action_type", "object_type"},
	)

	EntriesSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_entries_suppressed_total",
			Help: "Total change events that did not produce a log entry, by reason.",
		},
		[]string{"reason"},
	)
)

// Export metrics.
//
// ExportsTotal outcomes: "ok", "empty", "too_many", "error".
var (
	ExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_exports_total",
			Help: "Total CSV export attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	ExportedRowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_exported_rows_total",
			Help: "Total rows streamed out through CSV exports.",
		},
	)
)

// Retention metrics.
var (
	CleanupDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_cleanup_deleted_total",
			Help: "Total entries deleted by retention sweeps, by trigger (scheduled|manual).",
		},
		[]string{"trigger"},
	)

	BulkDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_bulk_deleted_total",
			Help: "Total entries deleted through filtered admin bulk deletes.",
		},
	)
)

// DBOpenConnections tracks the sql.DB pool size. Sampled by
// StartDBStatsCollector rather than per-request to avoid the overhead of
// sql.DB.Stats() on the hot path.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// connection pool statistics every 30 seconds and updates the
// DBOpenConnections gauge. The goroutine exits cleanly when the database
// becomes unreachable (db.Ping fails), which happens automatically when the
// application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
