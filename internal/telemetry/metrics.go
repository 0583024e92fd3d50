// Package telemetry provides application-level observability for the missions data API.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<MDA_TELEMETRY_METRICS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - API key authorization outcomes and usage flush failures
//   - XML serialization failures
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /v1/people_groups/:id)
// rather than the raw request URL so user-supplied path segments cannot create
// unbounded label sets.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
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

// APIKeyAuthorizationsTotal counts API key checks by reason: ok, not_found,
// suspended, missing (no key presented) or error. Clients receive the same 401 for
// not_found and suspended, so this is where the two are told apart.
//
// Example PromQL queries:
//   - Suspended key traffic:  rate(api_key_authorizations_total{reason="suspended"}[1h])
var APIKeyAuthorizationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "api_key_authorizations_total",
		Help: "Total number of API key authorization checks, by outcome.",
	},
	[]string{"reason"},
)

// SerializationErrorsTotal counts responses that could not be rendered as XML. Any
// non-zero rate points at a handler producing a payload the serializer cannot represent.
var SerializationErrorsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "serialization_errors_total",
		Help: "Total number of response payloads that failed XML serialization.",
	},
)

// APIKeyUsageFlushFailuresTotal counts usage meter flushes that failed and were re-queued.
var APIKeyUsageFlushFailuresTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "api_key_usage_flush_failures_total",
		Help: "Total number of failed API key usage flushes.",
	},
)

// BackgroundPanicsTotal counts panics recovered by safego.Go, by goroutine name.
var BackgroundPanicsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "background_panics_total",
		Help: "Total number of panics recovered in background goroutines.",
	},
	[]string{"goroutine"},
)

// DBOpenConnections tracks the number of open connections currently held by the
// sql.DB pool. It is sampled by StartDBStatsCollector rather than per request.
//
// Example PromQL queries:
//   - Pool utilisation (%): db_open_connections / <MDA_DATABASE_MAX_CONNECTIONS> * 100
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples sql.DB pool statistics every interval and updates the
// DBOpenConnections gauge until ctx is cancelled or the database stops answering pings.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}
