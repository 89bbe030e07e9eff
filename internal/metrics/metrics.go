package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of HTTP requests being processed",
		},
	)

	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	// Link Metrics
	LinkCreationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_creation_total",
			Help: "Link creation attempts by outcome",
		},
		[]string{"status"},
	)

	CodeCollisionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "link_code_collisions_total",
			Help: "Generated codes that were already taken",
		},
	)

	RedirectTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_redirect_total",
			Help: "Redirect lookups by outcome",
		},
		[]string{"status"},
	)

	// Database Metrics
	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_in_use",
			Help: "Number of database connections currently in use",
		},
	)

	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"store", "operation"},
	)

	// System Metrics
	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "memory_usage_bytes",
			Help: "Memory usage in bytes",
		},
		[]string{"type"},
	)
)

// PoolStats reports the connection usage of the storage handle
type PoolStats func() (inUse, idle int)

// StartSystemMetricsCollection samples memory and pool gauges until ctx ends
func StartSystemMetricsCollection(ctx context.Context, interval time.Duration, pool PoolStats) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			collectSystemMetrics(pool)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func collectSystemMetrics(pool PoolStats) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_alloc").Set(float64(m.HeapAlloc))
	MemoryUsage.WithLabelValues("heap_in_use").Set(float64(m.HeapInuse))
	MemoryUsage.WithLabelValues("stack_in_use").Set(float64(m.StackInuse))

	if pool != nil {
		inUse, idle := pool()
		DBConnectionsInUse.Set(float64(inUse))
		DBConnectionsIdle.Set(float64(idle))
	}
}

// RecordHTTPMetrics records metrics for an HTTP request
func RecordHTTPMetrics(method, path, status string, duration time.Duration, responseSize int64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	HTTPResponseSize.WithLabelValues(method, path, status).Observe(float64(responseSize))
}

// ObserveQuery records the time spent in one store operation
func ObserveQuery(store, operation string, start time.Time) {
	DBQueryDuration.WithLabelValues(store, operation).Observe(time.Since(start).Seconds())
}
