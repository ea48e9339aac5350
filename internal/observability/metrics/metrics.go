// Package metrics exposes Prometheus counters and histograms for bill writes,
// statistics, exports and the Sheets sync worker. Init must run before the
// observe helpers record anything; before that they are no-ops.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "bollette_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	billWritesTotal *prometheus.CounterVec

	statisticsTotal   *prometheus.CounterVec
	statisticsLatency *prometheus.HistogramVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec

	syncMessagesTotal *prometheus.CounterVec
	syncPending       prometheus.Gauge

	httpRequestsTotal *prometheus.CounterVec
	httpLatency       *prometheus.HistogramVec
	rateLimitedTotal  prometheus.Counter
	suspiciousTotal   prometheus.Counter
)

// Init registers the metrics with the default registry.
func Init() {
	InitWith(prometheus.DefaultRegisterer)
}

// InitWith registers the metrics with reg. Only the first call has effect.
func InitWith(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		billWritesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "bill_writes_total",
				Help: "Total bill writes by operation and result",
			},
			[]string{"operation", "result"},
		)

		statisticsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "statistics_requests_total",
				Help: "Total statistics requests by window kind and cache outcome",
			},
			[]string{"kind", "cache"},
		)
		statisticsLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "statistics_latency_seconds",
				Help:    "Statistics aggregation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind", "result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total exports by document, format and result",
			},
			[]string{"document", "format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"document", "format"},
		)

		syncMessagesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sync_messages_total",
				Help: "Total sync messages handled by type and result",
			},
			[]string{"type", "result"},
		)
		syncPending = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "sync_pending_bills",
				Help: "Bills found pending on the last catch-up pass",
			},
		)

		httpRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "Total HTTP requests by method, route pattern and status code",
			},
			[]string{"method", "route", "code"},
		)
		httpLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)
		rateLimitedTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_rate_limited_total",
				Help: "Requests rejected by the per-client rate limiter",
			},
		)
		suspiciousTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_suspicious_requests_total",
				Help: "Requests flagged by the suspicious request detector",
			},
		)

		reg.MustRegister(
			billWritesTotal,
			statisticsTotal,
			statisticsLatency,
			exportTotal,
			exportLatency,
			syncMessagesTotal,
			syncPending,
			httpRequestsTotal,
			httpLatency,
			rateLimitedTotal,
			suspiciousTotal,
		)
	})
}

// Result maps an error to the result label.
func Result(err error) string {
	if err != nil {
		return resultError
	}
	return resultSuccess
}

// IncBillWrite counts a create, update, delete, payment or restore.
func IncBillWrite(operation string, err error) {
	if billWritesTotal != nil {
		billWritesTotal.WithLabelValues(operation, Result(err)).Inc()
	}
}

// IncStatistics counts a statistics request; hit reports a cache hit.
func IncStatistics(kind string, hit bool) {
	cache := "miss"
	if hit {
		cache = "hit"
	}
	if statisticsTotal != nil {
		statisticsTotal.WithLabelValues(kind, cache).Inc()
	}
}

// ObserveStatistics records the latency of a computed (uncached) aggregation.
func ObserveStatistics(kind string, err error, duration time.Duration) {
	if statisticsLatency != nil {
		statisticsLatency.WithLabelValues(kind, Result(err)).Observe(duration.Seconds())
	}
}

// ObserveExport records an export of document (statement, statistics, backup).
func ObserveExport(document, format string, err error, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(document, format, Result(err)).Inc()
	}
	if exportLatency != nil && err == nil {
		exportLatency.WithLabelValues(document, format).Observe(duration.Seconds())
	}
}

// IncSyncMessage counts a sync or delete message handled by the worker.
func IncSyncMessage(msgType string, err error) {
	if syncMessagesTotal != nil {
		syncMessagesTotal.WithLabelValues(msgType, Result(err)).Inc()
	}
}

// SetSyncPending records the size of the last pending batch.
func SetSyncPending(n int) {
	if syncPending != nil {
		syncPending.Set(float64(n))
	}
}

// ObserveHTTP records one served request. route is the matched pattern, not
// the raw path, to keep label cardinality bounded.
func ObserveHTTP(method, route string, code int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	if httpRequestsTotal != nil {
		httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	}
	if httpLatency != nil {
		httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
	}
}

// IncRateLimited counts a request rejected by the rate limiter.
func IncRateLimited() {
	if rateLimitedTotal != nil {
		rateLimitedTotal.Inc()
	}
}

// IncSuspicious counts a request flagged as suspicious.
func IncSuspicious() {
	if suspiciousTotal != nil {
		suspiciousTotal.Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
