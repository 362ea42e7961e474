package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP surface,
// filter resolution, exports and background jobs.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	dbQueryDuration *prometheus.HistogramVec

	resolutions    *prometheus.CounterVec
	droppedClauses *prometheus.CounterVec
	exportDuration *prometheus.HistogramVec
	exportRows     *prometheus.CounterVec
	exportFailures *prometheus.CounterVec
	jobsTotal      *prometheus.CounterVec
	jobsInFlight   prometheus.Gauge

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	resolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "filter_resolutions_total",
		Help: "Filter resolutions by entity and permission scope",
	}, []string{"entity", "scope"})

	droppedClauses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "filter_dropped_clauses_total",
		Help: "User filter clauses discarded because a trusted layer fixed the field",
	}, []string{"entity"})

	exportDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "export_duration_seconds",
		Help:    "Time spent producing export artifacts",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"entity", "format", "mode"})

	exportRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "export_rows_total",
		Help: "Rows written into export artifacts",
	}, []string{"entity", "format"})

	exportFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "export_failures_total",
		Help: "Exports that ended with an error, by error code",
	}, []string{"entity", "code"})

	jobsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "export_jobs_total",
		Help: "Export job transitions by resulting status",
	}, []string{"status"})

	jobsInFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "export_jobs_in_flight",
		Help: "Export jobs currently being processed by this process",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses, dbQueryDuration,
		resolutions, droppedClauses, exportDuration, exportRows, exportFailures, jobsTotal, jobsInFlight, goroutines,
	)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		dbQueryDuration: dbQueryDuration,
		resolutions:     resolutions,
		droppedClauses:  droppedClauses,
		exportDuration:  exportDuration,
		exportRows:      exportRows,
		exportFailures:  exportFailures,
		jobsTotal:       jobsTotal,
		jobsInFlight:    jobsInFlight,
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordResolution counts one filter resolution and any clauses it dropped.
func (m *MetricsService) RecordResolution(entity, scope string, dropped int) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(entity, scope).Inc()
	if dropped > 0 {
		m.droppedClauses.WithLabelValues(entity).Add(float64(dropped))
	}
}

// ObserveExport records a finished export. mode is "sync" or "job".
func (m *MetricsService) ObserveExport(entity, format, mode string, rows int, duration time.Duration) {
	if m == nil {
		return
	}
	m.exportDuration.WithLabelValues(entity, format, mode).Observe(duration.Seconds())
	m.exportRows.WithLabelValues(entity, format).Add(float64(rows))
}

// RecordExportFailure counts a failed export by error code.
func (m *MetricsService) RecordExportFailure(entity, code string) {
	if m == nil {
		return
	}
	m.exportFailures.WithLabelValues(entity, code).Inc()
}

// RecordJobStatus counts a job reaching status.
func (m *MetricsService) RecordJobStatus(status string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(status).Inc()
}

// JobStarted and JobFinished track in-flight processing.
func (m *MetricsService) JobStarted() {
	if m == nil {
		return
	}
	m.jobsInFlight.Inc()
}

func (m *MetricsService) JobFinished() {
	if m == nil {
		return
	}
	m.jobsInFlight.Dec()
}

// WatchQueueDepth exports depth() as a gauge for the named in-process queue.
func (m *MetricsService) WatchQueueDepth(queue string, depth func() int64) error {
	if m == nil {
		return nil
	}
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "job_queue_pending",
		Help:        "Jobs buffered or waiting for retry in an in-process queue",
		ConstLabels: prometheus.Labels{"queue": queue},
	}, func() float64 {
		return float64(depth())
	}))
}
