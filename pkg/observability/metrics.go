package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
// The Record/Observe helpers are safe to call on a nil *Metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Reconciliation metrics
	ReconcileDecisionsTotal *prometheus.CounterVec
	ReconcileConflictsTotal *prometheus.CounterVec
	ReconcileDuration       *prometheus.HistogramVec

	// Role service metrics
	RoleOperationsTotal *prometheus.CounterVec

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec

	// Audit retention metrics
	AuditPurgedTotal prometheus.Counter

	// Database metrics
	DBConnectionsActive       prometheus.Gauge
	DBConnectionsIdle         prometheus.Gauge
	DBConnectionsWaitCount    prometheus.Gauge
	DBConnectionsWaitDuration prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		// Reconciliation metrics
		ReconcileDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_reconcile_decisions_total",
				Help: "Total number of override writes applied by reconciliation",
			},
			[]string{"kind", "op"},
		),
		ReconcileConflictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_reconcile_conflicts_total",
				Help: "Total number of reconcile calls aborted on a state conflict",
			},
			[]string{"kind"},
		),
		ReconcileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_reconcile_duration_seconds",
				Help:    "Reconcile call duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"kind"},
		),

		// Role service metrics
		RoleOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_role_operations_total",
				Help: "Total number of role service operations by outcome",
			},
			[]string{"op", "result"},
		),

		// Notification metrics
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_notifications_total",
				Help: "Total number of role change notifications",
			},
			[]string{"status"},
		),

		AuditPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_audit_purged_total",
				Help: "Total number of audit events removed by retention",
			},
		),

		// Database metrics
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
		DBConnectionsWaitDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_db_connections_wait_duration_seconds",
				Help: "Total time spent waiting for connections",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.ReconcileDecisionsTotal,
		m.ReconcileConflictsTotal,
		m.ReconcileDuration,
		m.RoleOperationsTotal,
		m.NotificationsTotal,
		m.AuditPurgedTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.DBConnectionsWaitDuration,
	)

	return m
}

// RecordReconcileDecision counts one applied override write
func (m *Metrics) RecordReconcileDecision(kind, op string) {
	if m == nil {
		return
	}
	m.ReconcileDecisionsTotal.WithLabelValues(kind, op).Inc()
}

// RecordReconcileConflict counts a reconcile call aborted on a state conflict
func (m *Metrics) RecordReconcileConflict(kind string) {
	if m == nil {
		return
	}
	m.ReconcileConflictsTotal.WithLabelValues(kind).Inc()
}

// ObserveReconcile records the duration of a reconcile call
func (m *Metrics) ObserveReconcile(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.ReconcileDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordRoleOperation counts a role service call by outcome
func (m *Metrics) RecordRoleOperation(op, result string) {
	if m == nil {
		return
	}
	m.RoleOperationsTotal.WithLabelValues(op, result).Inc()
}

// RecordNotification counts a published or failed role change notification
func (m *Metrics) RecordNotification(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.NotificationsTotal.WithLabelValues(status).Inc()
}

// RecordAuditPurge counts audit events removed by retention
func (m *Metrics) RecordAuditPurge(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.AuditPurgedTotal.Add(float64(n))
}

// UpdateDBStats copies connection pool statistics into the gauges
func (m *Metrics) UpdateDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
	m.DBConnectionsWaitDuration.Set(stats.WaitDuration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routePath returns the mux route template so ids don't explode label cardinality
func routePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Install it with router.Use so the matched route template is available.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := routePath(r)

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			if r.ContentLength > 0 {
				metrics.HTTPRequestSize.WithLabelValues(r.Method, path).Observe(float64(r.ContentLength))
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
