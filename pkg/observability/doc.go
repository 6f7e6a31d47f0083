// Package observability provides structured logging, Prometheus metrics, health
// checks and OpenTelemetry setup for the warden service.
//
// # Structured Logging
//
// Logger wraps logrus and is carried through request contexts:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).WithField("role_id", id).Info("role created")
//
// FromContext attaches request_id, tenant_id, user_id and, when a span is
// recording, trace_id and span_id.
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	metrics.RecordReconcileDecision("action", "create")
//
// The Record and Observe helpers are no-ops on a nil *Metrics so components
// can run without instrumentation in tests.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(adminMux, checker)
//
// The database is required for readiness. Redis only degrades it.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer providers.Shutdown(ctx)
package observability
