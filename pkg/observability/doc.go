// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing and health checks for gatehouse.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("subject_id", subject.ID).Info("permission denied")
//
// # Prometheus Metrics
//
// All record methods accept a nil *Metrics so components can run without a
// registry:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordDecision(true, "rules")
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	router := mux.NewRouter()
//	observability.RegisterHealthRoutes(router, checker)
//	observability.RegisterMetricsEndpoint(router, registry)
//
// # OpenTelemetry
//
//	tp, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "gatehouse",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, tp, logger)
package observability
