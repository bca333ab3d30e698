// Package observability provides structured logging, Prometheus metrics,
// health probes, OpenTelemetry tracing, and graceful shutdown coordination.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("port", 8080).Info("server started")
//
// Context-aware logging (request ID attached by middleware):
//
//	observability.FromContext(ctx).WithError(err).Error("lookup failed")
//
// # Prometheus Metrics
//
// Initialize metrics against a registry:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.AuthAttemptsTotal.WithLabelValues("user", "success").Inc()
//	metrics.RateLimitDecisionsTotal.WithLabelValues("tenant", "rejected").Inc()
//
// Expose the scrape endpoint with metrics.Handler() and instrument routes
// with metrics.Middleware.
//
// # Health Checks
//
// Register dependency probes and mount the liveness/readiness handlers:
//
//	health := observability.NewHealthChecker()
//	health.Register("postgres", db.PingContext)
//	mux.HandleFunc("/readyz", health.Readiness)
//
// # OpenTelemetry
//
// Initialize tracing:
//
//	tp, err := observability.InitTracing(ctx, observability.OTelConfig{
//		Enabled:     true,
//		ServiceName: "crewflow",
//		Endpoint:    "otel-collector:4317",
//	}, logger)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/httputil: Request logging middleware
package observability
