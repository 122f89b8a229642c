// Package observability carries the operational surface of the service:
// structured JSON logging, Prometheus request metrics, readiness probes
// over the database, artifact store and Redis, OTLP trace/metric export,
// and the signal-driven shutdown sequence.
//
// The main server wires it together roughly as:
//
//	logger := observability.NewLogger(cfg.LogLevel, os.Stdout)
//	providers, _ := observability.InitOTel(ctx, otelCfg, logger)
//	metrics := observability.NewMetrics(registry)
//	handler = observability.HTTPMetricsMiddleware(metrics)(handler)
//	observability.RegisterHealthRoutes(mux,
//		observability.NewHealthChecker(db, rdb, storeRoot))
//
// Handlers that want request-correlated logs derive one with
// logger.WithRequest(r.Context()), which picks up the request id planted
// by httputil.RequestIDMiddleware.
package observability
