package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dativebase/old/pkg/api"
	"github.com/dativebase/old/pkg/auth"
	"github.com/dativebase/old/pkg/config"
	"github.com/dativebase/old/pkg/layout"
	"github.com/dativebase/old/pkg/middleware"
	"github.com/dativebase/old/pkg/observability"
	"github.com/dativebase/old/pkg/parser"
	"github.com/dativebase/old/pkg/storage"
	"github.com/dativebase/old/pkg/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	// The engines and worker pool log through logrus; keep the level in
	// step with the structured logger.
	appLog := logrus.New()
	appLog.SetFormatter(&logrus.JSONFormatter{})
	appLog.SetLevel(logrusLevel(cfg.Observability.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize OpenTelemetry")
		os.Exit(1)
	}

	store, err := storage.Open(cfg.Storage, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to open database")
		os.Exit(1)
	}
	defer store.Close()
	if err := store.CreateSchema(ctx); err != nil {
		logger.WithError(err).Error("Failed to create database schema")
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.App.StoreRoot, 0o755); err != nil {
		logger.WithError(err).Error("Failed to create store root")
		os.Exit(1)
	}
	lay := layout.New(cfg.App.StoreRoot)

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("Redis unreachable, parse cache runs local-only")
		}
	}

	pool := worker.NewPool(ctx, appLog)
	keys := auth.NewKeyManager(store, appLog)
	cache := parser.NewCache(cfg.App.ParseCacheSize, cfg.App.ParseCacheTTL, rdb, appLog)

	var rateLimit func(http.Handler) http.Handler
	if rdb != nil {
		rateLimit = middleware.NewDistributedRateLimitMiddleware(rdb).Handler
	} else {
		rateLimit = middleware.NewRateLimitMiddleware().Handler
	}

	srv := api.NewServer(api.Options{
		Store:      store,
		Layout:     lay,
		Pool:       pool,
		Keys:       keys,
		ParseCache: cache,
		Logger:     appLog,
		ReadOnly:   cfg.App.ReadOnly,
		RateLimit:  rateLimit,
	})

	// Pick up compiled FSTs that change on disk while we run, e.g. when a
	// compile job finishes or an operator swaps in a binary by hand.
	if err := srv.ParserEngine().WatchBinaries(ctx); err != nil {
		logger.WithError(err).Warn("Parser binary watching disabled")
	}

	var handler http.Handler = srv
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics := observability.NewMetrics(registry)
		registry.MustRegister(collectors.NewDBStatsCollector(store.DB(), "old"))
		handler = observability.HTTPMetricsMiddleware(metrics)(handler)
	}
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "old")
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux,
		observability.NewHealthChecker(store.DB(), rdb, cfg.App.StoreRoot))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
	go func() {
		logger.Infof("Health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	go func() {
		logger.Infof("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Server failed")
			cancel()
		}
	}()

	sm := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	sm.RegisterShutdownFunc("health server", func(shutdownCtx context.Context) error {
		return healthServer.Shutdown(shutdownCtx)
	})
	sm.RegisterShutdownFunc("worker pool", func(shutdownCtx context.Context) error {
		deadline := cfg.Server.ShutdownTimeout
		if d, ok := shutdownCtx.Deadline(); ok {
			deadline = time.Until(d)
		}
		return pool.Shutdown(deadline)
	})
	if rdb != nil {
		sm.RegisterShutdownFunc("redis", func(context.Context) error { return rdb.Close() })
	}
	if providers != nil {
		sm.RegisterShutdownFunc("opentelemetry", func(shutdownCtx context.Context) error {
			return observability.ShutdownOTel(shutdownCtx, providers, logger)
		})
	}

	if err := sm.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
}

func logrusLevel(level observability.LogLevel) logrus.Level {
	switch level {
	case observability.DebugLevel:
		return logrus.DebugLevel
	case observability.WarnLevel:
		return logrus.WarnLevel
	case observability.ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
