package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clawkeeper/internal/alerts"
	"clawkeeper/internal/config"
	"clawkeeper/internal/credits"
	"clawkeeper/internal/events"
	"clawkeeper/internal/handlers"
	"clawkeeper/internal/ingest"
	"clawkeeper/internal/insights"
	"clawkeeper/internal/logger"
	"clawkeeper/internal/metrics"
	"clawkeeper/internal/middleware"
	"clawkeeper/internal/notify"
	"clawkeeper/internal/storage"
)

func main() {
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	gin.SetMode(cfg.GinMode)

	store, err := storage.NewPostgresStorage(cfg.DatabaseURL)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()

	if err := runMigrations(store.DB(), cfg.MigrationsPath); err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to run migrations")
	}

	metrics.RegisterDBMetrics(store.DB(), "clawkeeper")

	dispatcher := notify.NewDispatcher(notify.NewEmailNotifier(cfg))

	ledger := credits.NewLedger(store)
	eventEngine := events.NewEngine(store)
	evaluator := alerts.NewEvaluator(store, dispatcher)
	analyzer := insights.NewAnalyzer(store, dispatcher)
	ingestService := ingest.NewService(store, ledger, eventEngine, evaluator, analyzer)

	h := handlers.New(store, ingestService, ledger, analyzer)

	router := buildRouter(cfg, store, h)

	metricsServer := startMetricsServer(cfg)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Logger.Info().Str("port", cfg.Port).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Logger.Info().Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Logger.Error().Err(err).Msg("Forced shutdown")
	}
	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Logger.Error().Err(err).Msg("Metrics server forced shutdown")
	}

	logger.Logger.Info().Msg("Server stopped")
}

func buildRouter(cfg *config.Config, store storage.Storage, h *handlers.Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestSizeLimit(cfg))

	generalLimiter, ingestLimiter := middleware.InitRateLimitMiddleware(cfg)

	// The health probe has no API key to limit on, so it is limited by
	// client IP instead.
	router.GET("/health", middleware.IPRateLimitMiddleware(cfg.RateLimitGeneral), h.Health)

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(store))
	api.Use(generalLimiter)
	{
		api.POST("/scans", ingestLimiter, h.IngestScan)
		api.GET("/scans/:id/checks", h.GetScanChecks)

		api.GET("/hosts", h.ListHosts)
		api.GET("/hosts/:id", h.GetHost)
		api.DELETE("/hosts/:id", h.DeleteHost)
		api.GET("/hosts/:id/scans", h.ListHostScans)

		api.GET("/events", h.ListEvents)
		api.POST("/events", h.RecordAgentEvent)
		api.GET("/credits", h.GetCredits)

		api.GET("/alerts/rules", h.ListAlertRules)
		api.POST("/alerts/rules", h.CreateAlertRule)
		api.PUT("/alerts/rules/:id", h.UpdateAlertRule)
		api.DELETE("/alerts/rules/:id", h.DeleteAlertRule)
		api.GET("/alerts/events", h.ListAlertEvents)

		api.GET("/insights", h.ListInsights)
		api.POST("/insights/refresh", h.RefreshStaleHostInsights)

		api.GET("/notifications/settings", h.GetNotificationSettings)
		api.PUT("/notifications/settings", h.UpdateNotificationSettings)
	}

	return router
}

func startMetricsServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         cfg.MetricsBindAddr + ":" + cfg.MetricsPort,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Logger.Info().Str("addr", server.Addr).Msg("Starting metrics server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	return server
}

func runMigrations(db *sql.DB, migrationsPath string) error {
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Logger.Info().Msg("Database migrations up to date")
	return nil
}
