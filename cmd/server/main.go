package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/cryptodash/autopilot/internal/api"
	"github.com/cryptodash/autopilot/internal/api/handlers"
	"github.com/cryptodash/autopilot/internal/cache"
	"github.com/cryptodash/autopilot/internal/config"
	"github.com/cryptodash/autopilot/internal/database"
	"github.com/cryptodash/autopilot/internal/exchange"
	"github.com/cryptodash/autopilot/internal/logging"
	"github.com/cryptodash/autopilot/internal/middleware"
	"github.com/cryptodash/autopilot/internal/notify"
	"github.com/cryptodash/autopilot/internal/services"
)

const version = "1.0.0"

func main() {
	// .env is optional; real deployments set environment variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.Environment)
	clock := services.NewRealClock()

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		logger.Fatalf("Failed to create data directory: %v", err)
	}

	// Market data and order gateway.
	client := exchange.NewClient(&cfg.Exchange, logger)
	var market exchange.MarketGateway = client

	var redisClient *database.RedisClient
	if cfg.Redis.Enabled {
		redisClient, err = database.NewRedisConnection(cfg.Redis)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, candle caching disabled")
		} else {
			defer redisClient.Close()
			market = cache.NewCachingMarketGateway(client, redisClient.Client, logger)
		}
	}

	// Optional relational mirror for the learning ledger.
	var db *database.PostgresDB
	var mirror services.AnalysisMirror
	if cfg.Database.Enabled {
		db, err = database.NewPostgresConnection(cfg.Database)
		if err != nil {
			logger.WithError(err).Warn("Postgres unavailable, learning mirror disabled")
		} else {
			defer db.Close()
			repo := database.NewLearningRepository(db.Pool)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := repo.EnsureSchema(ctx); err != nil {
				logger.WithError(err).Warn("Learning mirror schema setup failed")
			} else {
				mirror = repo
			}
			cancel()
		}
	}

	// Alerting: Telegram when configured, always the log sink.
	sinks := []notify.Sink{notify.NewLogSink(logger)}
	if cfg.Telegram.BotToken != "" {
		tg, err := notify.NewTelegramSink(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
		if err != nil {
			logger.WithError(err).Warn("Telegram sink unavailable")
		} else {
			sinks = append(sinks, tg)
		}
	}
	dispatcher := notify.NewDispatcher(logger, sinks...)

	// Persistent stores with their rotating backups.
	markerPath := filepath.Join(cfg.Storage.DataDir, "trade_markers.json")
	ledgerPath := filepath.Join(cfg.Storage.DataDir, "learning_ledger.json")
	markerBackup := services.NewBackupManager(markerPath, cfg.Storage.BackupDir, cfg.Storage.BackupRetentionDays, cfg.Storage.SnapshotMinGapSec, clock, logger)
	ledgerBackup := services.NewBackupManager(ledgerPath, cfg.Storage.BackupDir, cfg.Storage.BackupRetentionDays, cfg.Storage.SnapshotMinGapSec, clock, logger)

	markers := services.NewMarkerStore(markerPath, markerBackup, cfg.Automation.SinglePosition, clock, logger)
	ledger := services.NewLearningLedger(ledgerPath, ledgerBackup, mirror, clock, logger)
	markers.SetResolver(ledger)

	// Pipeline services.
	generator := services.NewSignalGenerator(market, ledger, clock, logger)
	queue := services.NewSignalQueue(cfg.Automation.QueueCapacity, clock, logger)
	gates := services.NewRiskGates(cfg.Risk)
	executor := services.NewExecutor(client, dispatcher, cfg.Automation.PracticeOnly, logger)
	monitor := services.NewPerformanceMonitor(logger)

	supervisor := services.NewSupervisor(
		cfg.Automation, cfg.Risk,
		market, generator, queue, gates, executor, markers, ledger,
		[]*services.BackupManager{markerBackup, ledgerBackup},
		dispatcher, monitor, clock, logger,
	)

	// HTTP surface.
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	auth := middleware.NewAuthMiddleware(cfg.Security.JWTSecret)
	api.SetupRoutes(router, auth, api.Handlers{
		Health:     handlers.NewHealthHandler(version, db, redisClient, supervisor),
		Auth:       handlers.NewAuthHandler(cfg.Security, auth, logger),
		Automation: handlers.NewAutomationHandler(supervisor, queue, generator, ledger, logger),
		Positions:  handlers.NewPositionsHandler(markers, supervisor, logger),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Drain the automation loop first so the final snapshots land before
	// the HTTP surface goes away.
	if err := supervisor.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Automation loop shutdown failed")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}
