// Command sentryd is the daemon entrypoint: it wires C1-C5 together and
// runs the monitoring engine and retraining orchestrator as long-lived
// background workers behind the external HTTP surface, following the
// teacher's cmd/pincex/main.go wiring order (env -> logger -> config ->
// DB -> collaborators -> background workers -> API server -> signal
// driven graceful shutdown in reverse order).
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sentrylabs/modelsentry/internal/baseline"
	"github.com/sentrylabs/modelsentry/internal/config"
	"github.com/sentrylabs/modelsentry/internal/events"
	"github.com/sentrylabs/modelsentry/internal/ledger"
	"github.com/sentrylabs/modelsentry/internal/lock"
	"github.com/sentrylabs/modelsentry/internal/monitoring"
	"github.com/sentrylabs/modelsentry/internal/orchestrator"
	"github.com/sentrylabs/modelsentry/internal/registry"
	"github.com/sentrylabs/modelsentry/internal/servingapi"
	"github.com/sentrylabs/modelsentry/internal/storage"
	"github.com/sentrylabs/modelsentry/internal/training"
	"github.com/sentrylabs/modelsentry/pkg/logger"
	"github.com/sentrylabs/modelsentry/pkg/metrics"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	zapLogger, err := logger.New(logger.Options{Level: logLevel, Component: "sentryd"})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	cfg, err := config.Load(os.Getenv("SENTRY_CONFIG_FILE"))
	if err != nil {
		zapLogger.Fatal("Failed to load configuration", zap.Error(err))
	}
	// LOG_LEVEL only sets the level of the bootstrap logger above. Once
	// config loads, cfg.LogLevel (default "info") is used for the rebuilt
	// logger; LOG_LEVEL applies only if cfg.LogLevel is empty.
	if cfg.LogLevel == "" {
		cfg.LogLevel = logLevel
	}
	// Rebuild once cfg.ModelName is known so every line after this point
	// carries the target model, matching sentryctl's single-shot logger.
	zapLogger, err = logger.New(logger.Options{Level: cfg.LogLevel, Component: "sentryd", ModelName: cfg.ModelName})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	db, err := storage.Open(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	if err := storage.AutoMigrate(db); err != nil {
		zapLogger.Fatal("Failed to migrate schema", zap.Error(err))
	}

	ledgerStore := storage.NewLedgerStore(db)
	metricStore := storage.NewMonitoringMetricStore(db)
	registryStore := storage.NewRegistryStore(db)
	decisionStore := storage.NewDecisionStore(db)

	ldg := ledger.New(ledgerStore)
	bus := events.NewBus()
	reg := registry.New(registryStore, bus)
	baselineStore := baseline.New(cfg.BaselinePath)

	var locker lock.Locker
	if cfg.Redis.Addr == "" {
		zapLogger.Warn("no redis address configured, falling back to in-memory lock (single-process only)")
		locker = lock.NewInMemoryLocker()
	} else {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		locker = lock.NewRedisLocker(redisClient)
	}

	// The trainer vectorizes features in the baseline's schema order, so
	// the baseline must exist before retraining can train a real model.
	// A fresh deployment without a bootstrapped baseline still starts
	// cleanly with an empty feature order; the trainer then fits an
	// intercept-only model, which the bootstrap path promotes when no
	// Production version exists and G1/G2 pass. sentryd reads the
	// baseline only here, so a later bootstrap-reference takes effect
	// after a restart.
	var featureOrder []string
	if ref, err := baselineStore.Load(); err != nil {
		zapLogger.Warn("reference baseline not yet bootstrapped, retraining will skip until it is", zap.Error(err))
	} else {
		for _, col := range ref.FeatureSchema {
			featureOrder = append(featureOrder, col.Name)
		}
	}
	trainer := training.NewLogisticRegressionTrainer(featureOrder)

	artifactDir := filepath.Dir(cfg.BaselinePath)
	monitor := monitoring.New(cfg.Monitoring, baselineStore, ldg, metricStore, artifactDir, bus, zapLogger)
	cache := orchestrator.NewModelCache()
	orch := orchestrator.New(cfg.ModelName, cfg, ldg, reg, decisionStore, trainer, locker, cache, bus, zapLogger)

	apiServer := servingapi.New(cfg.Server, zapLogger, reg, ldg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor.Start(ctx)
	orch.Start(ctx)

	tickerDB := time.NewTicker(30 * time.Second)
	go func() {
		for range tickerDB.C {
			sqlDB, err := db.DB()
			if err != nil {
				continue
			}
			stats := sqlDB.Stats()
			metrics.DBOpenConns.WithLabelValues("postgres").Set(float64(stats.OpenConnections))
			metrics.DBIdleConns.WithLabelValues("postgres").Set(float64(stats.Idle))
			metrics.DBInUseConns.WithLabelValues("postgres").Set(float64(stats.InUse))
		}
	}()

	go func() {
		zapLogger.Info("serving API starting", zap.String("addr", cfg.Server.Addr))
		if err := apiServer.Start(); err != nil {
			zapLogger.Fatal("serving API failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("shutting down")

	tickerDB.Stop()
	orch.Stop()
	monitor.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		zapLogger.Error("serving API did not shut down cleanly", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err == nil {
		_ = sqlDB.Close()
	}

	zapLogger.Info("server exited properly")
}
