package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/FlashTheFire/NexNum-sub011/internal/catalog"
	"github.com/FlashTheFire/NexNum-sub011/internal/health"
	healthRepoPg "github.com/FlashTheFire/NexNum-sub011/internal/health/repository/postgres"
	"github.com/FlashTheFire/NexNum-sub011/internal/platform/config"
	"github.com/FlashTheFire/NexNum-sub011/internal/platform/database"
	"github.com/FlashTheFire/NexNum-sub011/internal/platform/logger"
	platformredis "github.com/FlashTheFire/NexNum-sub011/internal/platform/redis"
	"github.com/FlashTheFire/NexNum-sub011/internal/pricing"
	providerRepoPg "github.com/FlashTheFire/NexNum-sub011/internal/provider/repository/postgres"
	purchaseRepoPg "github.com/FlashTheFire/NexNum-sub011/internal/purchase/repository/postgres"
)

const serviceName = "catalog_sync"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel).With("service", serviceName)
	appLogger.Info("Catalog sync worker starting...", "interval", cfg.CatalogSyncInterval.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewDBPool(ctx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	redisClient, err := platformredis.NewClient(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		appLogger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	monitor := health.NewMonitor(
		health.NewRedisStore(redisClient, cfg.HealthStateTTL),
		healthRepoPg.NewPgHealthLogRepository(dbPool),
		health.Options{
			FailureThreshold: cfg.CircuitFailureThreshold,
			OpenDuration:     cfg.CircuitOpenDuration,
			HalfOpenTrials:   cfg.CircuitHalfOpenTrials,
			Window:           cfg.HealthWindow,
			SuccessRateFloor: cfg.HealthSuccessRateFloor,
		},
		appLogger,
	)

	syncer := catalog.NewSyncer(
		providerRepoPg.NewPgProviderRepository(dbPool),
		purchaseRepoPg.NewOfferRepositoryPg(dbPool, appLogger),
		purchaseRepoPg.NewOutboxRepositoryPg(dbPool, appLogger),
		&http.Client{Timeout: cfg.ProviderHTTPTimeout},
		monitor,
		pricing.Config{
			CostWeight:  cfg.OptimizerCostWeight,
			StockWeight: cfg.OptimizerStockWeight,
			MinStock:    cfg.OptimizerMinStock,
		},
		cfg.CatalogSyncInterval,
		appLogger,
	)

	if err := syncer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Catalog sync stopped", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Catalog sync worker shut down")
}
