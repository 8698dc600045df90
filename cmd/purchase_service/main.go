package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/FlashTheFire/NexNum-sub011/internal/health"
	healthRepoPg "github.com/FlashTheFire/NexNum-sub011/internal/health/repository/postgres"
	"github.com/FlashTheFire/NexNum-sub011/internal/opaqueid"
	"github.com/FlashTheFire/NexNum-sub011/internal/platform/config"
	"github.com/FlashTheFire/NexNum-sub011/internal/platform/database"
	"github.com/FlashTheFire/NexNum-sub011/internal/platform/logger"
	"github.com/FlashTheFire/NexNum-sub011/internal/platform/messagebroker"
	platformredis "github.com/FlashTheFire/NexNum-sub011/internal/platform/redis"
	"github.com/FlashTheFire/NexNum-sub011/internal/platform/redislock"
	"github.com/FlashTheFire/NexNum-sub011/internal/pricing"
	providerRepoPg "github.com/FlashTheFire/NexNum-sub011/internal/provider/repository/postgres"
	"github.com/FlashTheFire/NexNum-sub011/internal/purchase/app"
	purchaseRepoPg "github.com/FlashTheFire/NexNum-sub011/internal/purchase/repository/postgres"
	"github.com/FlashTheFire/NexNum-sub011/internal/sequencer"

	apiRepoPg "github.com/FlashTheFire/NexNum-sub011/internal/api/repository/postgres"
	httptransport "github.com/FlashTheFire/NexNum-sub011/internal/api/transport/http"
)

const serviceName = "purchase_service"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel).With("service", serviceName)
	appLogger.Info("Purchase service starting...", "port", cfg.HTTPPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewDBPool(ctx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	appLogger.Info("Connected to PostgreSQL")

	redisClient, err := platformredis.NewClient(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		appLogger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	appLogger.Info("Connected to Redis")

	natsClient, err := messagebroker.NewNatsClient(cfg.NATSUrl, serviceName, appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	appLogger.Info("Connected to NATS")

	// Repositories
	providerRepo := providerRepoPg.NewPgProviderRepository(dbPool)
	offerRepo := purchaseRepoPg.NewOfferRepositoryPg(dbPool, appLogger)
	reservationRepo := purchaseRepoPg.NewReservationRepositoryPg(dbPool, appLogger)
	numberRepo := purchaseRepoPg.NewNumberRepositoryPg(dbPool, appLogger)
	smsRepo := purchaseRepoPg.NewSmsMessageRepositoryPg(dbPool, appLogger)
	outboxRepo := purchaseRepoPg.NewOutboxRepositoryPg(dbPool, appLogger)
	auditRepo := purchaseRepoPg.NewAuditLogRepositoryPg(dbPool, appLogger)
	walletRepo := purchaseRepoPg.NewWalletRepositoryPg(dbPool, appLogger)
	apiKeyRepo := apiRepoPg.NewAPIKeyRepositoryPg(dbPool, appLogger)
	healthLogRepo := healthRepoPg.NewPgHealthLogRepository(dbPool)

	// Health monitor over the shared Redis store so every instance sees the
	// same circuit state.
	monitor := health.NewMonitor(
		health.NewRedisStore(redisClient, cfg.HealthStateTTL),
		healthLogRepo,
		health.Options{
			FailureThreshold: cfg.CircuitFailureThreshold,
			OpenDuration:     cfg.CircuitOpenDuration,
			HalfOpenTrials:   cfg.CircuitHalfOpenTrials,
			Window:           cfg.HealthWindow,
			SuccessRateFloor: cfg.HealthSuccessRateFloor,
		},
		appLogger,
	)

	vendors := app.NewAdapterVendorFactory(providerRepo, cfg.ProviderHTTPTimeout, monitor, appLogger)
	txRunner := app.NewPgxTxRunner(dbPool)
	locker := redislock.NewLocker(redisClient)

	ranking := pricing.Config{
		CostWeight:  cfg.OptimizerCostWeight,
		StockWeight: cfg.OptimizerStockWeight,
		MinStock:    cfg.OptimizerMinStock,
	}

	purchaseSvc := app.NewPurchaseService(
		offerRepo, reservationRepo, numberRepo, smsRepo, outboxRepo, auditRepo, walletRepo,
		vendors,
		locker,
		app.NewRedisIdempotencyCache(redisClient),
		monitor,
		txRunner,
		app.PurchaseConfig{
			LockTTL:        cfg.PurchaseLockTTL,
			ReservationTTL: cfg.ReservationTTL,
			IdempotencyTTL: cfg.IdempotencyCacheTTL,
			NumberLifetime: cfg.NumberLifetime,
			Ranking:        ranking,
		},
		appLogger,
	)

	smsSequencer := sequencer.NewService(numberRepo, smsRepo, vendors, natsClient, locker, sequencer.Config{
		MaxSmsPerNumber: cfg.MaxSmsPerActivation,
		ResendDelay:     cfg.ResendRequestDelay,
	}, appLogger)

	relay := app.NewOutboxRelay(outboxRepo, natsClient, txRunner, cfg.OutboxRelayInterval, appLogger)
	lifecycle := app.NewLifecycleService(
		offerRepo, reservationRepo, numberRepo, smsRepo, walletRepo,
		vendors, txRunner, cfg.LifecycleSweepInterval, appLogger,
	)

	workers, workerCtx := errgroup.WithContext(ctx)
	workers.Go(func() error { return relay.Run(workerCtx) })
	workers.Go(func() error { return lifecycle.Run(workerCtx) })

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Numbers:      httptransport.NewNumberHandler(purchaseSvc, opaqueid.New(cfg.RefCodecKey), appLogger),
		Webhooks:     httptransport.NewWebhookHandler(smsSequencer, appLogger),
		Admin:        httptransport.NewAdminHandler(monitor, appLogger),
		APIKeys:      apiKeyRepo,
		AdminToken:   cfg.AdminToken,
		WebhookToken: cfg.WebhookToken,
		Logger:       appLogger,
	})

	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTPPort), Handler: router}
	go func() {
		appLogger.Info(fmt.Sprintf("HTTP server listening on port %d", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server failed to serve", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	appLogger.Info("Shutdown signal received, shutting down...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server shutdown failed", "error", err)
	} else {
		appLogger.Info("HTTP server shut down gracefully")
	}
	if err := workers.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Background worker exited with error", "error", err)
	}
	appLogger.Info("Purchase service shut down")
}
