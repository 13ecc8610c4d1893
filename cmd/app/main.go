// File: cmd/app/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aiorreal/quota-core/internal/catalog"
	"github.com/aiorreal/quota-core/internal/config"
	pg "github.com/aiorreal/quota-core/internal/infra/db/postgres"
	"github.com/aiorreal/quota-core/internal/infra/logging"
	"github.com/aiorreal/quota-core/internal/infra/metrics"
	red "github.com/aiorreal/quota-core/internal/infra/redis"
	"github.com/aiorreal/quota-core/internal/infra/store/storepg"
	"github.com/aiorreal/quota-core/internal/infra/worker"
	"github.com/aiorreal/quota-core/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log)
	metrics.MustRegister()

	// ---- Postgres ----
	// TryConnect rides out Postgres not being ready yet (a container
	// still starting, a failover electing a new primary) instead of
	// failing on the first attempt.
	pool, err := pg.TryConnect(ctx, cfg.Database.URL, 10, 30*time.Second)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connect")
	}
	defer pg.ClosePgxPool(pool)

	pgStore := storepg.New(pool)
	if err := pgStore.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("postgres migrate")
	}

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connect")
	}
	locker := red.NewLocker(redisClient)

	// ---- Plan catalog ----
	cat := catalog.New()
	if cfg.Catalog.Override != "" {
		cat = catalog.NewFromOverride(cfg.Catalog.Override, logger)
	}

	// ---- Managers ----
	users := usecase.NewUserManager(pgStore)
	wallets := usecase.NewWalletManager(pgStore, cat, locker, cfg.Redis.LockTTL, logger)
	subs := usecase.NewSubscriptionManager(pgStore, cat, wallets, logger)
	usages := usecase.NewUsageLedger(pgStore, wallets, subs, storepg.AdvisoryLockUser)
	webhooks := usecase.NewWebhookProcessor(pgStore, cat, wallets, logger)

	core := usecase.NewQuotaCore(users, subs, wallets, usages, webhooks, cat, logger)

	// ---- Webhook ingestion worker pool ----
	// Simulates a bounded queue of raw incoming webhook deliveries being
	// drained by a small pool of workers, the way a real HTTP webhook
	// handler would hand bodies off instead of parsing and processing
	// them inline. Each delivery is normalized (epoch-or-ISO timestamps,
	// nested wire shape) at the point it leaves the queue, not before.
	workerPool := worker.NewPool(4).WithLogger(logger)
	workerPool.Start(ctx)
	deliveries := make(chan []byte, 64)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-deliveries:
				if !ok {
					return
				}
				body := raw
				if err := workerPool.Submit(func(ctx context.Context) error {
					return core.ProcessRawBillingEvent(ctx, body)
				}); err != nil {
					logger.Error().Err(err).Msg("submit billing event delivery")
				}
			}
		}
	}()

	logger.Info().Msg("quota-core started")

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()
	close(deliveries)
	workerPool.Stop()
}
