package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"messaging-platform/internal/config"
	"messaging-platform/internal/dispatch"
	"messaging-platform/internal/gateway"
	"messaging-platform/internal/ledger"
	"messaging-platform/internal/message"
	"messaging-platform/internal/optout"
	"messaging-platform/internal/ratelimit"
	"messaging-platform/internal/rates"
	"messaging-platform/internal/scheduler"
	"messaging-platform/internal/senderid"
	"messaging-platform/internal/webhook"
	"messaging-platform/pkg/logger"
	"messaging-platform/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

// The worker owns everything that happens after the API accepted a message:
// draining the queue, retrying stuck webhook entries, expiring credits and
// refreshing provider balances. Multiple workers can run side by side; the
// distributed lock keeps each task single-flight.
func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file, using OS environment")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	messages := message.NewPostgresRepo(db)
	credits := ledger.NewService(ledger.NewPostgresStore(db), ledger.BillingMode(cfg.Dispatch.BillingMode))
	rateSvc := rates.NewService(rates.NewPostgresRepo(db))
	registry := gateway.NewRegistry(gateway.NewPostgresRepo(db), cfg.Dispatch.GatewayTimeout)
	limiter := ratelimit.New(ratelimit.NewRedisStore(rdb))
	optouts := optout.NewRegistry(optout.NewPostgresRepo(db))

	// The worker never accepts new messages, so link rewriting is not wired.
	dispatcher := dispatch.NewService(messages, credits, rateSvc, registry, limiter, optouts, nil)

	inbox := webhook.NewPostgresInbox(db)
	processor := webhook.NewProcessor(
		inbox, registry, messages, credits, optouts,
		senderid.NewPostgresRepo(db), cfg.Dispatch.SystemClientID,
	)

	w := scheduler.NewWorker(scheduler.NewRedisLock(rdb), cfg.Worker.LockTTL)
	w.Add(scheduler.Task{
		Name:     "dispatch",
		Interval: cfg.Worker.DispatchInterval,
		Run: func(ctx context.Context) error {
			attempted, err := dispatcher.DispatchQueued(ctx, cfg.Worker.DispatchBatch)
			if attempted > 0 {
				logger.From(ctx).Info("dispatched queued messages", "attempted", attempted)
			}
			return err
		},
	})
	w.Add(scheduler.Task{
		Name:     "inbox-retry",
		Interval: cfg.Worker.InboxRetryInterval,
		Run: func(ctx context.Context) error {
			processed, err := processor.ProcessPending(ctx, cfg.Worker.InboxBatch, cfg.Worker.InboxMaxAttempts)
			if processed > 0 {
				logger.From(ctx).Info("retried inbox entries", "processed", processed)
			}
			return err
		},
	})
	w.Add(scheduler.Task{
		Name:     "credit-expiry",
		Interval: cfg.Worker.ExpirySweepInterval,
		Run: func(ctx context.Context) error {
			expired, err := credits.SweepExpired(ctx)
			if expired > 0 {
				logger.From(ctx).Info("expired credits swept", "credits", expired)
			}
			return err
		},
	})
	w.Add(scheduler.Task{
		Name:     "balance-refresh",
		Interval: cfg.Worker.BalanceRefreshInterval,
		Run: func(ctx context.Context) error {
			failures := registry.RefreshBalances(ctx)
			for gwID, err := range failures {
				logger.From(ctx).Warn("balance refresh failed", "gateway_id", gwID, "error", err)
			}
			return nil
		},
	})

	log.Info("worker started", "env", cfg.App.Env)
	w.Run(logger.With(rootCtx, log))
	log.Info("worker stopped")
}
