package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"messaging-platform/internal/audit"
	"messaging-platform/internal/auth"
	"messaging-platform/internal/config"
	"messaging-platform/internal/dispatch"
	"messaging-platform/internal/gateway"
	"messaging-platform/internal/httpapi"
	"messaging-platform/internal/ledger"
	"messaging-platform/internal/message"
	"messaging-platform/internal/optout"
	"messaging-platform/internal/ratelimit"
	"messaging-platform/internal/rates"
	"messaging-platform/internal/reporting"
	"messaging-platform/internal/senderid"
	"messaging-platform/internal/tracking"
	"messaging-platform/internal/webhook"
	"messaging-platform/pkg/logger"
	"messaging-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	// Root context that cancels on shutdown
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

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

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

	// Persistence
	messages := message.NewPostgresRepo(db)
	credits := ledger.NewService(ledger.NewPostgresStore(db), ledger.BillingMode(cfg.Dispatch.BillingMode))
	rateSvc := rates.NewService(rates.NewPostgresRepo(db))
	registry := gateway.NewRegistry(gateway.NewPostgresRepo(db), cfg.Dispatch.GatewayTimeout)
	limiter := ratelimit.New(ratelimit.NewRedisStore(rdb))
	optouts := optout.NewRegistry(optout.NewPostgresRepo(db))

	// Link tracking is optional: without a public base URL bodies go out
	// untouched.
	var trackedLinks *tracking.Handler
	var rewriter dispatch.LinkRewriter
	if cfg.Dispatch.TrackingBaseURL != "" {
		shortener := tracking.NewShortener(tracking.NewPostgresRepo(db), cfg.Dispatch.TrackingBaseURL)
		trackedLinks = tracking.NewHandler(shortener)
		rewriter = shortener
	}

	dispatcher := dispatch.NewService(messages, credits, rateSvc, registry, limiter, optouts, rewriter)

	inbox := webhook.NewPostgresInbox(db)
	processor := webhook.NewProcessor(
		inbox, registry, messages, credits, optouts,
		senderid.NewPostgresRepo(db), cfg.Dispatch.SystemClientID,
	)
	webhooks := webhook.NewHandler(inbox, processor, registry)

	h := httpapi.Handlers{
		Auth:     authManager,
		Dispatch: dispatcher,
		Messages: messages,
		Credits:  credits,
		Reports:  reporting.NewService(reporting.Sources{Messages: messages, Credits: credits}),
		OptOuts:  optouts,
		Audit:    audit.NewService(audit.NewPostgresRepo(db)),
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, h, webhooks, trackedLinks, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
