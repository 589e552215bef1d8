package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/connect-commerce/connect-admin/internal/app"
	"github.com/connect-commerce/connect-admin/internal/auth"
	"github.com/connect-commerce/connect-admin/internal/dashboard"
	"github.com/connect-commerce/connect-admin/internal/edge"
	"github.com/connect-commerce/connect-admin/internal/guard"
	"github.com/connect-commerce/connect-admin/internal/observability"
	"github.com/connect-commerce/connect-admin/internal/platform/cache"
	"github.com/connect-commerce/connect-admin/internal/platform/db"
	"github.com/connect-commerce/connect-admin/internal/session"
	"github.com/connect-commerce/connect-admin/internal/shared"
	"github.com/connect-commerce/connect-admin/internal/view"
	"github.com/connect-commerce/connect-admin/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	secureCookies := cfg.IsProduction()

	gateCfg := edge.DefaultConfig()
	gate, err := edge.NewGate(gateCfg, metrics)
	if err != nil {
		logger.Error("build edge gate", slog.Any("error", err))
		os.Exit(1)
	}

	persister := session.NewRedisPersister(redisClient, session.DefaultPartition, cfg.SessionTTL)
	sessionManager := session.NewManager(persister, session.DefaultBrowserCookie, cfg.SessionTTL, secureCookies, logger)
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	tokens, err := auth.NewTokenIssuer(cfg.TokenSecret, cfg.TokenTTL)
	if err != nil {
		logger.Error("token issuer", slog.Any("error", err))
		os.Exit(1)
	}
	authRepo := auth.NewRepository(dbpool)
	revocations := auth.NewRevocationStore(redisClient)
	verifier := auth.NewTokenVerifier(tokens, authRepo, revocations, cfg.IdentityCacheTTL)
	authService := auth.NewService(authRepo, tokens, revocations, verifier)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	authHandler := auth.NewHandler(logger, authService, verifier, templates, csrfManager, jobClient, auth.HandlerConfig{
		LoginPath:     gateCfg.LoginPath,
		LandingPath:   gateCfg.LandingPath,
		SecureCookies: secureCookies,
	})
	routeGuard := guard.New(verifier, guard.Config{
		LoginPath:       gateCfg.LoginPath,
		RevalidateAfter: cfg.GuardRevalidateAfter,
		VerifyTimeout:   cfg.VerifyTimeout,
	}, logger, metrics)
	dashboardHandler := dashboard.NewHandler(logger, templates, csrfManager)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Gate:             gate,
		Guard:            routeGuard,
		SessionManager:   sessionManager,
		CSRFManager:      csrfManager,
		AuthHandler:      authHandler,
		DashboardHandler: dashboardHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
		LandingPath:      gateCfg.LandingPath,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
