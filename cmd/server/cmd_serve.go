package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"shop-assist/internal/adapters/auth"
	"shop-assist/internal/adapters/gateway"
	"shop-assist/internal/adapters/handler"
	"shop-assist/internal/adapters/repository"
	"shop-assist/internal/adapters/websocket"
	"shop-assist/internal/core/ports"
	"shop-assist/internal/core/services"
	"shop-assist/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, websocket relay and webhook workers",
	RunE:  runServe,
}

var serveSkipMigrate bool

func init() {
	serveCmd.Flags().BoolVar(&serveSkipMigrate, "skip-migrate", false, "Do not apply the schema on startup")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", version).Str("env", cfg.App.Env).Msg("starting shop-assist")

	// Telemetry (optional service)
	shutdownTelemetry, enabled, err := telemetry.Init(ctx, cfg.Telemetry, version)
	if err != nil {
		log.Warn().Err(err).Msg("failed to initialize telemetry, continuing without it")
	} else if enabled {
		log.Info().Str("endpoint", cfg.Telemetry.Endpoint).Msg("telemetry enabled")
	}

	// ==================================================================
	// Infrastructure
	// ==================================================================
	db, err := connectMariaDB(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := repository.NewMariaDBRepository(db, log.Logger)
	if !serveSkipMigrate {
		if err := repo.Migrate(ctx); err != nil {
			return err
		}
	}

	// Without Redis the queue degrades to inline processing.
	var (
		rdb    *redis.Client
		broker ports.JobBroker
	)
	if rdb, err = connectRedis(ctx, cfg.Redis); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, webhook queue falls back to inline mode")
	} else {
		defer rdb.Close()
		broker = repository.NewRedisBroker(rdb, "", cfg.Queue.CompletedRetention, log.Logger)
	}

	tokens, err := newTokenSource(cfg.Coze)
	if err != nil {
		return fmt.Errorf("coze credentials: %w", err)
	}

	// ==================================================================
	// Adapters & services
	// ==================================================================
	if cfg.Auth.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET not set: admin endpoints and admin relay sockets will reject every token")
	}
	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret)
	hub := websocket.NewHub(
		websocket.NewAuthenticator(verifier, repo, cfg.Features.DefaultShopID),
		websocket.HubConfig{
			TypingTimeout:  cfg.Relay.TypingTimeout,
			AllowedOrigins: splitOrigins(cfg.App.CORSOrigin),
		},
		log.Logger,
	)

	coze := gateway.NewCozeClient(gateway.CozeClientConfig{
		BaseURL:      cfg.Coze.BaseURL,
		PollInterval: cfg.Coze.PollInterval,
		PollAttempts: cfg.Coze.PollAttempts,
		DefaultBotID: cfg.Coze.BotID,
	}, tokens, log.Logger)
	knowledge := gateway.NewCozeKnowledgeBase(cfg.Coze.BaseURL, cfg.Coze.DatasetID, tokens, log.Logger)
	catalog := gateway.NewEverShopClient(cfg.EverShop.BaseURL, cfg.EverShop.Email, cfg.EverShop.Password, log.Logger)

	conversations := services.NewConversationService(repo)
	pause := services.NewAssistantPause(log.Logger)
	chat := services.NewChatService(coze, conversations, repo, hub, cfg.Coze.StreamTimeout, log.Logger).WithPause(pause)

	queue := services.NewJobQueue(broker, services.QueueConfig{
		Concurrency:  cfg.Queue.Concurrency,
		PollInterval: cfg.Queue.PollInterval,
		Retry: services.RetryPolicy{
			MaxAttempts: cfg.Queue.Attempts,
			BaseDelay:   cfg.Queue.BackoffBase,
		},
	}, log.Logger)
	services.NewWebhookHandlers(
		catalog,
		gateway.ProductsToCSV,
		knowledge,
		repo,
		conversations,
		repo,
		hub,
		services.WebhookHandlerConfig{
			SendOrderConfirmation: cfg.Features.SendOrderConfirmation,
			SendWelcomeMessage:    cfg.Features.SendWelcomeMessage,
			ShopID:                cfg.Features.DefaultShopID,
		},
		log.Logger,
	).Register(queue)

	// Workers outlive the signal context so in-flight jobs can finish during Stop.
	workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorkers()
	if err := queue.Start(workerCtx); err != nil {
		return err
	}
	go services.RunWatchdog(workerCtx, queue, cfg.Queue.CleanInterval, cfg.Queue.CleanGrace, log.Logger)

	// ==================================================================
	// HTTP
	// ==================================================================
	checks := map[string]handler.CheckFunc{"mariadb": db.PingContext}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	e := handler.NewRouter(handler.RouterConfig{
		CORSOrigins: splitOrigins(cfg.App.CORSOrigin),
		Webhooks:    handler.NewWebhookHandler(queue, cfg.EverShop.WebhookSecret, cfg.App.IsDevelopment(), log.Logger),
		Chat:        handler.NewChatHandler(chat, log.Logger),
		Dashboard: handler.NewDashboardHandler(handler.DashboardConfig{
			Version:   version,
			CPUSample: 500 * time.Millisecond,
		}, queue, hub, checks, log.Logger),
		Assistant: handler.NewAssistantHandler(pause),
		Tokens:    verifier,
		Relay:     http.HandlerFunc(hub.ServeWS),
	}, log.Logger)

	addr := fmt.Sprintf(":%d", cfg.App.Port)
	serverErr := make(chan error, 1)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	log.Info().Str("addr", addr).Bool("inline_queue", queue.Inline()).Msg("server started")

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		log.Error().Err(err).Msg("http server failed")
		stop()
	}

	// ==================================================================
	// Graceful shutdown
	// ==================================================================
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	hub.Close()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	queue.Stop(cfg.App.ShutdownTimeout)
	cancelWorkers()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("failed to flush traces")
	}

	log.Info().Msg("server exited")
	return nil
}
