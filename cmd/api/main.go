// Package main is the entry point for the LeadNinja metering API server.
//
// It loads configuration, connects to PostgreSQL, wires the metering
// services onto the core HTTP chassis (middleware, routing, health checks),
// and serves requests until a shutdown signal arrives.
//
// The server exposes three route groups:
//   - account-facing billing endpoints, behind bearer-token auth;
//   - the privileged usage-settlement endpoint, behind the internal API key;
//   - the payment-processor webhook, behind signature verification.
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

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"leadninja/internal/api/handlers"
	"leadninja/internal/auth"
	"leadninja/internal/billing"
	"leadninja/internal/config"
	"leadninja/internal/core"
	"leadninja/internal/db"
	"leadninja/internal/external"
	"leadninja/internal/queue"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(config.NewEnvVarProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("leadninja metering API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	// Database pool.
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	// Repositories.
	planRepo := db.NewPlanRepo(pool)
	subRepo := db.NewSubscriptionRepo(pool, logger)
	tokenRepo := db.NewAccountTokenRepo(pool)
	settler := db.NewSettler(pool, logger)

	// Domain services.
	admission := billing.NewAdmissionController(subRepo, planRepo, settler, logger)
	provisioner := billing.NewProvisioner(subRepo, planRepo, logger)
	tokenSvc := auth.NewTokenService(tokenRepo, logger)

	// Event queue publisher for verified webhook deliveries.
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = &cfg.AWS.EndpointURL
		}
	})
	publisher := queue.NewEventPublisher(sqsClient, cfg.AWS.ProcessorEventQueue, logger)

	// Webhook signature verification. Local runs without real processor
	// signatures use the permissive stub.
	var verifier external.WebhookVerifier = &external.StripeVerifier{}
	if cfg.Environment == "local" {
		logger.Warn("using stub webhook verifier; signatures are NOT checked")
		verifier = external.NewStubWebhookVerifier(logger)
	}

	// HTTP chassis.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Authenticator = tokenSvc
	srv.HealthProbes = append(srv.HealthProbes, &core.DatabaseProbe{Pool: pool})
	srv.OnShutdown(func(context.Context) error {
		pool.Close()
		return nil
	})

	billingHandler := handlers.NewBillingHandler(admission, provisioner, srv.Validator, logger)
	webhookHandler := handlers.NewWebhookHandler(verifier, publisher, cfg.Billing.StripeWebhookSecret.Unmask(), logger)

	// Account endpoints go behind bearer-token auth.
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, billingHandler.RegisterRoutes)

	// The webhook carries its own signature check and lives at the root so
	// the processor delivery URL stays stable across API versions.
	srv.WebhookRouteRegistrars = append(srv.WebhookRouteRegistrars, webhookHandler.RegisterRoutes)

	// The internal endpoints carry the API-key check instead of bearer auth.
	srv.PublicRouteRegistrars = append(srv.PublicRouteRegistrars,
		func(r chi.Router) {
			r.Group(func(g chi.Router) {
				g.Use(srv.InternalAuthMiddleware)
				billingHandler.RegisterInternalRoutes(g)
			})
		},
	)

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// newPool builds the pgx connection pool with the configured tuning.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.Database.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Database.AcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// runHTTPServer starts the server with graceful shutdown on SIGINT/SIGTERM.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	}))
}
