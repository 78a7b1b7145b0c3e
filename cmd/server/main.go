package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukerupert/vanir/internal"
	"github.com/dukerupert/vanir/internal/billing"
	"github.com/dukerupert/vanir/internal/events"
	"github.com/dukerupert/vanir/internal/handler/api"
	"github.com/dukerupert/vanir/internal/handler/webhook"
	"github.com/dukerupert/vanir/internal/middleware"
	"github.com/dukerupert/vanir/internal/postgres"
	"github.com/dukerupert/vanir/internal/service"
	"github.com/dukerupert/vanir/internal/telemetry"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database/sql connection for migrations
	logger.Info().Msg("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info().Msg("Database connection established")

	// Run migrations
	logger.Info().Msg("Running database migrations...")
	if err := internal.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info().Msg("Database migrations completed successfully")

	// Initialize pgx connection pool for application
	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	store := postgres.NewBillingStore(pool)

	metrics := telemetry.NewBusinessMetrics("vanir")

	// Initialize Polar client
	polarClient, err := billing.NewClient(cfg.Polar.AccessToken, cfg.Polar.Server, metrics)
	if err != nil {
		if cfg.Env == "prod" {
			return fmt.Errorf("failed to initialize Polar client: %w", err)
		}
		logger.Warn().Err(err).Msg("POLAR_ACCESS_TOKEN not set, using placeholder token")
		polarClient, _ = billing.NewClient("polar_at_placeholder", cfg.Polar.Server, metrics)
	}

	verifier, err := billing.NewWebhookVerifier(cfg.Polar.WebhookSecret)
	if err != nil {
		if cfg.Env == "prod" {
			return fmt.Errorf("failed to initialize webhook verifier: %w", err)
		}
		logger.Warn().Err(err).Msg("webhook verification disabled, using dev secret")
		verifier, _ = billing.NewWebhookVerifier("whsec_ZGV2LW9ubHktc2VjcmV0")
	}

	// Initialize NATS publisher (optional)
	publisher, err := events.NewPublisher(cfg.NatsURL, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer publisher.Close()
	if publisher == nil {
		logger.Info().Msg("NATS_URL not set, billing notifications disabled")
	}

	reconciler := service.NewReconciler(store, publisher, metrics, logger)
	webhookHandler := webhook.NewPolarHandler(verifier, reconciler, metrics, logger)
	billingAPI := api.NewBillingHandler(polarClient, store, cfg.BaseURL, logger)

	// ==========================================================================
	// Routes
	// ==========================================================================

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLogger(logger))

	e.POST("/webhooks/polar", webhookHandler.HandleWebhook)

	apiGroup := e.Group("/api")
	apiGroup.GET("/checkout", billingAPI.CreateCheckout)
	apiGroup.POST("/portal", billingAPI.CreatePortalSession)
	apiGroup.GET("/products", billingAPI.ListProducts)
	apiGroup.GET("/subscription", billingAPI.GetSubscriptionStatus)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error {
		if err := pool.Ping(c.Request().Context()); err != nil {
			return c.String(http.StatusServiceUnavailable, "database unavailable")
		}
		return c.String(http.StatusOK, "OK")
	})

	// ==========================================================================
	// Start server
	// ==========================================================================

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info().Str("address", addr).Msg("Starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
