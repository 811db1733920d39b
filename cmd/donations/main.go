package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kelseyhightower/envconfig"

	"givingplatform/internal/campaign"
	campaignapi "givingplatform/internal/campaign/api"
	"givingplatform/internal/common/database"
	"givingplatform/internal/common/middleware"
	natsclient "givingplatform/internal/common/nats"
	"givingplatform/internal/donation"
	donationapi "givingplatform/internal/donation/api"
	"givingplatform/internal/providers/paypal"
	"givingplatform/internal/providers/stripe"
	"givingplatform/internal/receipts"
	"givingplatform/internal/recon"
	reconapi "givingplatform/internal/recon/api"
	"givingplatform/migrations"
)

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"DONATIONS_PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	Database database.Config
	NATS     natsclient.Config
	Stripe   stripe.Config
	PayPal   paypal.Config
}

func main() {
	// Load configuration
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	// Create context that listens for shutdown signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Run migrations
	if err := database.Migrate(cfg.Database.URL, migrations.FS, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Connect to database
	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to NATS
	nc, err := natsclient.New(ctx, cfg.NATS, logger)
	if err != nil {
		logger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()

	if _, err := nc.EnsureStream(ctx, natsclient.DefaultStreamConfig("GIVING", []string{"events.>"})); err != nil {
		logger.Error("failed to ensure event stream", "error", err)
		os.Exit(1)
	}

	publisher := natsclient.NewPublisher(nc, logger)

	// Create stores
	donationStore := donation.NewPostgresStore(db)
	caseStore := campaign.NewPostgresStore(db)
	orphanStore := recon.NewPostgresOrphanStore(db)

	// Create services
	donationService := donation.NewService(donationStore, publisher, logger)
	receiptTrigger := receipts.NewTrigger(publisher, logger)
	matcher := recon.NewMatcher(donationStore, logger)
	engine := recon.NewEngine(donationStore, matcher, caseStore, orphanStore, receiptTrigger, publisher, logger)

	// Create handlers
	donationHandler := donationapi.NewHandler(donationService)
	caseHandler := campaignapi.NewHandler(caseStore)
	orphanHandler := reconapi.NewHandler(orphanStore)
	stripeWebhook := stripe.NewWebhookHandler(engine, cfg.Stripe, logger)
	paypalWebhook := paypal.NewWebhookHandler(engine, cfg.PayPal, logger)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Compress(5))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		if err := nc.HealthCheck(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Ready check
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/donations", donationHandler.Routes())
		r.Mount("/cases", caseHandler.Routes())
		r.Mount("/orphans", orphanHandler.Routes())
	})

	// Provider webhooks
	r.Post("/webhooks/stripe", stripeWebhook.ServeHTTP)
	r.Post("/webhooks/paypal", paypalWebhook.ServeHTTP)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting donations service",
			"port", cfg.Port,
			"environment", cfg.Environment,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
