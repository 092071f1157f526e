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
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kelseyhightower/envconfig"

	adminapi "creatorpay/internal/admin/api"
	"creatorpay/internal/common/database"
	"creatorpay/internal/common/middleware"
	natsclient "creatorpay/internal/common/nats"
	"creatorpay/internal/feeconfig"
	"creatorpay/internal/funding"
	"creatorpay/internal/notify"
	"creatorpay/internal/payment"
	paymentapi "creatorpay/internal/payment/api"
	"creatorpay/internal/payout"
	payoutapi "creatorpay/internal/payout/api"
	"creatorpay/internal/providers/connect"
	"creatorpay/internal/providers/rates"
)

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"ENGINE_PORT" default:"8086"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	Database database.Config
	NATS     natsclient.Config
	Connect  connect.Config
	Rates    rates.Config
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

	// Apply schema migrations before taking traffic
	if err := database.Migrate(cfg.Database.URL, logger); err != nil {
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

	if _, err := nc.EnsureStream(ctx, natsclient.DefaultStreamConfig("CREATORPAY_EVENTS", []string{"events.>"})); err != nil {
		logger.Error("failed to ensure event stream", "error", err)
		os.Exit(1)
	}
	publisher := natsclient.NewPublisher(nc, logger)

	// Provider adapters
	connectAdapter := connect.NewAdapter(cfg.Connect, logger)
	ratesAdapter := rates.NewAdapter(cfg.Rates, logger)

	// Stores
	paymentStore := payment.NewPostgresStore(db.Pool())
	payoutStore := payout.NewPostgresStore(db.Pool())
	fundingStore := funding.NewPostgresStore(db.Pool())
	feeStore := feeconfig.NewPostgresStore(db)

	// Services
	feeCache := feeconfig.NewCache(feeStore)
	cryptoValidator := payout.NewCryptoValidator(ratesAdapter, logger)
	payoutRegistry := payout.NewRegistry(payoutStore, connectAdapter, cryptoValidator, paymentStore, publisher, logger)
	bankFlow := payout.NewBankVerification(payoutStore, connectAdapter, publisher, logger)
	fundingRegistry := funding.NewRegistry(fundingStore, publisher, logger)
	notifier := notify.New(nc.Conn(), logger)

	paymentService := payment.NewService(
		paymentStore,
		feeCache,
		&methodSource{registry: payoutRegistry},
		fundingRegistry,
		connectAdapter,
		notifier,
		publisher,
		logger,
	)

	// Handlers
	paymentHandler := paymentapi.NewHandler(paymentService)
	payoutHandler := payoutapi.NewHandler(payoutRegistry, bankFlow, cryptoValidator)
	adminHandler := adminapi.NewHandler(feeCache, fundingRegistry, publisher, logger)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.ActorExtractor)
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
		r.Mount("/payments", paymentHandler.Routes())
		r.Mount("/payout-methods", payoutHandler.Routes())

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleAdmin, middleware.RoleSystem))
			r.Mount("/fee-config", adminHandler.FeeConfigRoutes())
			r.Mount("/funding-accounts", adminHandler.FundingRoutes())
		})
	})

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
		logger.Info("starting settlement engine",
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

// methodSource resolves a creator's verified default payout method for
// the settlement path.
type methodSource struct {
	registry *payout.Registry
}

func (m *methodSource) VerifiedDefault(ctx context.Context, ownerID string) (*payment.Destination, error) {
	method, err := m.registry.DefaultMethod(ctx, ownerID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: no default payout method for %s", payment.ErrMethodNotVerified, ownerID)
		}
		return nil, err
	}
	if !method.UsableForPayout() {
		return nil, fmt.Errorf("%w: method %s", payment.ErrMethodNotVerified, method.ID)
	}

	return &payment.Destination{
		MethodID:              method.ID,
		Kind:                  string(method.Kind),
		Email:                 method.Email,
		ProviderAccountID:     method.ProviderAccountID,
		ProviderBankAccountID: method.ProviderBankAccountID,
		WalletAddress:         method.WalletAddress,
		Network:               method.Network,
	}, nil
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
