// Package main is the entry point for the Newsline API server.
//
// It loads configuration, connects to MongoDB, wires the auth and billing
// services onto the core chassis (middleware, routing, health checks), and
// starts listening for requests. Graceful shutdown is handled via OS signal
// interception (SIGINT, SIGTERM).
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

	"newsline/internal/api/handlers"
	"newsline/internal/auth"
	"newsline/internal/config"
	"newsline/internal/core"
	"newsline/internal/external"
	"newsline/internal/store"
	"newsline/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("newsline API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	// Connect to MongoDB and ensure the indexes the domain relies on
	// (unique lowered email, session TTL).
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), cfg.Store.Timeout)
	defer cancelConnect()

	mongoClient, db, err := store.Connect(connectCtx, cfg.Store)
	if err != nil {
		return fmt.Errorf("connecting to mongodb: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongoClient.Disconnect(ctx); err != nil {
			logger.Error("mongodb disconnect error", "error", err)
		}
	}()

	if err := store.EnsureIndexes(connectCtx, db); err != nil {
		return fmt.Errorf("ensuring mongodb indexes: %w", err)
	}

	// Repositories.
	userRepo := store.NewUserRepository(db)
	sessionRepo := store.NewSessionRepository(db)

	// Domain services.
	clock := &types.RealClock{}
	reconciler := auth.NewSignInReconciler(userRepo, clock, logger)

	sessionCfg := auth.DefaultSessionConfig()
	sessionCfg.SessionDuration = cfg.Auth.SessionTTL
	tokens := auth.NewCryptoTokenGenerator()
	sessionSvc := auth.NewSessionService(sessionRepo, tokens, sessionCfg, clock, logger)

	// Outbound integrations.
	githubProvider := external.NewGithubProvider(
		&http.Client{Timeout: 15 * time.Second},
		external.GithubProviderConfig{
			ClientID:     cfg.Auth.GithubClientID,
			ClientSecret: cfg.Auth.GithubClientSecret.Unmask(),
			RedirectURL:  cfg.Server.AppURL + "/auth/github/callback",
			Logger:       logger,
		},
	)

	stripeClient := external.NewStripeClient(
		&http.Client{Timeout: 20 * time.Second},
		userRepo,
		external.StripeClientConfig{
			SecretKey:  cfg.Billing.StripeSecretKey.Unmask(),
			SuccessURL: cfg.Billing.CheckoutSuccessURL,
			CancelURL:  cfg.Billing.CheckoutCancelURL,
			Logger:     logger,
		},
	)
	stripeVerifier := &external.StripeVerifier{}

	// HTTP handlers.
	authHandler := handlers.NewAuthHandler(
		githubProvider,
		reconciler,
		sessionSvc,
		tokens,
		handlers.AuthHandlerConfig{
			AppURL:        cfg.Server.AppURL,
			SecureCookies: cfg.Auth.SecureCookies,
		},
		logger,
	)
	subscribeHandler := handlers.NewSubscribeHandler(sessionSvc, userRepo, stripeClient, logger)
	webhookHandler := handlers.NewStripeWebhookHandler(
		stripeVerifier,
		userRepo,
		cfg.Billing.StripeWebhookSecret.Unmask(),
		logger,
	)

	// Server chassis.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = append(srv.HealthProbes, &store.Probe{Client: mongoClient})
	srv.RouteRegistrars = append(srv.RouteRegistrars,
		authHandler.RegisterRoutes,
		subscribeHandler.RegisterRoutes,
		webhookHandler.RegisterRoutes,
	)
	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
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

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
