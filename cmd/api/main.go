// Package main is the entry point for the event digest HTTP API.
//
// It loads configuration, assembles the digest pipeline, mounts the digest,
// subscribe and test-email endpoints on the core chassis and serves them
// until SIGINT or SIGTERM, then shuts down gracefully.
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

	"github.com/google/uuid"

	"eventdigest/internal/api/handlers"
	"eventdigest/internal/app"
	"eventdigest/internal/config"
	"eventdigest/internal/core"
	"eventdigest/internal/external"
	"eventdigest/internal/lock"
	"eventdigest/internal/ratelimit"
	"eventdigest/internal/telemetry"
)

// subscribeScope namespaces subscribe rate-limit keys.
const subscribeScope = "subscribe"

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
	logger.Info("event digest API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)
	if !cfg.Resend.APIKey.IsSet() {
		logger.Warn("RESEND_API_KEY not set; digest, subscribe and test-email endpoints will answer 503")
	}

	srv, err := buildServer(cfg, logger)
	if err != nil {
		return err
	}
	return runHTTPServer(srv, cfg, logger)
}

// buildServer wires the pipeline into a core.Server with every route mounted.
func buildServer(cfg *config.Config, logger *slog.Logger) (*core.Server, error) {
	prom := telemetry.NewPrometheusRecorder()

	pipeline, err := app.New(cfg, logger, app.Options{
		Recorder: prom,
		WorkerID: "api-" + uuid.NewString()[:8],
	})
	if err != nil {
		return nil, fmt.Errorf("assembling pipeline: %w", err)
	}

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		pipeline.Close()
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.Metrics = prom
	srv.MetricsHandler = prom.Handler()
	srv.OnShutdown(pipeline.Close)

	if pipeline.Redis != nil {
		srv.HealthProbes = append(srv.HealthProbes, lock.NewProbe(pipeline.Redis))
		srv.RateLimitStore = ratelimit.NewRedisStore(pipeline.Redis)
	} else {
		srv.RateLimitStore = ratelimit.NewMemoryStore()
	}

	// Without an API key the Resend client would only collect 401s, so the
	// handlers get nil and answer 503 themselves.
	var (
		registrar external.ContactRegistrar
		mailer    external.Mailer
	)
	if cfg.Resend.APIKey.IsSet() {
		registrar = pipeline.Clients.Registrar
		mailer = pipeline.Clients.Mailer
	}

	digestHandler := handlers.NewDigestHandler(pipeline.Dispatcher, cfg.Digest.TriggerSecret, logger)
	subscribeHandler := handlers.NewSubscribeHandler(
		registrar,
		core.RateLimitByIP(srv.RateLimitStore, subscribeScope,
			cfg.Server.SubscribeRateLimit, cfg.Server.SubscribeRateWindow, logger),
		srv.Validator,
		logger,
	)
	testEmailHandler := handlers.NewTestEmailHandler(mailer, handlers.TestEmailConfig{
		From:          cfg.Resend.FromAddress,
		DefaultTo:     cfg.Resend.TestRecipient,
		TriggerSecret: cfg.Digest.TriggerSecret,
	}, logger)

	srv.APIRouteRegistrars = append(srv.APIRouteRegistrars,
		digestHandler.RegisterRoutes,
		subscribeHandler.RegisterRoutes,
		testEmailHandler.RegisterRoutes,
	)

	srv.MountRoutes()
	return srv, nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// A digest run is bounded by REQUEST_TIMEOUT; leave room for the response.
		WriteTimeout: cfg.Server.RequestTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Channel to capture server errors from ListenAndServe.
	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error.
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

	// An in-flight digest keeps sending until its last recipient, so the
	// drain deadline matches the request timeout.
	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.RequestTimeout)
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

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
