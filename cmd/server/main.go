package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxbridge/asr-gateway/internal/asr"
	"github.com/voxbridge/asr-gateway/internal/config"
	"github.com/voxbridge/asr-gateway/internal/gateway"
	"github.com/voxbridge/asr-gateway/internal/observability"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("backend_url", cfg.BackendURL).
		Str("backend_mode", cfg.BackendMode).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("ASR Gateway Service starting")

	gw := gateway.New(cfg)

	// Create HTTP server
	mux := http.NewServeMux()

	// Client WebSocket endpoint
	mux.HandleFunc("/ws", gw.HandleWS())

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness: in real mode the backend's gRPC health service decides;
	// synthetic mode has no dependency to probe
	healthChecker := asr.NewHealthChecker(cfg.BackendGRPCTarget)
	defer healthChecker.Close()

	checks := map[string]observability.HealthCheckFunc{}
	if cfg.BackendMode == "real" {
		checks["recognition_backend"] = healthChecker.Check
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	// Read-only connection snapshot
	mux.HandleFunc("/status", gw.StatusHandler())

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts. WebSocket connections are
	// hijacked on upgrade, so these only bound the plain HTTP endpoints.
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownGraceSeconds)*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
