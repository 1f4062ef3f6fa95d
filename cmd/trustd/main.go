// Command trustd opens the trust and credential stores and serves the
// loopback management API.
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

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	httphandler "github.com/ericfisherdev/trustkit/internal/adapter/driving/http"
	"github.com/ericfisherdev/trustkit/internal/app"
	"github.com/ericfisherdev/trustkit/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on invalid env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	logger.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"data_dir", cfg.DataDir,
		"bundled_anchors_dir", cfg.BundledAnchorsDir,
		"trust_system_fallback", cfg.TrustSystemFallback,
		"accept_unanchored", cfg.AcceptUnanchored,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open stores and build the initial TrustManager. The daemon never
	// prompts, so no prompter is wired.
	sub, err := app.Open(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Close() }()

	// 4. Create HTTP handler and register API routes.
	apiHandler := httphandler.NewHandler(sub.Secrets, sub.Certificates, sub.Trust, logger)
	handler := httphandler.NewServeMux(apiHandler, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	tm := sub.Trust.TrustManager()
	logger.Info("trustd started",
		"listen_addr", cfg.ListenAddr,
		"trust_generation", tm.Generation(),
		"anchors", len(tm.Anchors()),
	)

	// 5. Wait for shutdown signal.
	<-ctx.Done()
	logger.Info("shutting down")

	// 6. Graceful shutdown with 10s timeout for in-flight requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
