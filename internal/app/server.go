// internal/app/server.go
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"lendingledger/internal/clock"
	"lendingledger/internal/httpapi"
	"lendingledger/internal/platform/config"
	"lendingledger/internal/platform/otel"
	"lendingledger/internal/platform/ratelimit"
)

// ServiceName identifies the daemon in telemetry.
const ServiceName = "lendingd"

// Run serves the ledger on cfg.Port until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen on port %s: %w", cfg.Port, err)
	}
	return Serve(ctx, ln, cfg, logger)
}

// Serve runs the daemon on ln: tracing, backend, services and HTTP, torn down in reverse on
// ctx cancellation.
func Serve(ctx context.Context, ln net.Listener, cfg config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	shutdownTracing, err := otel.Setup(ctx, ServiceName, cfg.OTelEndpoint)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error("otel shutdown", "error", err)
		}
	}()

	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Error("close backend", "store", backend.Name, "error", err)
		}
	}()

	services, err := backend.Services(cfg, clock.System{}, logger)
	if err != nil {
		_ = ln.Close()
		return err
	}

	var limiter *ratelimit.Store
	if cfg.RateLimitRPS > 0 {
		limiter = ratelimit.NewStore(cfg.RateLimitRPS, cfg.RateLimitBurst)
		limiter.StartJanitor(ctx)
	}

	srv := &http.Server{
		Handler:           httpapi.NewRouter(services, httpapi.Options{Logger: logger, Limiter: limiter}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("lending ledger listening", "addr", ln.Addr().String(), "store", backend.Name)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
