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

	"github.com/upb/llm-governance-gateway/app"
	"github.com/upb/llm-governance-gateway/config"
	"github.com/upb/llm-governance-gateway/internal/observability"
	"github.com/upb/llm-governance-gateway/routes"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "api-gateway: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.New(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("starting api-gateway",
		zap.String("environment", cfg.Environment),
		zap.String("quota_backend", cfg.Quota.Backend),
		zap.String("audit_sink", cfg.Audit.Sink),
	)
	if cfg.Database != nil {
		logger.Info("database configured", zap.String("database", cfg.Database.LogString()))
	}

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv := newServer(cfg.Server, routes.SetupRoutes(deps))
	return serve(ctx, srv, deps, cfg.Server.ShutdownTimeout)
}

func newServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Address(),
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}
}

// serve blocks until ctx is canceled or the listener fails, then drains
// in-flight requests and releases dependencies.
func serve(ctx context.Context, srv *http.Server, deps *app.Dependencies, shutdownTimeout time.Duration) error {
	logger := deps.Logger

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api-gateway listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("server error", zap.Error(serveErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		serveErr = errors.Join(serveErr, err)
	}
	if err := deps.Close(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, err)
	}
	return serveErr
}
