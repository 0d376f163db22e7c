package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tidefall/convoy/internal/application/dispatch"
	"github.com/tidefall/convoy/internal/application/queue"
	"github.com/tidefall/convoy/internal/application/reclaimer"
	"github.com/tidefall/convoy/internal/config"
	convoyhttp "github.com/tidefall/convoy/internal/http"
	"github.com/tidefall/convoy/internal/http/handler"
	"github.com/tidefall/convoy/internal/infrastructure/persistence/postgres"
	"github.com/tidefall/convoy/pkg/observability"
)

const (
	defaultPort            = "8080"
	defaultShutdownTimeout = 30 * time.Second
	defaultServiceName     = "convoy-coordinator"
)

func main() {
	if err := run(); err != nil {
		// slog may not be initialized yet when config loading fails
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadCoordinatorConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	// Root context for all normal operations, cancelled on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	serviceName := cfg.Observability.ServiceName
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	providers, err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Observability.OTelEnabled,
		ServiceName: serviceName,
	})
	if err != nil {
		return fmt.Errorf("failed to init observability: %w", err)
	}
	defer func() {
		// Fresh timeout so a dead collector cannot hang process exit
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "failed to shutdown observability providers", "error", err)
		}
	}()
	slog.SetDefault(providers.Logger)

	slog.InfoContext(ctx, "starting convoy coordinator")

	store, err := postgres.NewStoreWithConfig(ctx, postgres.DBConfig{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		RunMigrations:   cfg.Database.AutoMigrate,
	})
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	defer store.Close()

	slog.InfoContext(ctx, "storage initialized", "dsn", maskPassword(cfg.Database.DSN))

	submissionQueue := queue.NewQueue(ctx, store, queue.Config{
		HandoffSize:      cfg.Queue.HandoffSize,
		MaxRetries:       cfg.Queue.MaxRetries,
		WriteAttempts:    cfg.Queue.WriteAttempts,
		WriteBaseDelay:   cfg.Queue.WriteBaseDelay,
		WriteMaxDelay:    cfg.Queue.WriteMaxDelay,
		OperationTimeout: cfg.Queue.OperationTimeout,
	}, providers.Logger)

	dispatchService := dispatch.NewService(store, dispatch.Config{
		DefaultPageSize: cfg.Dispatch.DefaultPageSize,
		MaxPageSize:     cfg.Dispatch.MaxPageSize,
		StaleThreshold:  cfg.Dispatch.StaleThreshold,
	}, providers.Logger)

	// Each instance gets a unique lease holder identity so concurrent
	// coordinators can tell their reclaim passes apart.
	reclaimCfg := reclaimer.DefaultConfig(uuid.NewString())
	if cfg.Reclaim.Interval > 0 {
		reclaimCfg.Interval = cfg.Reclaim.Interval
	}
	if cfg.Reclaim.MaxStartupJitter > 0 {
		reclaimCfg.MaxStartupJitter = cfg.Reclaim.MaxStartupJitter
	}
	if cfg.Reclaim.StaleThreshold > 0 {
		reclaimCfg.StaleThreshold = cfg.Reclaim.StaleThreshold
	}
	if cfg.Reclaim.LeaseDuration > 0 {
		reclaimCfg.LeaseDuration = cfg.Reclaim.LeaseDuration
	}
	reclaimWorker := reclaimer.NewWorker(store, store, reclaimCfg, providers.Logger)

	reclaimCtx, stopReclaim := context.WithCancel(ctx)
	reclaimDone := make(chan struct{})
	go func() {
		defer close(reclaimDone)
		if err := reclaimWorker.Run(reclaimCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.ErrorContext(reclaimCtx, "reclaim worker stopped", "error", err)
		}
	}()

	router := convoyhttp.NewRouter(handler.NewServer(submissionQueue, dispatchService), convoyhttp.RouterConfig{
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	})

	port := cfg.HTTP.Port
	if port == "" {
		port = defaultPort
	}
	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.HTTP.Host, port),
		Handler:           otelhttp.NewHandler(router, "convoy-coordinator"),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	errResult := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "HTTP server listening", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errResult <- fmt.Errorf("failed to serve HTTP: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.InfoContext(ctx, "shutting down")
	case err := <-errResult:
		stopReclaim()
		return err
	}

	// Shutdown order: stop taking requests, stop the reclaim loop, drain
	// the submission queue, then close the pool everything writes through.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.WarnContext(shutdownCtx, "HTTP server shutdown timeout", "error", err)
	} else {
		slog.InfoContext(shutdownCtx, "HTTP server shutdown complete")
	}

	stopReclaim()
	select {
	case <-reclaimDone:
	case <-shutdownCtx.Done():
		slog.WarnContext(shutdownCtx, "reclaim worker shutdown timeout")
	}

	if err := submissionQueue.Shutdown(shutdownCtx); err != nil {
		slog.WarnContext(shutdownCtx, "submission queue shutdown timeout", "error", err)
	} else {
		slog.InfoContext(shutdownCtx, "submission queue drained")
	}

	return nil
}

// maskPassword masks the password in a connection string for logging.
func maskPassword(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil {
		// Full redaction when parsing fails
		return "[REDACTED]"
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "xxxxxx")
		}
	}
	return u.String()
}
