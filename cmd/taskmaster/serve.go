package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpapi "github.com/fyrsmithlabs/taskmaster/internal/http"
	"github.com/fyrsmithlabs/taskmaster/internal/mcp"
)

const (
	transportStdio = "stdio"
	transportHTTP  = "http"
)

func newServeCmd() *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor",
		Long: `Run the supervisor over one transport.

stdio (default) serves the single "taskmaster" MCP tool on stdin/stdout; logs go
to stderr. http serves the JSON API, /health and Prometheus /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch transport {
			case transportStdio, transportHTTP:
			default:
				return fmt.Errorf("unknown transport %q (want %s or %s)", transport, transportStdio, transportHTTP)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, transport)
		},
	}
	cmd.Flags().StringVarP(&transport, "transport", "t", transportStdio, "transport: stdio or http")
	return cmd
}

func runServe(ctx context.Context, transport string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Telemetry.ServiceVersion = version

	a, err := newApp(ctx, cfg, appOptions{
		stderrLogs: transport == transportStdio,
		telemetry:  true,
		events:     true,
	})
	if err != nil {
		return err
	}
	// ctx is already cancelled on the way out; shutdown gets a fresh deadline.
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		a.Close(shutdownCtx)
	}()

	zl := a.logger.Underlying()
	zl.Info("starting taskmaster",
		zap.String("version", version),
		zap.String("transport", transport),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("storage_path", cfg.Storage.Path),
	)

	if transport == transportHTTP {
		return serveHTTP(ctx, a)
	}
	return serveStdio(ctx, a)
}

func serveStdio(ctx context.Context, a *app) error {
	zl := a.logger.Underlying()
	srv, err := mcp.NewServer(&mcp.Config{
		Name:    "taskmaster",
		Version: version,
		Logger:  zl,
		Metrics: mcp.NewMetrics(zl),
	}, a.dispatcher)
	if err != nil {
		return fmt.Errorf("creating mcp server: %w", err)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	zl.Info("mcp server stopped")
	return nil
}

func serveHTTP(ctx context.Context, a *app) error {
	zl := a.logger.Underlying()
	sc := a.cfg.Server

	srv, err := httpapi.NewServer(a.dispatcher, a.store, zl, &httpapi.Config{
		Host:      sc.Host,
		Port:      sc.Port,
		RateLimit: sc.RateLimit,
		RateBurst: sc.RateBurst,
		APIToken:  sc.APIToken.Value(),
	},
		httpapi.WithTelemetry(a.telemetry),
		httpapi.WithMetrics(httpapi.NewHTTPMetrics(zl)),
	)
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), sc.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}
