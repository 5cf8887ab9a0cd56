// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/taskd/internal/auth"
	"github.com/holomush/taskd/internal/httpapi"
	"github.com/holomush/taskd/internal/observability"
)

const shutdownTimeout = 10 * time.Second

// serveDeps contains injectable dependencies for the serve command.
// Nil fields use their defaults.
type serveDeps struct {
	// connect opens the database pool. Default: store.Connect
	connect connectFunc
	// listen binds the API listener. Default: net.Listen
	listen func(network, address string) (net.Listener, error)
	// onReady is called with the bound API and metrics addresses once both
	// listeners accept connections. The metrics address is "" when disabled.
	onReady func(apiAddr, metricsAddr string)
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the auth API",
		Long: `Serve the /api/auth endpoints, plus /metrics and health probes on
the metrics address.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, nil)
		},
	}

	cmd.Flags().String("addr", "", "API listen address (default :8080)")
	cmd.Flags().String("metrics-addr", "", "metrics/health HTTP address (default 127.0.0.1:9100)")
	cmd.Flags().String("store", "", "storage backend (postgres or memory)")
	cmd.Flags().String("environment", "", "deployment environment (development, test, production)")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, deps *serveDeps) error {
	if deps == nil {
		deps = &serveDeps{}
	}
	if deps.listen == nil {
		deps.listen = net.Listen
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, logger, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "starting taskd",
		slog.String("version", version),
		slog.String("store", cfg.Store),
		slog.String("addr", cfg.HTTP.Addr),
	)

	b, err := openBackend(ctx, cfg, logger, deps.connect)
	if err != nil {
		return err
	}
	defer b.close()

	var (
		obsServer *observability.Server
		recorder  auth.EventRecorder
		observer  httpapi.HTTPObserver
	)
	if cfg.Metrics.Addr != "" {
		obsServer = observability.NewServer(cfg.Metrics.Addr, b.ready, logger)
		recorder = obsServer.Metrics()
		observer = obsServer.Metrics()
	}

	svc, err := newService(cfg, b, logger, recorder)
	if err != nil {
		return err
	}
	handler, err := httpapi.NewRouter(svc, httpapi.RouterOptions{
		Logger:      logger,
		Observer:    observer,
		CORSOrigins: cfg.HTTP.CORSOrigins,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metricsAddr := ""
	if obsServer != nil {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return err
		}
		defer stopObservability(obsServer, logger)
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
		metricsAddr = obsServer.Addr()
	}

	listener, err := deps.listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}

	apiServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		if serveErr := apiServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	logger.InfoContext(ctx, "taskd ready",
		slog.String("addr", listener.Addr().String()),
		slog.String("metrics_addr", metricsAddr),
	)
	if deps.onReady != nil {
		deps.onReady(listener.Addr().String(), metricsAddr)
	}

	var serveErr error
	select {
	case serveErr = <-errCh:
		serveErr = oops.Code("SERVE_FAILED").Wrap(serveErr)
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping API server", slog.String("error", err.Error()))
	}

	logger.Info("shutdown complete")
	return serveErr
}

func stopObservability(srv *observability.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", slog.String("error", err.Error()))
	}
}

// monitorServerErrors cancels ctx when a background server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, name string, logger *slog.Logger) {
	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok && err != nil {
			logger.Error("server failed", slog.String("server", name), slog.String("error", err.Error()))
			cancel()
		}
	}
}
