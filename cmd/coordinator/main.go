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

	"go.uber.org/zap"

	"github.com/dreamware/relay/internal/config"
	"github.com/dreamware/relay/internal/coordinator"
	"github.com/dreamware/relay/internal/logging"
	"github.com/dreamware/relay/internal/telemetry"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "coordinator: %v\n", err)
		os.Exit(1)
	}
}

// run loads the config named by args[0], binds the coordinator and serves
// until ctx is done. Config and bind errors are returned before serving.
func run(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: coordinator <config-file>")
	}

	cfg, err := config.LoadCoordinator(args[0])
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	telemetry.SetBuildInfo(version)

	c := coordinator.New(cfg, coordinator.WithLogger(logger))
	if err := c.Start(); err != nil {
		return err
	}

	var admin *http.Server
	if cfg.AdminAddr != "" {
		admin = &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           newAdminMux(c),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("admin listening", zap.String("addr", cfg.AdminAddr))
			if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("admin server failed", zap.Error(err))
			}
		}()
	}

	err = c.Serve(ctx)

	if admin != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = admin.Shutdown(shutdownCtx)
	}
	return err
}
