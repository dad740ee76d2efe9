package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	coachErrors "github.com/ZaguanLabs/coach/internal/errors"
	"github.com/ZaguanLabs/coach/internal/insights"
	"github.com/ZaguanLabs/coach/internal/logging"
	"github.com/ZaguanLabs/coach/internal/provider"
	"github.com/ZaguanLabs/coach/internal/server"
)

var serveAddrPort int

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coach HTTP API",
	Long: `Run the coach HTTP API on the configured host and port.

Examples:
  # Listen on the configured address
  coach serve

  # Override the port
  coach serve --port 9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&serveAddrPort, "port", 0, "port to listen on (overrides server.port)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddrPort > 0 {
		cfg.Server.Port = serveAddrPort
	}

	coachErrors.SetErrorSecurityLevel(coachErrors.ParseErrorSecurityLevel(cfg.Server.ErrorDetail))

	logger, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logging.Sync(logger) }()

	profile, err := insights.ParseProfile(cfg.Coach.Profile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := server.NewMetrics()
	svc, store, err := newService(ctx, cfg, logger, profile, provider.WithObserver(metrics.ObserveProvider))
	if err != nil {
		return err
	}
	defer store.Close()

	srv, err := server.NewServer(svc, logger, cfg.Server, metrics)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(gctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = g.Wait()
	if ctx.Err() != nil {
		logger.Info("shutdown requested")
	}
	if err != nil {
		logger.Error("server stopped", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}
