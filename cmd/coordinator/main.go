package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		listenAddr     string
		healthInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "hyperdex-coordinator",
		Short: "Tracks cluster membership and produces the configuration every daemon installs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCoordinator(cmd.Context(), listenAddr, healthInterval)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&listenAddr, "listen", ":2121", "address this coordinator's HTTP API listens on")
	flags.DurationVar(&healthInterval, "health-interval", 5*time.Second, "interval between health probes of every registered host")

	return cmd
}

func runCoordinator(ctx context.Context, listenAddr string, healthInterval time.Duration) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := newServer(healthInterval, logger)
	go s.startHealthMonitor(ctx)

	httpSrv := &http.Server{
		Addr:              listenAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		logger.Info("coordinator listening", zap.String("addr", listenAddr))
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	s.healthMonitor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
