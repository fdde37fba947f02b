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
		dataDir     string
		advertiseIP string
		listenPort  uint16
		httpPort    uint16
		coordAddr   string
	)

	cmd := &cobra.Command{
		Use:   "hyperdex-daemon",
		Short: "Hosts regions and answers client requests for one HyperDex storage node.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), dataDir, advertiseIP, listenPort, httpPort, coordAddr)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&dataDir, "data", "./data", "directory this daemon persists its regions and checkpoint under")
	flags.StringVar(&advertiseIP, "advertise-ip", "127.0.0.1", "IP the coordinator should hand out to peers for reaching this daemon")
	flags.Uint16Var(&listenPort, "listen-port", 2120, "TCP port this daemon accepts chain-replication and transfer connections on")
	flags.Uint16Var(&httpPort, "http-port", 8080, "TCP port this daemon serves its client HTTP API on")
	flags.StringVar(&coordAddr, "connect", "http://127.0.0.1:2121", "base URL of the coordinator to register with")

	return cmd
}

func runDaemon(ctx context.Context, dataDir, advertiseIP string, listenPort, httpPort uint16, coordAddr string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	d := NewDaemon(dataDir, advertiseIP, listenPort, httpPort, coordAddr, logger)
	if err := d.openCheckpoint(); err != nil {
		return fmt.Errorf("open checkpoint: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Register(ctx); err != nil {
		return fmt.Errorf("register with coordinator: %w", err)
	}

	inboundAddr := fmt.Sprintf(":%d", listenPort)
	go func() {
		if err := d.ListenAndServeInbound(ctx, inboundAddr); err != nil {
			logger.Error("inbound listener stopped", zap.Error(err))
		}
	}()

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           d.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	httpListener, err := net.Listen("tcp", httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("listen for client HTTP: %w", err)
	}

	go func() {
		logger.Info("serving client API", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.Serve(httpListener); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	return d.Close(shutdownCtx)
}
