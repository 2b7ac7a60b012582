package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/execd/internal/app"
	"github.com/michaelbrown/execd/internal/config"
	"github.com/michaelbrown/execd/internal/logging"
	"github.com/michaelbrown/execd/internal/server"
	"github.com/michaelbrown/execd/internal/telemetry"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the execd HTTP server",
	Long: `Start the execd HTTP server.

Endpoints:
  POST /execute         run a payload and return its output and images
  GET  /health          liveness probe
  GET  /artifacts/{id}  stored images (sqlite publisher only)

Examples:
  execd serve
  execd serve --port 9090
  PORT=8080 execd serve --config /etc/execd/execd.yaml`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Determine port
	if portFlag > 0 {
		cfg.Server.Port = portFlag
	}

	logger := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.NewProvider(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	defer shutdownTracing()

	a := app.New(ctx, cfg, logger)
	defer a.Close()
	go a.RunJanitor(ctx)

	srv := server.New(cfg, a.Service, a.Blobs, logger)

	stopped := make(chan error, 1)
	go func() {
		<-ctx.Done()
		stopped <- srv.Shutdown(context.Background())
	}()

	if err := srv.Start(cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-stopped
}
