package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/angeloszaimis/healthgate/config"
	"github.com/angeloszaimis/healthgate/internal/httpserver"
	"github.com/angeloszaimis/healthgate/pkg/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "healthgate",
	Short:         "Health-monitoring API gateway",
	Long:          `healthgate probes a fixed set of backend services, caches their health and forwards resource requests to the service that owns them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway and the background health sweeps",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default: config.yaml in ./config or .)")
	rootCmd.AddCommand(serveCmd, checkCmd, sweepCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("healthgate failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFile(cfgPath)
	if err != nil {
		return err
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize gateway", slog.Any("err", err))
		return err
	}
	defer a.close()

	srv, err := httpserver.New(cfg.Server.Address, setupRouter(a))
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		return err
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	defer a.scheduler.Stop()

	srvErrCh := make(chan error, 1)

	go func() {
		log.Info("Gateway listening",
			slog.String("address", cfg.Server.Address),
			slog.Any("services", a.registry.Names()))
		srvErrCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting gateway", slog.Any("err", err))
			return err
		}
	}

	return nil
}
