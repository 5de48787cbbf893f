package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/advisory"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/api"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/diagnostics"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/events"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the personatwin API server.

The server accepts anonymization runs over REST, persists results to the
run store, and streams run progress over SSE.

Examples:
  # Start with defaults (127.0.0.1:8420)
  personatwin serve

  # Bind to all interfaces on another port
  personatwin serve --addr 0.0.0.0:9000`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (host:port)")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	runStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = runStore.Close() }()

	provider, err := openProvider(cfg)
	if err != nil {
		return err
	}

	bus := events.New(100)
	defer bus.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	monitor := diagnostics.NewResourceMonitor(30*time.Second, 80, 10000, 0, 120, logger.Logger)
	monitor.Start(ctx)
	defer monitor.Stop()

	server := api.NewServer(runStore, bus,
		api.WithLogger(logger.Logger),
		api.WithProvider(provider),
		api.WithAdvisor(advisory.NewHeuristic()),
		api.WithWorkers(cfg.Pipeline.Workers),
		api.WithCORSOrigins(cfg.Server.CORSOrigins),
		api.WithMonitor(monitor),
	)

	logger.Info("serving",
		"addr", cfg.Server.Addr,
		"store", cfg.Store.Path,
		"domain_default", cfg.Pipeline.Domain,
	)

	if err := server.ListenAndServe(ctx, cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	logger.Info("server stopped")
	return nil
}
