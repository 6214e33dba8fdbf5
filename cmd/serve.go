package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marcus/gridsave/internal/api"
	"github.com/marcus/gridsave/internal/serverdb"
)

var serveFlags struct {
	addr string
	db   string
}

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the reference document API",
	GroupID: "core",
	Args:    cobra.NoArgs,
	Long: `Serve the versioned document API the autosave engine writes to.

Configuration comes from the environment: GRIDSAVE_LISTEN_ADDR, GRIDSAVE_DB_PATH,
GRIDSAVE_SHUTDOWN_TIMEOUT, GRIDSAVE_RATE_LIMIT_WRITES, GRIDSAVE_MAX_BATCH_ITEMS and
GRIDSAVE_CORS_ALLOWED_ORIGINS. Logs are JSON unless --log-format says otherwise.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := api.LoadConfig()
		if serveFlags.addr != "" {
			cfg.ListenAddr = serveFlags.addr
		}
		if serveFlags.db != "" {
			cfg.DBPath = serveFlags.db
		}
		// The server logs in its own configured format unless a flag asks otherwise.
		if !cmd.Flags().Changed("log-level") {
			logLevel = cfg.LogLevel
		}
		if !cmd.Flags().Changed("log-format") {
			logFormat = cfg.LogFormat
		}
		if err := installLogger(logLevel, logFormat); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg)
	},
}

// runServer serves cfg until ctx is done, then drains within cfg.ShutdownTimeout.
func runServer(ctx context.Context, cfg api.Config) error {
	store, err := serverdb.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.DBPath, err)
	}
	defer store.Close()

	srv, err := api.NewServer(cfg, store)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	slog.Info("server started", "addr", srv.Addr().String(), "db", cfg.DBPath, "schema", store.SchemaVersion())

	<-ctx.Done()
	slog.Info("shutting down", "timeout", cfg.ShutdownTimeout.String())
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.addr, "addr", "", "listen address (overrides GRIDSAVE_LISTEN_ADDR)")
	serveCmd.Flags().StringVar(&serveFlags.db, "db", "", "SQLite database path (overrides GRIDSAVE_DB_PATH)")
	rootCmd.AddCommand(serveCmd)
}
