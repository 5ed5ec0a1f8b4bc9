package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/italolelis/assetflow/internal/config"
	"github.com/italolelis/assetflow/internal/logctx"
	"github.com/italolelis/assetflow/internal/storage/sqlite"
)

var version = "dev"

// app carries what every subcommand needs once the root command has run.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "assetflow",
		Short:         "Asset distribution service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}

			a.cfg = cfg
			a.logger = slog.New(logctx.NewTraceHandler(
				slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
			))
			slog.SetDefault(a.logger)

			cmd.SetContext(logctx.WithLogger(cmd.Context(), a.logger))

			return nil
		},
	}

	root.AddCommand(
		newServeCmd(a),
		newServerCmd(a),
		newTokenCmd(a),
		newGroupCmd(a),
		newDeployPathCmd(a),
	)

	return root
}

func (a *app) openDB() (*sql.DB, error) {
	return sqlite.InitDB(a.cfg.DBPath)
}
