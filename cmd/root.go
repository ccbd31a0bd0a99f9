// Package cmd defines and implements the CLI commands for the lolpipeline
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PadTo/lol-match-pipeline/internal/config"
	"github.com/PadTo/lol-match-pipeline/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lolpipeline",
		Short: "Staged collector for ranked League of Legends match data.",
		Long: `lolpipeline walks the ranked ladder through the Riot API and persists
entries, match references, end-of-game records, and timelines to Postgres.
Stages run in dependency order and every write is idempotent, so interrupted
runs resume by re-running the same command.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env overrides use the PIPELINE_ prefix)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newInitDBCmd())

	return cmd
}

// loadConfig builds the service config plus its logger for a command run.
func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "lolpipeline: %v\n", err)
		os.Exit(1)
	}
}
