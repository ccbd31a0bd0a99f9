package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PadTo/lol-match-pipeline/internal/store/postgres"
)

// newInitDBCmd creates the 'initdb' subcommand, which applies the schema to
// the configured database. Safe to re-run; every statement is idempotent.
func newInitDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "initdb",
		Short: "Creates the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort flush

			st, err := postgres.New(ctx, cfg.StoreConfig())
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer st.Close()

			if err := st.InitSchema(ctx); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
			logger.Info("database schema applied")
			return nil
		},
	}
}
