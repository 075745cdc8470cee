package main

import (
	"github.com/spf13/cobra"

	"event-extractor/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(*cobra.Command, []string) error {
		if err := store.Migrate(cfg.PostgresDSN); err != nil {
			return err
		}
		logger.Info().Msg("migrations applied")
		return nil
	},
}
