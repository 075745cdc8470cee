package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"event-extractor/internal/config"
	"event-extractor/internal/logging"
)

var (
	cfgFile string
	cfg     config.Config
	logger  zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "extractor",
	Short:         "Multi-tenant event extractor",
	Long:          `Periodically pulls events from each tenant's analytics API and stores every event exactly once.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		var err error
		cfg, err = config.LoadFile(cfgFile)
		if err != nil {
			return err
		}
		logger = logging.New(cfg.LogLevel, cfg.LogFormat).With().Str("env", cfg.Env).Logger()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file layered under the environment (.env, yaml, json)")
	rootCmd.AddCommand(serveCmd, runCmd, migrateCmd, seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
