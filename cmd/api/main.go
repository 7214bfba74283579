// Package main is the nsj-api binary: the HTTP API plus maintenance commands.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nongsaijai/api/internal/config"
	"nongsaijai/api/internal/logging"
)

var (
	envFile string
	version = "dev"

	cfg    config.Config
	logger *zap.Logger
)

func main() {
	err := rootCmd.Execute()
	if logger != nil {
		_ = logger.Sync()
	}
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "nsj-api",
	Short: "Nong Sai Jai API server",
	Long: `nsj-api serves the chat and admin API and runs maintenance tasks
against the same database.

Running it without a subcommand starts the server.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	RunE:              runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(tokenCmd)
}

// setup loads the dotenv file, then the config and the logger.
func setup(cmd *cobra.Command, _ []string) error {
	envLoaded := false
	if envFile != "" {
		err := godotenv.Load(envFile)
		switch {
		case err == nil:
			envLoaded = true
		case errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("env-file"):
			// the default .env is optional
		default:
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	cfg = config.Load()
	var err error
	logger, err = logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	if envLoaded {
		logger.Debug("loaded environment", zap.String("path", envFile))
	}
	return nil
}
