// Package cmd implements the CLI commands for emitrack.
package cmd

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/facturaelec/emitrack/internal/config"
	"github.com/facturaelec/emitrack/internal/db"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "emitrack",
	Short: "Track electronic invoice emissions in real time",
	Long: `emitrack opens a live channel to the invoicing backend, starts emission
attempts and follows each one through its stages:

  1. Firmando electrónicamente
  2. Enviando al SRI
  3. Esperando validación

followed by the final result pushed by the backend.

Examples:
  emitrack track                 # interactive stepper
  emitrack emit --timeout 30s    # one headless attempt
  emitrack sandbox               # local backend for development
  emitrack history --format json`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: $XDG_CONFIG_HOME/emitrack/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFrom(configPath)
	}
	return config.Load()
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// openStore opens the history database. History is best effort: a store that
// cannot be opened is logged and skipped.
func openStore(logger *slog.Logger) *db.DB {
	store, err := db.Open()
	if err != nil {
		logger.Warn("history disabled", "error", err)
		return nil
	}
	return store
}
