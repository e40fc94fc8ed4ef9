package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dshills/probectl/internal/config"
	"github.com/dshills/probectl/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "probectl",
	Short: "probectl drives remote hardware debug sessions",
	Long: `probectl talks to a remote debug agent that controls a probe and a target chip.
It starts and stops sessions, steps and continues execution, manages breakpoints
and shows the variables, registers and callstack captured at each halt.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (.toml, .yaml or .jsonc)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (text or json); defaults to text on a terminal")
}

// loadConfig layers the config file, the environment and the flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		cfg.Logging.Format = format
	}
	return cfg, cfg.Validate()
}

// newLogger writes to stderr: text on a terminal, JSON when piped.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	format := logging.Format(cfg.Format)
	if format == "" {
		format = logging.FormatJSON
		if term.IsTerminal(int(os.Stderr.Fd())) {
			format = logging.FormatText
		}
	}
	return logging.New(logging.ParseLevel(cfg.Level), format, os.Stderr)
}
