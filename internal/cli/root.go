package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vinodismyname/leverlab/config"
	"github.com/vinodismyname/leverlab/pkg/version"
)

var (
	configPath string
	logLevel   string

	cfg    config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "leverlab",
	Short: "P&L what-if engine over Excel driver trees",
	Long: `leverlab loads a P&L workbook (driver tree, accounting facts, naming
table, dimensions and fact records), estimates lever elasticities from the
history and recomputes the statement under lever changes.

Run it as an MCP server over stdio, or simulate a scenario from the shell.`,
	Version:           version.Version(),
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Directory holding leverlab.yaml, or a YAML file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides config")
}

// setup loads .env, configuration and the logger shared by every command.
func setup(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger = zlog.Logger.Output(cmd.ErrOrStderr()).Level(level).With().Str("service", "leverlab").Logger()
	cmd.SetContext(logger.WithContext(cmd.Context()))
	return nil
}
