package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "Gatekeeper - request governance for AI completion calls",
	Long: `Gatekeeper sits between an application and an AI completion upstream.

Every call passes through:
  - a response cache with single-flight deduplication
  - a circuit breaker guarding the upstream
  - daily token budgets, per tenant and global
  - bounded retries with exponential backoff and jitter

Configuration is read from a YAML file (--config) and GATEKEEPER_*
environment variables. Without --config, defaults and the environment
are used.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults + environment when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// loadConfig loads the configuration selected by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, cli.WrapConfigError(err)
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

// setupLogging installs the configured logger as the slog default. Logs
// go to stderr so that command output on stdout stays parseable.
func setupLogging(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	logCfg := logging.FromConfig(cfg.Telemetry.Logging)
	logCfg.Writer = cmd.ErrOrStderr()
	logger, err := logging.Setup(logCfg)
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	return logger, nil
}
