package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/config"
)

var validateFlags struct {
	format string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and print the effective settings",
	Long: `Load the configuration the same way run does (file, defaults and
GATEKEEPER_* environment variables), validate it, and print a summary of
the effective settings. Exit code 2 reports an invalid configuration.

Examples:
  gatekeeper validate --config config.yaml
  GATEKEEPER_BUDGET_GLOBAL_DAILY_TOKENS=0 gatekeeper validate --format json`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVarP(&validateFlags.format, "format", "f", "text", "output format: text, json, csv")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(validateFlags.format)
	if err != nil {
		return cli.NewCommandError("validate", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), configSummary(cfg))
}

// configSummary lists the settings operators most often check.
func configSummary(cfg *config.Config) cli.Table {
	table := cli.Table{Headers: []string{"Setting", "Value"}}
	add := func(key string, value any) {
		table.Append(key, fmt.Sprint(value))
	}

	add("governor.default_tenant", cfg.Governor.DefaultTenant)
	add("budget.global_daily_tokens", ceiling(cfg.Budget.GlobalDailyTokens))
	add("budget.tenant_daily_tokens", ceiling(cfg.Budget.TenantDailyTokens))
	add("budget.tenant_overrides", len(cfg.Budget.TenantOverrides))
	add("budget.window", cfg.Budget.Window)
	add("retry.max_attempts", cfg.Retry.MaxAttempts)
	add("retry.base_delay", cfg.Retry.BaseDelay)
	add("retry.max_delay", cfg.Retry.MaxDelay)
	add("circuit.failure_threshold", cfg.Circuit.FailureThreshold)
	add("circuit.cooldown", cfg.Circuit.Cooldown)
	add("cache.enabled", cfg.Cache.Enabled)
	add("cache.backend", cfg.Cache.Backend)
	add("cache.ttl", cfg.Cache.TTL)
	add("storage.backend", cfg.Storage.Backend)
	add("upstream.base_url", cfg.Upstream.BaseURL)
	add("upstream.model", cfg.Upstream.Model)
	add("upstream.api_key", redacted(cfg.Upstream.APIKey))
	add("server.enabled", cfg.Server.Enabled)
	add("server.listen_address", cfg.Server.ListenAddress)
	add("telemetry.metrics.enabled", cfg.Telemetry.Metrics.Enabled)
	add("telemetry.tracing.enabled", cfg.Telemetry.Tracing.Enabled)
	return table
}

func ceiling(limit uint64) string {
	if limit == 0 {
		return "unlimited"
	}
	return fmt.Sprint(limit)
}

func redacted(secret string) string {
	if secret == "" {
		return "(unset)"
	}
	return "(set)"
}
