package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/governor"
	"mercator-hq/gatekeeper/pkg/governor/budget"
	"mercator-hq/gatekeeper/pkg/governor/storage"
)

var budgetFlags struct {
	scope  string
	format string
}

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show persisted budget windows",
	Long: `List the budget windows written by the snapshot job of a running
gatekeeper. Only the sqlite storage backend outlives the process, so this
command is useful with storage.backend: sqlite.

Examples:
  # All windows
  gatekeeper budget --config config.yaml

  # Tenant windows as JSON
  gatekeeper budget --scope tenant --format json`,
	RunE: showBudget,
}

func init() {
	rootCmd.AddCommand(budgetCmd)

	budgetCmd.Flags().StringVar(&budgetFlags.scope, "scope", "", "filter by scope: global, tenant")
	budgetCmd.Flags().StringVarP(&budgetFlags.format, "format", "f", "text", "output format: text, json, csv")
}

func showBudget(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(budgetFlags.format)
	if err != nil {
		return cli.NewCommandError("budget", err)
	}
	switch budget.Scope(budgetFlags.scope) {
	case "", budget.ScopeGlobal, budget.ScopeTenant:
	default:
		return cli.NewCommandError("budget", fmt.Errorf("unknown scope %q (want global or tenant)", budgetFlags.scope))
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, err := setupLogging(cmd, cfg); err != nil {
		return err
	}

	backend, err := governor.NewStorageBackend(&cfg.Storage)
	if err != nil {
		return cli.NewCommandError("budget", err)
	}
	defer backend.Close()

	states, err := backend.List(cmd.Context(), budgetFlags.scope)
	if err != nil {
		return cli.NewCommandError("budget", err)
	}

	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), budgetTable(states, &cfg.Budget))
}

// budgetTable renders persisted windows with the limits currently
// configured for them.
func budgetTable(states []*storage.WindowState, cfg *config.BudgetConfig) cli.Table {
	table := cli.Table{
		Headers: []string{"Scope", "Identifier", "Consumed", "Limit", "Remaining", "Window_Start", "Reset_At"},
	}
	for _, st := range states {
		limit := windowLimit(st, cfg)
		limitCell, remainingCell := "unlimited", "unlimited"
		if limit > 0 {
			limitCell = strconv.FormatUint(limit, 10)
			var remaining uint64
			if st.ConsumedTokens < limit {
				remaining = limit - st.ConsumedTokens
			}
			remainingCell = strconv.FormatUint(remaining, 10)
		}
		table.Append(
			st.Scope,
			st.Identifier,
			strconv.FormatUint(st.ConsumedTokens, 10),
			limitCell,
			remainingCell,
			st.WindowStart.UTC().Format(time.RFC3339),
			st.WindowStart.Add(cfg.Window).UTC().Format(time.RFC3339),
		)
	}
	return table
}

func windowLimit(st *storage.WindowState, cfg *config.BudgetConfig) uint64 {
	if budget.Scope(st.Scope) == budget.ScopeGlobal {
		return cfg.GlobalDailyTokens
	}
	if limit, ok := cfg.TenantOverrides[st.Identifier]; ok {
		return limit
	}
	return cfg.TenantDailyTokens
}
