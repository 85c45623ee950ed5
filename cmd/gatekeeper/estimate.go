package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/tokens"
)

var estimateFlags struct {
	file        string
	system      string
	maxTokens   uint64
	temperature float64
	format      string
}

var estimateCmd = &cobra.Command{
	Use:   "estimate [text]",
	Short: "Estimate tokens and derive the cache key for a prompt",
	Long: `Estimate the tokens a prompt would reserve against the budgets and
print the cache key the complete command would use for it.

The prompt is taken from the argument, from --file, or from stdin.

Examples:
  gatekeeper estimate "Summarize the release notes"
  gatekeeper estimate --file prompt.txt --system "You are terse." --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: estimatePrompt,
}

func init() {
	rootCmd.AddCommand(estimateCmd)

	estimateCmd.Flags().StringVar(&estimateFlags.file, "file", "", "read the prompt from a file")
	estimateCmd.Flags().StringVar(&estimateFlags.system, "system", "", "system prompt")
	estimateCmd.Flags().Uint64Var(&estimateFlags.maxTokens, "max-tokens", 0, "completion cap (0 uses tokens.completion_allowance)")
	estimateCmd.Flags().Float64Var(&estimateFlags.temperature, "temperature", 0, "sampling temperature")
	estimateCmd.Flags().StringVarP(&estimateFlags.format, "format", "f", "text", "output format: text, json, csv")
}

func estimatePrompt(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(estimateFlags.format)
	if err != nil {
		return cli.NewCommandError("estimate", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	body, err := readPrompt(cmd, args, estimateFlags.file)
	if err != nil {
		return cli.NewCommandError("estimate", err)
	}

	est := tokens.NewEstimator(&cfg.Tokens).EstimateDocument(tokens.Document{
		System:    estimateFlags.system,
		Body:      body,
		MaxTokens: estimateFlags.maxTokens,
	})

	table := cli.Table{Headers: []string{"Model", "Prompt", "Completion", "Total", "Cache_Key"}}
	table.Append(
		cfg.Upstream.Model,
		fmt.Sprint(est.Prompt),
		fmt.Sprint(est.Completion),
		fmt.Sprint(est.Total),
		promptCacheKey(cfg.Upstream.Model, estimateFlags.system, body, estimateFlags.maxTokens, estimateFlags.temperature),
	)
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), table)
}
