package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/governor"
	"mercator-hq/gatekeeper/pkg/telemetry/tracing"
	"mercator-hq/gatekeeper/pkg/tokens"
	"mercator-hq/gatekeeper/pkg/upstream"
)

var completeFlags struct {
	file        string
	system      string
	tenant      string
	name        string
	maxTokens   uint64
	temperature float64
	format      string
}

var completeCmd = &cobra.Command{
	Use:   "complete [text]",
	Short: "Run one governed completion against the upstream",
	Long: `Send a single prompt to the configured upstream through the governor.

The call is budgeted against the tenant and global windows persisted in
the storage backend, so repeated invocations with storage.backend: sqlite
share one daily budget. With cache.backend: redis, identical prompts are
served from the cache.

Exit codes:
  0  completion printed
  1  upstream or local failure
  2  configuration error
  3  denied by the budget or the circuit breaker

Examples:
  gatekeeper complete --tenant acme "Name three prime numbers"
  echo "Translate to French: hello" | gatekeeper complete --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: completePrompt,
}

func init() {
	rootCmd.AddCommand(completeCmd)

	completeCmd.Flags().StringVar(&completeFlags.file, "file", "", "read the prompt from a file")
	completeCmd.Flags().StringVar(&completeFlags.system, "system", "", "system prompt")
	completeCmd.Flags().StringVarP(&completeFlags.tenant, "tenant", "t", "", "tenant charged for the call (default governor.default_tenant)")
	completeCmd.Flags().StringVar(&completeFlags.name, "name", "cli-complete", "request name used in logs and traces")
	completeCmd.Flags().Uint64Var(&completeFlags.maxTokens, "max-tokens", 0, "completion cap (0 uses tokens.completion_allowance)")
	completeCmd.Flags().Float64Var(&completeFlags.temperature, "temperature", 0, "sampling temperature")
	completeCmd.Flags().StringVarP(&completeFlags.format, "format", "f", "text", "output format: text, json")
}

// completionOutput is the json rendering of a completion.
type completionOutput struct {
	Content  string `json:"content"`
	Source   string `json:"source"`
	Usage    uint64 `json:"usage"`
	Attempts int    `json:"attempts"`
	CallID   string `json:"call_id"`
}

func completePrompt(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(completeFlags.format)
	if err != nil {
		return cli.NewCommandError("complete", err)
	}
	if format == cli.FormatCSV {
		return cli.NewCommandError("complete", fmt.Errorf("csv output is not supported"))
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := setupLogging(cmd, cfg)
	if err != nil {
		return err
	}

	body, err := readPrompt(cmd, args, completeFlags.file)
	if err != nil {
		return cli.NewCommandError("complete", err)
	}

	upstreamCfg := upstream.FromConfig(&cfg.Upstream)
	upstreamCfg.Logger = logger
	client, err := upstream.New(upstreamCfg)
	if err != nil {
		return cli.NewConfigError("upstream", err.Error())
	}

	ctx, stop := cli.SignalContext(cmd.Context())
	defer stop()

	tracer, err := tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return cli.NewCommandError("complete", err)
	}
	defer tracer.Shutdown(cmd.Context())

	gov, err := governor.NewFromConfig(ctx, cfg, governor.Dependencies{Logger: logger, Tracer: tracer})
	if err != nil {
		return cli.NewCommandError("complete", err)
	}
	defer gov.Close()

	backend, err := governor.NewStorageBackend(&cfg.Storage)
	if err != nil {
		return cli.NewCommandError("complete", err)
	}
	defer backend.Close()

	if _, err := gov.RestoreBudget(ctx, backend); err != nil {
		return cli.NewCommandError("complete", err)
	}

	est := tokens.NewEstimator(&cfg.Tokens).EstimateDocument(tokens.Document{
		System:    completeFlags.system,
		Body:      body,
		MaxTokens: completeFlags.maxTokens,
	})

	prompt := upstream.Prompt{
		System:      completeFlags.system,
		User:        body,
		MaxTokens:   int(est.Completion),
		Temperature: completeFlags.temperature,
	}
	req := governor.Request{
		TenantID:        completeFlags.tenant,
		RequestName:     completeFlags.name,
		CacheKey:        promptCacheKey(client.Model(), completeFlags.system, body, completeFlags.maxTokens, completeFlags.temperature),
		EstimatedTokens: est.Total,
	}

	res, err := gov.Execute(ctx, req, client.Operation(prompt))
	if err != nil {
		return cli.NewCommandError("complete", err)
	}

	if _, err := gov.SaveBudget(cmd.Context(), backend); err != nil {
		logger.Warn("failed to persist budget", "error", err)
	}

	out := cmd.OutOrStdout()
	if format == cli.FormatJSON {
		return cli.NewFormatter(format).FormatTo(out, completionOutput{
			Content:  string(res.Value),
			Source:   string(res.Source),
			Usage:    res.Usage,
			Attempts: res.Attempts,
			CallID:   res.CallID,
		})
	}

	fmt.Fprintln(out, string(res.Value))
	fmt.Fprintf(cmd.ErrOrStderr(), "source=%s usage=%d attempts=%d\n", res.Source, res.Usage, res.Attempts)
	return nil
}
