package cli

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/governor"
)

func TestConfigError(t *testing.T) {
	err := NewConfigError("retry.max_attempts", "must be at least 1")
	if got := err.Error(); got != "config error in retry.max_attempts: must be at least 1" {
		t.Errorf("Error() = %q", got)
	}

	cause := errors.New("open config.yaml: no such file")
	wrapped := WrapConfigError(cause)
	if !errors.Is(wrapped, cause) {
		t.Error("WrapConfigError should unwrap to the cause")
	}
	if got := wrapped.Error(); got != "config error: open config.yaml: no such file" {
		t.Errorf("Error() = %q", got)
	}
}

func TestCommandError(t *testing.T) {
	cause := errors.New("boom")
	err := NewCommandError("run", cause)
	if got := err.Error(); got != "command run failed: boom" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("CommandError should unwrap to the cause")
	}
}

func TestExitCode(t *testing.T) {
	budgetErr, circuitErr := denials(t)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain", errors.New("x"), ExitFailure},
		{"config error", NewConfigError("a", "b"), ExitConfig},
		{"validation error", fmt.Errorf("load: %w", config.ValidationError{}), ExitConfig},
		{"wrapped config error", NewCommandError("run", WrapConfigError(errors.New("bad"))), ExitConfig},
		{"budget exceeded", NewCommandError("estimate", budgetErr), ExitDenied},
		{"circuit open", circuitErr, ExitDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

// denials produces real admission errors from a governor.
func denials(t *testing.T) (budgetErr, circuitErr error) {
	t.Helper()
	opts := governor.OptionsFromConfig(config.NewDefaultConfig())
	opts.Budget.TenantDailyTokens = 10
	opts.Circuit.FailureThreshold = 1
	opts.Circuit.Cooldown = time.Hour
	opts.Retry.MaxAttempts = 1
	g := governor.New(opts)
	defer g.Close()

	ctx := t.Context()
	_, budgetErr = g.Execute(ctx, governor.Request{CacheKey: "a", EstimatedTokens: 11},
		func(ctx context.Context) (governor.Completion, error) { return governor.Completion{}, nil })

	_, _ = g.Execute(ctx, governor.Request{CacheKey: "b", EstimatedTokens: 1},
		func(ctx context.Context) (governor.Completion, error) {
			return governor.Completion{}, context.DeadlineExceeded
		})
	_, circuitErr = g.Execute(ctx, governor.Request{CacheKey: "c", EstimatedTokens: 1},
		func(ctx context.Context) (governor.Completion, error) { return governor.Completion{}, nil })

	if !errors.Is(budgetErr, governor.ErrBudgetExceeded) {
		t.Fatalf("expected budget denial, got %v", budgetErr)
	}
	if !errors.Is(circuitErr, governor.ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", circuitErr)
	}
	return budgetErr, circuitErr
}
