package cli

import (
	"errors"
	"fmt"

	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/governor"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitConfig  = 2
	ExitDenied  = 3
)

// ConfigError reports an unusable configuration.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config error: %s", e.Message)
	}
	return fmt.Sprintf("config error in %s: %s", e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// CommandError wraps a failure of a named command.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// WrapConfigError turns a load or validation failure into a ConfigError.
func WrapConfigError(err error) *ConfigError {
	return &ConfigError{Message: err.Error(), Err: err}
}

// NewCommandError creates a CommandError.
func NewCommandError(command string, err error) *CommandError {
	return &CommandError{Command: command, Err: err}
}

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var cfgErr *ConfigError
	var validationErr config.ValidationError
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &validationErr):
		return ExitConfig
	case errors.Is(err, governor.ErrBudgetExceeded), errors.Is(err, governor.ErrCircuitOpen):
		return ExitDenied
	default:
		return ExitFailure
	}
}
