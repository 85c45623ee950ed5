// Package cli provides shared helpers for the gatekeeper command-line tool:
// typed command errors with exit codes, text/JSON/CSV output formatting,
// and signal-driven cancellation.
//
// # Output
//
// Commands build a Table and hand it to a Formatter chosen by --format:
//
//	table := cli.Table{Headers: []string{"SCOPE", "ID", "CONSUMED"}}
//	table.Append("tenant", "acme", "1200")
//	return cli.NewFormatter(cli.FormatText).FormatTo(os.Stdout, table)
//
// # Exit codes
//
// ExitCode maps errors returned by commands to process exit codes: 2 for
// configuration problems, 3 for governor admission denials, 1 otherwise.
package cli
