package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// OutputFormat selects how command results are rendered.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
	FormatCSV  OutputFormat = "csv"
)

// ParseFormat validates a --format flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case FormatText, FormatJSON, FormatCSV:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or csv)", s)
	}
}

// Table is tabular command output.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Append adds a row.
func (t *Table) Append(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// Records returns the rows as header-keyed maps, which is how tables are
// rendered as JSON.
func (t Table) Records() []map[string]string {
	out := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]string, len(t.Headers))
		for i, h := range t.Headers {
			if i < len(row) {
				rec[strings.ToLower(h)] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out
}

// Formatter renders command output.
type Formatter interface {
	FormatTo(w io.Writer, data any) error
}

// TextFormatter aligns tables in columns and prints anything else with %v.
type TextFormatter struct{}

// FormatTo writes data as text.
func (f *TextFormatter) FormatTo(w io.Writer, data any) error {
	table, ok := asTable(data)
	if !ok {
		_, err := fmt.Fprintf(w, "%v\n", data)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if len(table.Headers) > 0 {
		fmt.Fprintln(tw, strings.Join(table.Headers, "\t"))
	}
	for _, row := range table.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// JSONFormatter writes JSON. Tables become arrays of objects.
type JSONFormatter struct {
	Indent bool
}

// FormatTo writes data as JSON.
func (f *JSONFormatter) FormatTo(w io.Writer, data any) error {
	if table, ok := asTable(data); ok {
		data = table.Records()
	}
	encoder := json.NewEncoder(w)
	if f.Indent {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

// CSVFormatter writes tables as CSV. Other data is rejected.
type CSVFormatter struct{}

// FormatTo writes data as CSV.
func (f *CSVFormatter) FormatTo(w io.Writer, data any) error {
	table, ok := asTable(data)
	if !ok {
		return fmt.Errorf("csv output requires tabular data, got %T", data)
	}

	cw := csv.NewWriter(w)
	if len(table.Headers) > 0 {
		if err := cw.Write(table.Headers); err != nil {
			return err
		}
	}
	if err := cw.WriteAll(table.Rows); err != nil {
		return err
	}
	return cw.Error()
}

// NewFormatter returns the formatter for format. Unknown formats fall back
// to text.
func NewFormatter(format OutputFormat) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatCSV:
		return &CSVFormatter{}
	default:
		return &TextFormatter{}
	}
}

func asTable(data any) (Table, bool) {
	switch t := data.(type) {
	case Table:
		return t, true
	case *Table:
		if t == nil {
			return Table{}, false
		}
		return *t, true
	default:
		return Table{}, false
	}
}
