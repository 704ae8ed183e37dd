// Package output renders CLI results as tables, JSON or YAML.
package output

import (
	"fmt"
	"io"
	"strings"
)

// Format represents the output format type.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a string into a Format, returning an error if invalid.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "table", "":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("invalid output format: %q (valid: table, json, yaml)", s)
	}
}

func (f Format) String() string {
	return string(f)
}

// Printer writes results in one format.
type Printer struct {
	out    io.Writer
	format Format
	color  bool
}

// NewPrinter creates a new Printer.
func NewPrinter(out io.Writer, format Format, color bool) *Printer {
	return &Printer{out: out, format: format, color: color}
}

// Format returns the printer's output format.
func (p *Printer) Format() Format {
	return p.format
}

// Print outputs data in the configured format. In table format, data
// should implement TableRenderer or Sectioned; anything else falls back to
// JSON. JSON and YAML marshal data as is, so callers pass the raw value
// rather than its table view.
func (p *Printer) Print(data any) error {
	switch p.format {
	case FormatTable:
		switch v := data.(type) {
		case Sectioned:
			return p.printSections(v.Sections())
		case TableRenderer:
			return PrintTable(p.out, v)
		default:
			return PrintJSON(p.out, data)
		}
	case FormatJSON:
		return PrintJSON(p.out, data)
	case FormatYAML:
		return PrintYAML(p.out, data)
	default:
		return fmt.Errorf("unknown format: %s", p.format)
	}
}

func (p *Printer) printSections(sections []Section) error {
	for i, s := range sections {
		if i > 0 {
			_, _ = fmt.Fprintln(p.out)
		}
		if s.Title != "" {
			p.colored("1", s.Title)
		}
		if err := PrintTable(p.out, s.Table); err != nil {
			return err
		}
	}
	return nil
}

// Printf prints a formatted message.
func (p *Printer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}

// Success prints msg in green.
func (p *Printer) Success(msg string) { p.colored("32", msg) }

// Warning prints msg in yellow.
func (p *Printer) Warning(msg string) { p.colored("33", msg) }

// Error prints msg in red.
func (p *Printer) Error(msg string) { p.colored("31", msg) }

func (p *Printer) colored(code, msg string) {
	if p.color {
		_, _ = fmt.Fprintf(p.out, "\033[%sm%s\033[0m\n", code, msg)
		return
	}
	_, _ = fmt.Fprintln(p.out, msg)
}
