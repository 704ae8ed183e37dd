package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableRenderer is implemented by types that can render themselves as a table.
type TableRenderer interface {
	// Headers returns the column headers. Nil renders a headerless table.
	Headers() []string
	Rows() [][]string
}

// Section is one titled table of a multi-table view.
type Section struct {
	Title string
	Table TableRenderer
}

// Sectioned is implemented by views made of several tables.
type Sectioned interface {
	Sections() []Section
}

// PrintTable writes data as a borderless, left-aligned table.
func PrintTable(w io.Writer, data TableRenderer) error {
	table := tablewriter.NewWriter(w)
	if h := data.Headers(); len(h) > 0 {
		table.SetHeader(h)
		table.SetAutoFormatHeaders(true)
	}

	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	table.AppendBulk(data.Rows())
	table.Render()
	return nil
}

// Table is an ad-hoc TableRenderer.
type Table struct {
	headers []string
	rows    [][]string
}

// NewTable creates a table with the given headers.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// AddRow appends a row.
func (t *Table) AddRow(row ...string) {
	t.rows = append(t.rows, row)
}

func (t *Table) Headers() []string { return t.headers }
func (t *Table) Rows() [][]string  { return t.rows }

// KeyValues renders label/value pairs as a two-column headerless table.
type KeyValues [][2]string

func (kv KeyValues) Headers() []string { return nil }

func (kv KeyValues) Rows() [][]string {
	rows := make([][]string, len(kv))
	for i, pair := range kv {
		rows[i] = []string{pair[0] + ":", pair[1]}
	}
	return rows
}
