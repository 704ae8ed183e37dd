package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{input: "table", want: FormatTable},
		{input: "", want: FormatTable},
		{input: "JSON", want: FormatJSON},
		{input: "yml", want: FormatYAML},
		{input: "  yaml ", want: FormatYAML},
		{input: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type worker struct {
	ID     int    `json:"id" yaml:"id"`
	Status string `json:"status" yaml:"status"`
}

func TestPrintFormats(t *testing.T) {
	data := []worker{{ID: 0, Status: "idle"}, {ID: 1, Status: "busy"}}

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatJSON, false).Print(data))
	assert.Contains(t, buf.String(), `"status": "busy"`)

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, FormatYAML, false).Print(data))
	assert.Contains(t, buf.String(), "status: idle")

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, FormatTable, false).Print(data))
	assert.Contains(t, buf.String(), `"id": 1`, "non-renderers fall back to JSON")
}

func TestPrintTable(t *testing.T) {
	table := NewTable("Worker", "Status")
	table.AddRow("0", "idle")
	table.AddRow("1", "busy")

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatTable, false).Print(table))

	out := buf.String()
	assert.Contains(t, out, "WORKER")
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "busy")
}

type view struct{}

func (view) Sections() []Section {
	w := NewTable("Pool", "Busy")
	w.AddRow("upload", "2")
	return []Section{
		{Title: "Gateway", Table: KeyValues{{"Edge", "edge-1"}, {"Running", "yes"}}},
		{Title: "Workers", Table: w},
	}
}

func TestPrintSections(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatTable, false).Print(view{}))

	out := buf.String()
	assert.Contains(t, out, "Gateway")
	assert.Contains(t, out, "Edge:")
	assert.Contains(t, out, "edge-1")
	assert.Contains(t, out, "Workers")
	assert.Contains(t, out, "upload")
}

func TestPrinterMessages(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatTable, false)
	p.Success("ok")
	p.Warning("careful")
	p.Error("bad")
	assert.Equal(t, "ok\ncareful\nbad\n", buf.String())

	buf.Reset()
	NewPrinter(&buf, FormatTable, true).Success("ok")
	assert.Equal(t, "\033[32mok\033[0m\n", buf.String())
}
