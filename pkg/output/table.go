// Package output renders aligned tables for terminal reports.
package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"unicode/utf8"
)

// TableWriter builds a table and writes it once with Render.
type TableWriter struct {
	out        io.Writer
	headers    []string
	rows       [][]string
	separator  string
	showBorder bool
	indent     string
}

// NewTableTo creates a table that renders to w.
func NewTableTo(w io.Writer) *TableWriter {
	return &TableWriter{out: w, separator: "-", showBorder: true}
}

// WithHeaders sets the column headers.
func (t *TableWriter) WithHeaders(headers ...string) *TableWriter {
	t.headers = headers
	return t
}

// WithBorder controls the rule above the table and under the headers.
func (t *TableWriter) WithBorder(show bool) *TableWriter {
	t.showBorder = show
	return t
}

// WithIndent prefixes every line.
func (t *TableWriter) WithIndent(prefix string) *TableWriter {
	t.indent = prefix
	return t
}

// AddRow adds a row. Missing trailing cells render empty.
func (t *TableWriter) AddRow(values ...string) *TableWriter {
	t.rows = append(t.rows, values)
	return t
}

// Len is the number of data rows.
func (t *TableWriter) Len() int { return len(t.rows) }

// Render writes the table. Tabs and newlines inside cells are flattened
// so they cannot break the column layout.
func (t *TableWriter) Render() error {
	tw := tabwriter.NewWriter(t.out, 0, 0, 2, ' ', 0)

	widths := t.widths()
	if t.showBorder && len(t.headers) > 0 {
		total := 0
		for _, w := range widths {
			total += w + 2
		}
		fmt.Fprintln(tw, t.indent+strings.Repeat(t.separator, max(0, total-2)))
	}

	if len(t.headers) > 0 {
		fmt.Fprintln(tw, t.line(t.headers))
		if t.showBorder {
			seps := make([]string, len(t.headers))
			for i := range t.headers {
				seps[i] = strings.Repeat(t.separator, widths[i])
			}
			fmt.Fprintln(tw, t.line(seps))
		}
	}

	for _, row := range t.rows {
		fmt.Fprintln(tw, t.line(row))
	}
	return tw.Flush()
}

func (t *TableWriter) line(cells []string) string {
	clean := make([]string, len(cells))
	for i, c := range cells {
		clean[i] = flatten(c)
	}
	return t.indent + strings.Join(clean, "\t")
}

func (t *TableWriter) widths() []int {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, c := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], utf8.RuneCountInString(flatten(c)))
			}
		}
	}
	return widths
}

func flatten(s string) string {
	return strings.NewReplacer("\t", " ", "\n", " ").Replace(s)
}

// KeyValueTable renders ordered key/value pairs without headers.
func KeyValueTable(w io.Writer, pairs [][2]string) error {
	t := NewTableTo(w).WithBorder(false).WithIndent("  ")
	for _, p := range pairs {
		t.AddRow(p[0]+":", p[1])
	}
	return t.Render()
}
