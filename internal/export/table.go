package export

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/agent462/sweep/internal/executor"
)

const maxCell = 60

// Table writes a kubectl-style table followed by a summary line.
type Table[P any] struct {
	Columns []Column[P]
	Options Options
}

func (t *Table[P]) Export(w io.Writer, rs executor.ResultSet[P]) error {
	if len(rs) == 0 {
		_, err := fmt.Fprintln(w, "No hosts")
		return err
	}

	colors := NewColorScheme(t.Options.Color)
	table := newTable(w)

	if !t.Options.NoHeaders {
		headers := []string{"HOST", "STATUS", "DURATION"}
		for _, c := range t.Columns {
			headers = append(headers, c.Header)
		}
		headers = append(headers, "ERROR")
		if !colors.Disabled {
			for i, h := range headers {
				headers[i] = colors.Header("%s", h)
			}
		}
		table.SetHeader(headers)
	}

	for _, r := range rs {
		row := []string{
			colors.Host("%s", r.HostName),
			colors.StatusColor(r.Success)("%s", status(r)),
			colors.Duration("%s", r.Duration().Round(time.Millisecond)),
		}
		for _, c := range t.Columns {
			cell := ""
			if r.Success {
				cell = c.Value(r.Payload)
			}
			row = append(row, t.fit(cell))
		}
		row = append(row, t.fit(r.Message))
		table.Append(row)
	}
	table.Render()

	summary := Summary(rs)
	if rs.Succeeded() < len(rs) {
		summary = colors.Warning("%s", summary)
	}
	_, err := fmt.Fprintf(w, "\n%s\n", summary)
	return err
}

func (t *Table[P]) fit(s string) string {
	if t.Options.Wide {
		return s
	}
	return truncate(s, maxCell)
}

// newTable configures a borderless, tab-padded table.
func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	return table
}
