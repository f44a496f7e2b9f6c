package export

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// List is a plain listing rendered without per-host status, such as the
// probe catalogue or discovered addresses.
type List struct {
	Headers []string
	Rows    [][]string
	// Items is what the structured formats encode.
	Items any
}

// WriteList renders l in format. Formats that only make sense for
// execution results fall back to a table.
func WriteList(w io.Writer, format Format, l List, opts ...Option) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(l.Items)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(l.Items); err != nil {
			return err
		}
		return enc.Close()
	}

	o := buildOptions(opts)
	colors := NewColorScheme(o.Color)
	table := newTable(w)
	if !o.NoHeaders {
		headers := append([]string(nil), l.Headers...)
		if !colors.Disabled {
			for i, h := range headers {
				headers[i] = colors.Header("%s", h)
			}
		}
		table.SetHeader(headers)
	}
	for _, row := range l.Rows {
		cells := make([]string, len(row))
		for i, c := range row {
			if !o.Wide {
				c = truncate(c, maxCell)
			}
			cells[i] = c
		}
		table.Append(cells)
	}
	if len(l.Rows) == 0 {
		_, err := fmt.Fprintln(w, "Nothing found")
		return err
	}
	table.Render()
	return nil
}
