package export

import (
	"io"
	"strings"

	"github.com/agent462/sweep/internal/executor"
	"github.com/agent462/sweep/internal/parser"
	"github.com/agent462/sweep/internal/probe"
)

// Fields renders parsed fields as a table with one column per field.
type Fields struct {
	Names   []string
	Options Options
}

func (f *Fields) Export(w io.Writer, rs executor.ResultSet[probe.Report]) error {
	names := f.Names
	if len(names) == 0 {
		names = discoverFields(rs)
	}

	cols := make([]Column[probe.Report], len(names))
	for i, name := range names {
		cols[i] = Column[probe.Report]{
			Header: strings.ToUpper(name),
			Value: func(r probe.Report) string {
				if v, ok := r.Field(name); ok {
					return v
				}
				return parser.Missing
			},
		}
	}
	t := &Table[probe.Report]{Columns: cols, Options: f.Options}
	return t.Export(w, rs)
}

// discoverFields collects field names in first-seen order.
func discoverFields(rs executor.ResultSet[probe.Report]) []string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range rs {
		if !r.Success {
			continue
		}
		for _, fld := range r.Payload.Fields {
			if !seen[fld.Name] {
				seen[fld.Name] = true
				names = append(names, fld.Name)
			}
		}
	}
	return names
}
