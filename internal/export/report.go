package export

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/agent462/sweep/internal/probe"
)

// ForReports returns an exporter for probe results. fields names the
// parsed fields shown as columns in fields mode and CSV; when empty they
// are taken from each report.
func ForReports(format Format, fields []string, opts ...Option) (Exporter[probe.Report], error) {
	switch format {
	case FormatGrouped:
		return &Grouped{Options: buildOptions(opts)}, nil
	case FormatFields:
		return &Fields{Names: fields, Options: buildOptions(opts)}, nil
	case FormatTable:
		return New(format, []Column[probe.Report]{{Header: "OUTPUT", Value: outputCell}}, opts...)
	case FormatCSV:
		cols := []Column[probe.Report]{
			{Header: "stdout", Value: func(r probe.Report) string { return r.Stdout }},
			{Header: "stderr", Value: func(r probe.Report) string { return r.Stderr }},
			{Header: "exit_code", Value: func(r probe.Report) string { return strconv.Itoa(r.ExitCode) }},
		}
		cols = append(cols, fieldColumns(fields)...)
		return New(format, cols, opts...)
	}
	return New[probe.Report](format, nil, opts...)
}

func fieldColumns(names []string) []Column[probe.Report] {
	cols := make([]Column[probe.Report], len(names))
	for i, name := range names {
		cols[i] = Column[probe.Report]{
			Header: name,
			Value: func(r probe.Report) string {
				v, _ := r.Field(name)
				return v
			},
		}
	}
	return cols
}

// outputCell is the first line of stdout, noting how many lines follow.
func outputCell(r probe.Report) string {
	out := strings.TrimRight(r.Stdout, "\n")
	first, rest, more := strings.Cut(out, "\n")
	if !more {
		return first
	}
	return fmt.Sprintf("%s (+%d lines)", first, strings.Count(rest, "\n")+1)
}
