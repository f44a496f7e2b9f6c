// Package export writes executor result sets as tables, grouped diffs,
// JSON, JSONL, CSV or YAML. Failed hosts are always explicit rows.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/agent462/sweep/internal/executor"
)

// Format names an output format.
type Format string

const (
	FormatTable   Format = "table"
	FormatGrouped Format = "grouped"
	FormatJSON    Format = "json"
	FormatJSONL   Format = "jsonl"
	FormatCSV     Format = "csv"
	FormatYAML    Format = "yaml"
	FormatFields  Format = "fields"
)

// Formats lists every supported format.
var Formats = []Format{FormatTable, FormatGrouped, FormatJSON, FormatJSONL, FormatCSV, FormatYAML, FormatFields}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	names := make([]string, len(Formats))
	for i, known := range Formats {
		names[i] = string(known)
	}
	return "", fmt.Errorf("unknown output format %q (available: %s)", s, strings.Join(names, ", "))
}

// Exporter writes a complete result set to w.
type Exporter[P any] interface {
	Export(w io.Writer, rs executor.ResultSet[P]) error
}

// Column is a payload-specific column in table and CSV output. Value is
// only called for successful results.
type Column[P any] struct {
	Header string
	Value  func(P) string
}

// Options configure the human-readable exporters.
type Options struct {
	Color     bool // colorize table and grouped output
	NoHeaders bool
	Wide      bool // don't truncate long cells
}

// Option is a functional option for Options.
type Option func(*Options)

// WithColor enables colour.
func WithColor(on bool) Option {
	return func(o *Options) { o.Color = on }
}

// WithNoHeaders drops table and CSV headers.
func WithNoHeaders(on bool) Option {
	return func(o *Options) { o.NoHeaders = on }
}

// WithWide disables cell truncation.
func WithWide(on bool) Option {
	return func(o *Options) { o.Wide = on }
}

func buildOptions(opts []Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New returns an exporter for any payload type. cols supply the
// payload's table and CSV columns. The grouped and fields formats need
// probe reports; use ForReports for those.
func New[P any](format Format, cols []Column[P], opts ...Option) (Exporter[P], error) {
	o := buildOptions(opts)
	switch format {
	case FormatTable:
		return &Table[P]{Columns: cols, Options: o}, nil
	case FormatCSV:
		return &CSV[P]{Columns: cols, Options: o}, nil
	case FormatJSON:
		return &JSON[P]{}, nil
	case FormatJSONL:
		return &JSONL[P]{}, nil
	case FormatYAML:
		return &YAML[P]{}, nil
	case FormatGrouped, FormatFields:
		return nil, fmt.Errorf("output format %q is only available for probe results", format)
	}
	return nil, fmt.Errorf("unknown output format %q", format)
}

// Record is the serialized form of one ExecutionResult.
type Record[P any] struct {
	Host       string             `json:"host" yaml:"host"`
	Success    bool               `json:"success" yaml:"success"`
	State      executor.TaskState `json:"state" yaml:"state"`
	ErrorKind  executor.ErrorKind `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Error      string             `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  *time.Time         `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	DurationMS int64              `json:"duration_ms" yaml:"duration_ms"`
	Payload    *P                 `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// Records converts a result set, keeping its host order.
func Records[P any](rs executor.ResultSet[P]) []Record[P] {
	out := make([]Record[P], len(rs))
	for i, r := range rs {
		rec := Record[P]{
			Host:       r.HostName,
			Success:    r.Success,
			State:      r.State,
			DurationMS: r.Duration().Milliseconds(),
		}
		if !r.StartedAt.IsZero() {
			started := r.StartedAt
			rec.StartedAt = &started
		}
		if r.Success {
			payload := r.Payload
			rec.Payload = &payload
		} else {
			rec.ErrorKind = r.Kind
			rec.Error = r.Message
		}
		out[i] = rec
	}
	return out
}

// Summary renders "N succeeded, M failed (2 AuthError, 1 TimeoutError)".
func Summary[P any](rs executor.ResultSet[P]) string {
	ok := rs.Succeeded()
	s := fmt.Sprintf("%d succeeded", ok)
	failed := len(rs) - ok
	if failed == 0 {
		return s
	}

	counts := rs.CountByKind()
	var parts []string
	for k := executor.KindConnectivity; k <= executor.KindCancelled; k++ {
		if n := counts[k]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, k))
		}
	}
	return fmt.Sprintf("%s, %d failed (%s)", s, failed, strings.Join(parts, ", "))
}

// status is the STATUS cell for a result.
func status[P any](r executor.ExecutionResult[P]) string {
	if r.Success {
		return "ok"
	}
	return r.Kind.String()
}

// truncate shortens s to at most max display columns.
func truncate(s string, max int) string {
	if max <= 3 {
		return s
	}
	return runewidth.Truncate(s, max, "...")
}
