package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/agent462/sweep/internal/executor"
)

// JSON writes the records as one indented array.
type JSON[P any] struct{}

func (JSON[P]) Export(w io.Writer, rs executor.ResultSet[P]) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Records(rs))
}

// JSONL writes one compact record per line.
type JSONL[P any] struct{}

func (JSONL[P]) Export(w io.Writer, rs executor.ResultSet[P]) error {
	enc := json.NewEncoder(w)
	for _, rec := range Records(rs) {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

// YAML writes the records as a YAML sequence.
type YAML[P any] struct{}

func (YAML[P]) Export(w io.Writer, rs executor.ResultSet[P]) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(Records(rs)); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// CSV writes host, success, state, error_kind, error, duration_ms and then
// the payload columns.
type CSV[P any] struct {
	Columns []Column[P]
	Options Options
}

func (c *CSV[P]) Export(w io.Writer, rs executor.ResultSet[P]) error {
	cw := csv.NewWriter(w)
	if !c.Options.NoHeaders {
		header := []string{"host", "success", "state", "error_kind", "error", "duration_ms"}
		for _, col := range c.Columns {
			header = append(header, col.Header)
		}
		if err := cw.Write(header); err != nil {
			return err
		}
	}

	for _, r := range rs {
		kind := ""
		if !r.Success {
			kind = r.Kind.String()
		}
		row := []string{
			r.HostName,
			strconv.FormatBool(r.Success),
			r.State.String(),
			kind,
			r.Message,
			strconv.FormatInt(r.Duration().Milliseconds(), 10),
		}
		for _, col := range c.Columns {
			cell := ""
			if r.Success {
				cell = col.Value(r.Payload)
			}
			row = append(row, cell)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
